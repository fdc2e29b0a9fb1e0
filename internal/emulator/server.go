// Package emulator is a local stand-in for the runtime API. Its public
// surface accepts plain HTTP requests, routes them to a handler id and
// hands them to polling workers as API Gateway proxy events; its control
// surface is the runtime API the workers poll and report to.
package emulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oriys/customruntime/internal/awsenv"
	"github.com/oriys/customruntime/internal/domain"
	"github.com/oriys/customruntime/internal/logging"
	"github.com/oriys/customruntime/internal/metrics"
	"github.com/oriys/customruntime/internal/observability"
	"github.com/oriys/customruntime/internal/router"
)

const defaultBodyLimit = 6 << 20 // 6MB, the synchronous invocation payload limit

var staticAsset = regexp.MustCompile(`\.\w{2,4}$`)

// Control surface handler ids.
const (
	controlNext      = "next"
	controlResponse  = "response"
	controlError     = "error"
	controlInitError = "init-error"
)

// Config holds emulator settings.
type Config struct {
	Addr            string
	EnqueueTimeout  time.Duration
	ResponseTimeout time.Duration
	Region          string
}

// Server is the local gateway emulator.
type Server struct {
	cfg     Config
	routes  *router.Router
	control *router.Router

	queue   *handoff
	pending *correlations

	mu         sync.Mutex
	started    bool
	listener   net.Listener
	httpServer *http.Server

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates an emulator serving routes. Zero timeouts take the
// defaults of 1s to enqueue and 30s to respond.
func New(cfg Config, routes *router.Router) *Server {
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = time.Second
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = 30 * time.Second
	}
	if cfg.Region == "" {
		cfg.Region = "local"
	}
	if routes == nil {
		routes = router.New()
	}

	control := router.New()
	if err := control.Group(domain.RuntimeAPIVersion+"/runtime", func(g *router.Group) {
		g.Group("invocation", func(g *router.Group) {
			g.Get("next", controlNext)
			g.Post(":requestId/response", controlResponse)
			g.Post(":requestId/error", controlError)
		})
		g.Post("init/error", controlInitError)
	}); err != nil {
		panic(fmt.Sprintf("emulator control routes: %v", err))
	}

	stop := make(chan struct{})
	return &Server{
		cfg:     cfg,
		routes:  routes,
		control: control,
		queue:   newHandoff(stop),
		pending: newCorrelations(),
		stop:    stop,
	}
}

// Start listens on cfg.Addr and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	select {
	case <-s.stop:
		return ErrStopped
	default:
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           observability.HTTPMiddleware(s),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.started = true

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			logging.Op().Error("gateway emulator serve failed", "error", err)
		}
	}()

	logging.Op().Info("gateway emulator started", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound listen address, or the configured one before
// Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// Stop releases blocked pollers and waiting requests, then shuts the
// HTTP server down. It is safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stop)

		s.mu.Lock()
		srv := s.httpServer
		s.mu.Unlock()
		if srv != nil {
			err = srv.Shutdown(ctx)
			logging.Op().Info("gateway emulator stopped")
		}
	})
	return err
}

// Pending returns the number of public requests awaiting a result.
func (s *Server) Pending() int {
	return s.pending.len()
}

// ServeHTTP dispatches control surface paths to the runtime API handlers
// and everything else to the public gateway.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if m, ok := s.control.Match(r.Method, r.URL.Path); ok {
		switch m.HandlerID {
		case controlNext:
			s.handleNext(w, r)
		case controlResponse, controlError:
			s.handleResult(w, r, m.Params["requestId"], m.HandlerID)
		case controlInitError:
			s.handleInitError(w, r)
		}
		return
	}
	s.handleGateway(w, r)
}

func (s *Server) handleGateway(w http.ResponseWriter, r *http.Request) {
	rec := &codeRecorder{ResponseWriter: w, code: http.StatusOK}
	defer func() { metrics.RecordGatewayRequest(r.Method, rec.code) }()
	w = rec

	if staticAsset.MatchString(r.URL.Path) {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	match, ok := s.routes.Match(r.Method, r.URL.Path)
	if !ok {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path))
		return
	}

	var body *string
	if hasBody(r.Method) {
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, defaultBodyLimit))
		if err != nil {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		str := string(data)
		body = &str
	}

	requestID := uuid.NewString()
	event, err := json.Marshal(proxyEvent(r, requestID, match, body))
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "encode event: "+err.Error())
		return
	}

	log := logging.OpWithTrace(observability.TraceID(r.Context()), observability.SpanID(r.Context())).With("request_id", requestID)
	log.Info("incoming event", "method", r.Method, "path", r.URL.Path, "handler", match.HandlerID)

	e := s.pending.insert(requestID)
	p := &pendingInvocation{
		requestID: requestID,
		handlerID: match.HandlerID,
		event:     event,
		trace:     observability.CurrentTraceContext(r.Context()),
		enqueued:  time.Now(),
	}
	if err := s.queue.offer(p, s.cfg.EnqueueTimeout); err != nil {
		s.pending.remove(requestID)
		if errors.Is(err, ErrCapacityExhausted) {
			metrics.RecordHandoffRejection()
			log.Warn("no worker accepted invocation", "timeout", s.cfg.EnqueueTimeout)
		}
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	result, completed := s.pending.wait(requestID, e, s.cfg.ResponseTimeout, s.stop)
	if !completed {
		select {
		case <-s.stop:
			writeJSONError(w, http.StatusServiceUnavailable, ErrStopped.Error())
			return
		default:
		}
		metrics.RecordCorrelationTimeout()
		log.Warn("invocation timed out", "timeout", s.cfg.ResponseTimeout)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(result)
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	p, err := s.queue.take(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	metrics.RecordHandoffWait(time.Since(p.enqueued))

	deadline := time.Now().Add(s.cfg.ResponseTimeout)
	h := w.Header()
	h.Set(domain.HeaderRequestID, p.requestID)
	h.Set(domain.HeaderDeadlineMs, strconv.FormatInt(deadline.UnixMilli(), 10))
	h.Set(domain.HeaderInvokedFunctionARN, awsenv.FunctionARN(s.cfg.Region, awsenv.LocalAccountID, p.handlerID))
	h.Set(domain.HeaderLocalHandler, p.handlerID)
	if tid := xrayTraceID(p.trace.TraceParent); tid != "" {
		h.Set(domain.HeaderTraceID, tid)
	}
	p.trace.SetHeaders(h)
	h.Set("Content-Type", "application/json")

	logging.Op().Info("processing with handler", "request_id", p.requestID, "handler", p.handlerID)
	w.WriteHeader(http.StatusOK)
	w.Write(p.event)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request, requestID, kind string) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, defaultBodyLimit))
	if err != nil {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "result body too large")
		return
	}
	if s.pending.complete(requestID, body) {
		logging.Op().Info("handler reported "+kind, "request_id", requestID)
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleInitError(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, defaultBodyLimit))
	if err != nil {
		logging.Op().Error("runtime reported init error", "body", string(body), "read_error", err)
	} else {
		logging.Op().Error("runtime reported init error", "body", string(body))
	}
	w.WriteHeader(http.StatusAccepted)
}

// xrayTraceID converts a W3C traceparent into the Root= form the runtime
// API uses for Lambda-Runtime-Trace-Id.
func xrayTraceID(traceparent string) string {
	// 00-<32 hex trace id>-<16 hex span id>-<flags>
	if len(traceparent) < 55 {
		return ""
	}
	tid := traceparent[3:35]
	return "Root=1-" + tid[:8] + "-" + tid[8:] + ";Parent=" + traceparent[36:52] + ";Sampled=1"
}

type codeRecorder struct {
	http.ResponseWriter
	code int
}

func (r *codeRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
