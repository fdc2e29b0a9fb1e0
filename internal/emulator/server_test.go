package emulator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oriys/customruntime/internal/domain"
	"github.com/oriys/customruntime/internal/engine"
	"github.com/oriys/customruntime/internal/logging"
	"github.com/oriys/customruntime/internal/router"
	"github.com/oriys/customruntime/internal/runtimeapi"
	"github.com/oriys/customruntime/pkg/handler"
)

func helloRoutes(t *testing.T) *router.Router {
	t.Helper()
	r, err := router.FromTable(domain.RouteTable{
		"ANY": {{Pattern: "/hello", HandlerID: "EchoHandler"}},
		"GET": {{Pattern: "/items/:id", HandlerID: "ItemHandler"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return r
}

// startRuntime starts an emulator and a local engine with the given
// number of workers polling it.
func startRuntime(t *testing.T, routes *router.Router, reg *handler.Registry, workers int, cfg Config) *Server {
	t.Helper()
	cfg.Addr = "127.0.0.1:0"
	srv := New(cfg, routes)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	client, err := runtimeapi.NewClient(srv.Addr())
	if err != nil {
		t.Fatal(err)
	}
	eng := engine.New(client, reg, engine.Config{Local: true, Workers: workers, PollBackoff: 10 * time.Millisecond},
		engine.WithRequestLogger(logging.NewLogger(nil)),
		engine.WithFatalHandler(func(err error) { t.Errorf("fatal: %v", err) }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		eng.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
		srv.Stop(context.Background())
	})
	return srv
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestGateway_HelloEcho(t *testing.T) {
	events := make(chan domain.ProxyRequest, 1)
	reg := handler.NewRegistry()
	handler.RegisterFunc(reg, "EchoHandler", func(ctx context.Context, lc *handler.Context, in domain.ProxyRequest) (domain.ProxyResponse, error) {
		events <- in
		return domain.ProxyResponse{Body: `{"a":"b"}`}, nil
	})
	srv := startRuntime(t, helloRoutes(t), reg, 1, Config{})

	code, body := get(t, "http://"+srv.Addr()+"/hello")
	if code != http.StatusOK {
		t.Fatalf("status = %d, body %s", code, body)
	}
	if body != `{"body":"{\"a\":\"b\"}"}` {
		t.Errorf("body = %s", body)
	}
	seen := <-events
	if seen.Path != "/hello" || seen.HTTPMethod != "GET" {
		t.Errorf("event = %s %s", seen.HTTPMethod, seen.Path)
	}
	if seen.Body != nil {
		t.Errorf("GET event should have no body, got %q", *seen.Body)
	}
	if seen.RequestContext.Stage != "dev" || seen.RequestContext.RequestID == "" {
		t.Errorf("request context = %+v", seen.RequestContext)
	}
}

func TestGateway_ExecutionContextHeaders(t *testing.T) {
	contexts := make(chan handler.Context, 1)
	reg := handler.NewRegistry()
	handler.RegisterFunc(reg, "ItemHandler", func(ctx context.Context, lc *handler.Context, in domain.ProxyRequest) (domain.ProxyResponse, error) {
		contexts <- *lc
		return domain.ProxyResponse{Body: in.PathParameters["id"]}, nil
	})
	srv := startRuntime(t, helloRoutes(t), reg, 1, Config{ResponseTimeout: 5 * time.Second})

	_, body := get(t, "http://"+srv.Addr()+"/items/7")
	if body != `{"body":"7"}` {
		t.Errorf("body = %s", body)
	}
	lcSeen := <-contexts
	if lcSeen.InvokedFunctionARN != "arn:aws:lambda:local:000000000000:function:ItemHandler" {
		t.Errorf("ARN = %q", lcSeen.InvokedFunctionARN)
	}
	if lcSeen.RequestID == "" || lcSeen.Deadline.IsZero() {
		t.Errorf("context = %+v", lcSeen)
	}
}

func TestGateway_ConcurrentRequests(t *testing.T) {
	reg := handler.NewRegistry()
	handler.RegisterFunc(reg, "EchoHandler", func(ctx context.Context, lc *handler.Context, in domain.ProxyRequest) (domain.ProxyResponse, error) {
		time.Sleep(20 * time.Millisecond)
		return domain.ProxyResponse{Body: in.QueryStringParameters["n"]}, nil
	})
	srv := startRuntime(t, helloRoutes(t), reg, 2, Config{EnqueueTimeout: 5 * time.Second})

	var wg sync.WaitGroup
	results := make([]string, 3)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = get(t, fmt.Sprintf("http://%s/hello?n=%d", srv.Addr(), i))
		}(i)
	}
	wg.Wait()

	for i, got := range results {
		if want := fmt.Sprintf(`{"body":"%d"}`, i); got != want {
			t.Errorf("request %d got %s, want %s", i, got, want)
		}
	}
	if srv.Pending() != 0 {
		t.Errorf("pending = %d, want 0", srv.Pending())
	}
}

func TestGateway_HandlerErrorBody(t *testing.T) {
	reg := handler.NewRegistry()
	handler.RegisterFunc(reg, "EchoHandler", func(ctx context.Context, lc *handler.Context, in domain.ProxyRequest) (domain.ProxyResponse, error) {
		return domain.ProxyResponse{}, fmt.Errorf("bad input")
	})
	srv := startRuntime(t, helloRoutes(t), reg, 1, Config{})

	code, body := get(t, "http://"+srv.Addr()+"/hello")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var er domain.ErrorResponse
	if err := json.Unmarshal([]byte(body), &er); err != nil || er.ErrorMessage != "bad input" {
		t.Errorf("body = %s (%v)", body, err)
	}
}

func TestGateway_StaticAssetRejected(t *testing.T) {
	srv := New(Config{}, helloRoutes(t))
	for _, path := range []string{"/favicon.ico", "/app.js", "/styles/site.css"} {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, rec.Code)
		}
	}
}

func TestGateway_NoRoute(t *testing.T) {
	srv := New(Config{}, helloRoutes(t))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/items/1", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "no route") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestGateway_CapacityExhausted(t *testing.T) {
	srv := New(Config{EnqueueTimeout: 20 * time.Millisecond}, helloRoutes(t))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/hello", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if srv.Pending() != 0 {
		t.Errorf("rejected request left %d correlation entries", srv.Pending())
	}
}

func TestGateway_TimeoutSentinel(t *testing.T) {
	timeout := 100 * time.Millisecond
	srv := New(Config{ResponseTimeout: timeout}, helloRoutes(t))

	// A worker takes the invocation and never reports.
	go srv.queue.take(context.Background())

	start := time.Now()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/hello", nil))

	if elapsed := time.Since(start); elapsed < timeout {
		t.Errorf("sentinel returned after %v, before the %v deadline", elapsed, timeout)
	}
	if rec.Code != http.StatusOK || rec.Body.String() != TimeoutSentinel {
		t.Errorf("response = %d %q", rec.Code, rec.Body.String())
	}
}

func TestControl_NextAndResponse(t *testing.T) {
	srv := New(Config{}, helloRoutes(t))

	nextc := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/2018-06-01/runtime/invocation/next", nil))
		nextc <- rec
	}()

	gatewayc := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/hello?x=1", strings.NewReader(`{"k":1}`)))
		gatewayc <- rec
	}()

	next := <-nextc
	if next.Code != http.StatusOK {
		t.Fatalf("next status = %d", next.Code)
	}
	id := next.Header().Get(domain.HeaderRequestID)
	if id == "" || next.Header().Get(domain.HeaderLocalHandler) != "EchoHandler" {
		t.Fatalf("next headers = %v", next.Header())
	}
	var event domain.ProxyRequest
	if err := json.Unmarshal(next.Body.Bytes(), &event); err != nil {
		t.Fatal(err)
	}
	if event.Body == nil || *event.Body != `{"k":1}` || event.QueryStringParameters["x"] != "1" {
		t.Errorf("event = %+v", event)
	}

	// Unknown ids are ignored.
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/2018-06-01/runtime/invocation/unknown/response", strings.NewReader("x")))
	if rec.Code != http.StatusAccepted {
		t.Errorf("unknown id status = %d, want 202", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/2018-06-01/runtime/invocation/"+id+"/response", strings.NewReader(`"done"`)))
	if rec.Code != http.StatusAccepted {
		t.Errorf("response status = %d, want 202", rec.Code)
	}

	gw := <-gatewayc
	if gw.Code != http.StatusOK || gw.Body.String() != `"done"` {
		t.Errorf("gateway response = %d %s", gw.Code, gw.Body.String())
	}
	if ct := gw.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
}

func TestControl_InitError(t *testing.T) {
	srv := New(Config{}, nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/2018-06-01/runtime/init/error", strings.NewReader(`{"errorMessage":"x"}`)))
	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rec.Code)
	}
}

type brokenBody struct{ data string }

func (b *brokenBody) Read(p []byte) (int, error) {
	if b.data == "" {
		return 0, errors.New("connection reset")
	}
	n := copy(p, b.data)
	b.data = b.data[n:]
	return n, nil
}

func TestControl_InitErrorLogsReadFailure(t *testing.T) {
	var buf bytes.Buffer
	logging.InitStructuredTo(&buf, "json", "info")
	defer logging.InitStructured("text", "info")

	srv := New(Config{}, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/2018-06-01/runtime/init/error", &brokenBody{data: `{"errorMessage":`})
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rec.Code)
	}

	out := buf.String()
	if !strings.Contains(out, `"read_error":"connection reset"`) {
		t.Errorf("log should carry the read error, got %q", out)
	}
	if !strings.Contains(out, `{\"errorMessage\":`) {
		t.Errorf("log should carry the partial body, got %q", out)
	}
}

func TestServer_StopReleasesPollers(t *testing.T) {
	srv := New(Config{Addr: "127.0.0.1:0"}, helloRoutes(t))
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}

	codec := make(chan int, 1)
	go func() {
		resp, err := http.Get("http://" + srv.Addr() + "/2018-06-01/runtime/invocation/next")
		if err != nil {
			codec <- 0
			return
		}
		resp.Body.Close()
		codec <- resp.StatusCode
	}()

	time.Sleep(50 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := srv.Stop(ctx); err != nil {
		t.Errorf("second Stop: %v", err)
	}

	select {
	case code := <-codec:
		if code != http.StatusServiceUnavailable {
			t.Errorf("poller status = %d, want 503", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poller was not released")
	}

	if err := srv.Start(); err != ErrStopped {
		t.Errorf("Start after Stop = %v, want ErrStopped", err)
	}
}

func TestServer_StopBeforeStart(t *testing.T) {
	srv := New(Config{}, nil)
	if err := srv.Stop(context.Background()); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if err := srv.Stop(context.Background()); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestXrayTraceID(t *testing.T) {
	tp := "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	want := "Root=1-4bf92f35-77b34da6a3ce929d0e0e4736;Parent=00f067aa0ba902b7;Sampled=1"
	if got := xrayTraceID(tp); got != want {
		t.Errorf("xrayTraceID = %q, want %q", got, want)
	}
	if xrayTraceID("") != "" {
		t.Error("empty traceparent should give empty id")
	}
}
