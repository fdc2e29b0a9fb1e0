package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordFunctions_NoopBeforeInit(t *testing.T) {
	promMetrics = nil
	// None of these may panic without a registry.
	RecordInvocation("h", "structured", 1, true, true)
	RecordResolution("h")
	RecordInitError("not_found")
	RecordPollError("transport")
	IncActiveWorkers()
	DecActiveWorkers()
	RecordGatewayRequest("GET", 200)
	RecordHandoffRejection()
	RecordHandoffWait(time.Millisecond)
	RecordCorrelationTimeout()
	SetPendingCorrelations(3)

	if PrometheusRegistry() != nil {
		t.Error("registry should be nil before init")
	}

	rec := httptest.NewRecorder()
	PrometheusHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestRecordInvocation(t *testing.T) {
	InitPrometheus("test", nil)
	defer func() { promMetrics = nil }()

	RecordInvocation("EchoHandler", "structured", 12, true, true)
	RecordInvocation("EchoHandler", "structured", 3, false, true)
	RecordInvocation("EchoHandler", "structured", 3, false, false)

	if got := testutil.ToFloat64(promMetrics.invocationsTotal.WithLabelValues("EchoHandler", "structured", "success")); got != 2 {
		t.Errorf("success count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(promMetrics.invocationsTotal.WithLabelValues("EchoHandler", "structured", "failed")); got != 1 {
		t.Errorf("failed count = %v, want 1", got)
	}
}

func TestGatewayCounters(t *testing.T) {
	InitPrometheus("test", nil)
	defer func() { promMetrics = nil }()

	RecordGatewayRequest("GET", 200)
	RecordGatewayRequest("GET", 200)
	RecordGatewayRequest("POST", 503)
	RecordHandoffRejection()
	RecordCorrelationTimeout()
	SetPendingCorrelations(4)
	IncActiveWorkers()
	IncActiveWorkers()
	DecActiveWorkers()

	if got := testutil.ToFloat64(promMetrics.gatewayRequestsTotal.WithLabelValues("GET", "200")); got != 2 {
		t.Errorf("GET 200 = %v, want 2", got)
	}
	if got := testutil.ToFloat64(promMetrics.handoffRejectionsTotal); got != 1 {
		t.Errorf("rejections = %v, want 1", got)
	}
	if got := testutil.ToFloat64(promMetrics.pendingCorrelations); got != 4 {
		t.Errorf("pending = %v, want 4", got)
	}
	if got := testutil.ToFloat64(promMetrics.activeWorkers); got != 1 {
		t.Errorf("active workers = %v, want 1", got)
	}
}

func TestPrometheusHandler_Exposes(t *testing.T) {
	InitPrometheus("customruntime", nil)
	defer func() { promMetrics = nil }()

	RecordInitError("not_found")

	rec := httptest.NewRecorder()
	PrometheusHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`customruntime_init_errors_total{reason="not_found"} 1`,
		"customruntime_uptime_seconds",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
