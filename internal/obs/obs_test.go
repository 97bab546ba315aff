package obs

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"matrixbridge/internal/cache"
	"matrixbridge/internal/controller"
	"matrixbridge/internal/display"
	"matrixbridge/internal/ircclient"
)

// NewMetrics registers on the default Prometheus registry, which refuses a
// second registration of the same collectors, so the tests share one set.
var testMetrics = NewMetrics()

func newTestController(t *testing.T) *controller.Controller {
	t.Helper()
	c := cache.New(t.TempDir(), 1)
	dc := display.New("http://127.0.0.1:1")
	irc := ircclient.New("127.0.0.1:1", false)
	return controller.New(controller.Config{}, irc, dc, c)
}

func TestHealthzReportsState(t *testing.T) {
	ctl := newTestController(t)
	m := testMetrics
	srv := NewServer(ctl, m)

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["state"] != "Off" {
		t.Errorf("state = %v, want Off", body["state"])
	}
}

func TestMetricsEndpointExposesPrometheusFormat(t *testing.T) {
	ctl := newTestController(t)
	m := testMetrics
	srv := NewServer(ctl, m)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Error("expected non-empty metrics body")
	}
}
