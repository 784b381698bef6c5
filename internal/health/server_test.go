package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mahdimizabiself-rgb/Self/internal/metrics"
	"github.com/mahdimizabiself-rgb/Self/pkg/logx"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestLiveness(t *testing.T) {
	t.Parallel()
	s := New(":0", func(context.Context) error { return nil }, nil, logx.Nop())
	rec := get(t, s.Handler(), "/")
	if rec.Code != http.StatusOK || rec.Body.String() != "bot is running" {
		t.Fatalf("GET / = %d %q", rec.Code, rec.Body.String())
	}
}

func TestReadiness(t *testing.T) {
	t.Parallel()
	var err error
	s := New(":0", func(context.Context) error { return err }, nil, logx.Nop())

	if rec := get(t, s.Handler(), "/healthz"); rec.Code != http.StatusOK {
		t.Fatalf("ready /healthz = %d", rec.Code)
	}
	err = errors.New("store unreachable")
	if rec := get(t, s.Handler(), "/healthz"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unready /healthz = %d", rec.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	t.Parallel()
	sink := metrics.NewPrometheus()
	sink.RunnerStarted()
	s := New(":0", func(context.Context) error { return nil }, sink.Handler(), logx.Nop())

	rec := get(t, s.Handler(), "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "selfbot_runners_active") {
		t.Fatalf("metrics body missing gauge:\n%s", body)
	}
}
