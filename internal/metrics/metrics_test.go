package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.AuthAttempts.WithLabelValues("jwt", Result(nil)).Inc()
	m.AuthAttempts.WithLabelValues("jwt", Result(errors.New("x"))).Add(2)

	if got := testutil.ToFloat64(m.AuthAttempts.WithLabelValues("jwt", "failure")); got != 2 {
		t.Errorf("failure count = %v, want 2", got)
	}
	if n := testutil.CollectAndCount(m.AuthAttempts); n != 2 {
		t.Errorf("series = %d, want 2", n)
	}
}

func TestNew_NilRegisterer(t *testing.T) {
	m := New(nil)
	m.StoreRetries.Inc()
	if got := testutil.ToFloat64(m.StoreRetries); got != 1 {
		t.Errorf("StoreRetries = %v", got)
	}
}

func TestInstrument(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	h := m.Instrument(nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/auth/verify", nil))

	if got := testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/auth/verify", "418")); got != 1 {
		t.Errorf("requests = %v, want 1", got)
	}

	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(w.Body.String(), "http_requests_total") {
		t.Error("metrics output missing http_requests_total")
	}
}
