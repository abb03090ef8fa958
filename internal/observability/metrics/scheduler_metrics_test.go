package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSchedulerMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSchedulerMetrics(reg)

	at := time.Date(2024, 11, 2, 0, 0, 0, 0, time.UTC)
	m.ObserveTick(at, time.Second, nil)
	m.ObserveTick(at, time.Second, errors.New("db down"))
	m.IncOutcome("generated")
	m.IncOutcome("generated")
	m.SetDue(3)
	m.AddSwept(1, 2)

	if got := testutil.ToFloat64(m.ticks.WithLabelValues("success")); got != 1 {
		t.Errorf("success ticks = %v", got)
	}
	if got := testutil.ToFloat64(m.ticks.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed ticks = %v", got)
	}
	if got := testutil.ToFloat64(m.templates.WithLabelValues("generated")); got != 2 {
		t.Errorf("generated = %v", got)
	}
	if got := testutil.ToFloat64(m.dueTemplates); got != 3 {
		t.Errorf("due = %v", got)
	}
	if got := testutil.ToFloat64(m.sweptNumbers.WithLabelValues("deleted")); got != 2 {
		t.Errorf("deleted = %v", got)
	}
	if got := testutil.ToFloat64(m.lastTickUnixTS); got != float64(at.Unix()) {
		t.Errorf("last tick = %v", got)
	}
}

func TestSchedulerMetrics_NilSafe(t *testing.T) {
	var m *SchedulerMetrics
	m.ObserveTick(time.Now(), time.Second, nil)
	m.IncOutcome("generated")
	m.SetDue(1)
	m.AddSwept(1, 1)
}

func TestHandler(t *testing.T) {
	reg := NewRegistry()
	NewSchedulerMetrics(reg).IncOutcome("failed")

	rr := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `recurring_templates_processed_total{outcome="failed"} 1`) {
		t.Errorf("metric missing from output")
	}
}
