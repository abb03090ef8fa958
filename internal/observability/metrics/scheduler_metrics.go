// Package metrics defines the Prometheus collectors exported by the server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulerMetrics tracks the recurring invoice scheduler. A nil receiver is
// valid and records nothing.
type SchedulerMetrics struct {
	ticks          *prometheus.CounterVec
	tickDuration   prometheus.Histogram
	dueTemplates   prometheus.Gauge
	templates      *prometheus.CounterVec
	sweptNumbers   *prometheus.CounterVec
	lastTickUnixTS prometheus.Gauge
}

func NewSchedulerMetrics(registerer prometheus.Registerer) *SchedulerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	ticks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recurring_scheduler_ticks_total",
			Help: "Scheduler passes by result.",
		},
		[]string{"result"}, // success | failed
	)
	tickDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "recurring_scheduler_tick_duration_seconds",
			Help:    "Wall time of one scheduler pass.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
	)
	dueTemplates := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "recurring_scheduler_due_templates",
			Help: "Templates found due by the latest pass.",
		},
	)
	templates := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recurring_templates_processed_total",
			Help: "Recurring templates processed by outcome.",
		},
		[]string{"outcome"}, // generated | completed | failed | skipped | busy
	)
	sweptNumbers := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoice_number_reservations_swept_total",
			Help: "Stale invoice number reservations settled by the sweeper.",
		},
		[]string{"result"}, // committed | deleted
	)
	lastTick := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "recurring_scheduler_last_tick_timestamp_seconds",
			Help: "Unix time of the latest completed pass.",
		},
	)

	registerer.MustRegister(ticks, tickDuration, dueTemplates, templates, sweptNumbers, lastTick)

	return &SchedulerMetrics{
		ticks:          ticks,
		tickDuration:   tickDuration,
		dueTemplates:   dueTemplates,
		templates:      templates,
		sweptNumbers:   sweptNumbers,
		lastTickUnixTS: lastTick,
	}
}

func (m *SchedulerMetrics) ObserveTick(at time.Time, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failed"
	}
	m.ticks.WithLabelValues(result).Inc()
	m.tickDuration.Observe(d.Seconds())
	m.lastTickUnixTS.Set(float64(at.Unix()))
}

func (m *SchedulerMetrics) SetDue(n int) {
	if m == nil {
		return
	}
	m.dueTemplates.Set(float64(n))
}

func (m *SchedulerMetrics) IncOutcome(outcome string) {
	if m == nil {
		return
	}
	m.templates.WithLabelValues(outcome).Inc()
}

func (m *SchedulerMetrics) AddSwept(committed, deleted int64) {
	if m == nil {
		return
	}
	m.sweptNumbers.WithLabelValues("committed").Add(float64(committed))
	m.sweptNumbers.WithLabelValues("deleted").Add(float64(deleted))
}
