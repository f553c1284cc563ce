package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics counts reminder scheduling and dispatch outcomes. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	scheduled   prometheus.Counter
	skipped     prometheus.Counter
	canceled    prometheus.Counter
	schedFailed prometheus.Counter
	dispatched  *prometheus.CounterVec
	lag         prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		scheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskminder",
			Name:      "reminders_scheduled_total",
			Help:      "Reminder jobs inserted into the job store.",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskminder",
			Name:      "reminders_skipped_total",
			Help:      "Task events whose deadline was not in the future.",
		}),
		canceled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskminder",
			Name:      "reminders_canceled_total",
			Help:      "Pending reminder jobs removed before dispatch.",
		}),
		schedFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskminder",
			Name:      "reminders_scheduling_failures_total",
			Help:      "Scheduler calls that failed because the job store was unavailable.",
		}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskminder",
			Name:      "reminders_dispatched_total",
			Help:      "Reminder jobs that reached a terminal dispatch state.",
		}, []string{"state"}),
		lag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "taskminder",
			Name:      "reminder_dispatch_lag_seconds",
			Help:      "Delay between a job's fire time and its dequeue.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 15, 60, 300},
		}),
	}
	reg.MustRegister(
		m.scheduled, m.skipped, m.canceled, m.schedFailed, m.dispatched, m.lag,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Scheduled() {
	if m != nil {
		m.scheduled.Inc()
	}
}

func (m *Metrics) Skipped() {
	if m != nil {
		m.skipped.Inc()
	}
}

func (m *Metrics) Canceled() {
	if m != nil {
		m.canceled.Inc()
	}
}

func (m *Metrics) SchedulingFailed() {
	if m != nil {
		m.schedFailed.Inc()
	}
}

func (m *Metrics) Dispatched(state string, lagSeconds float64) {
	if m == nil {
		return
	}
	m.dispatched.WithLabelValues(state).Inc()
	if lagSeconds >= 0 {
		m.lag.Observe(lagSeconds)
	}
}
