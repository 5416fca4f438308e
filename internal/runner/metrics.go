package runner

import (
	"time"

	"github.com/maltedev/asin-availability/internal/models"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the Prometheus collectors of the availability checker.
type Metrics struct {
	Registry        *prometheus.Registry
	ChecksTotal     *prometheus.CounterVec
	CheckDuration   prometheus.Histogram
	PersistFailures prometheus.Counter
	DroppedEvents   prometheus.Counter
	RunsTotal       *prometheus.CounterVec
}

// NewMetrics registers all collectors on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	checks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "availability_checks_total",
			Help: "Total ASIN checks by result status.",
		},
		[]string{"status"},
	)
	checkDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "availability_check_duration_seconds",
			Help:    "Time spent loading and classifying one listing.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45, 60},
		},
	)
	persistFailures := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "availability_persist_failures_total",
			Help: "Outcomes that could not be written to the ingestion table.",
		},
	)
	dropped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "availability_progress_events_dropped_total",
			Help: "Progress events skipped because a subscriber buffer was full.",
		},
	)
	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "availability_runs_total",
			Help: "Finished runs by result.",
		},
		[]string{"result"},
	)

	registry.MustRegister(checks, checkDuration, persistFailures, dropped, runs)

	return &Metrics{
		Registry:        registry,
		ChecksTotal:     checks,
		CheckDuration:   checkDuration,
		PersistFailures: persistFailures,
		DroppedEvents:   dropped,
		RunsTotal:       runs,
	}
}

// ObserveCheck records one finished check
func (m *Metrics) ObserveCheck(status models.CheckStatus, d time.Duration) {
	if m == nil {
		return
	}
	m.ChecksTotal.WithLabelValues(status.String()).Inc()
	m.CheckDuration.Observe(d.Seconds())
}

// IncPersistFailure counts an outcome that could not be stored
func (m *Metrics) IncPersistFailure() {
	if m == nil {
		return
	}
	m.PersistFailures.Inc()
}

// IncDroppedEvent is meant to be handed to progress.Hub.OnDrop.
func (m *Metrics) IncDroppedEvent() {
	if m == nil {
		return
	}
	m.DroppedEvents.Inc()
}

// IncRun counts a finished run by result
func (m *Metrics) IncRun(result string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(result).Inc()
}
