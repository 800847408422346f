package metrics

import (
	"net/http"
	"time"

	"github.com/nholik/servo/internal/check"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps Prometheus collectors for servo.
type Metrics struct {
	registry             *prometheus.Registry
	checkRunsTotal       *prometheus.CounterVec
	checkDurationSeconds *prometheus.HistogramVec
	cycleDurationSeconds prometheus.Histogram
	haltsTotal           *prometheus.CounterVec
	checkErrorsTotal     *prometheus.CounterVec
	requiredFailing      *prometheus.GaugeVec
	lastCheckCycleGauge  prometheus.Gauge
}

// New initializes a Metrics registry with all collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		checkRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "servo_check_runs_total",
			Help: "Total check executions by connector, check id and result.",
		}, []string{"connector", "check", "result"}),
		checkDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "servo_check_duration_seconds",
			Help:    "Duration of individual checks in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"connector"}),
		cycleDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "servo_check_cycle_duration_seconds",
			Help:    "Duration of check cycles in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		haltsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "servo_check_halts_total",
			Help: "Total check runs stopped early by the halt policy.",
		}, []string{"connector"}),
		checkErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "servo_check_errors_total",
			Help: "Total check runs aborted by an error.",
		}, []string{"connector"}),
		requiredFailing: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "servo_required_checks_failing",
			Help: "Required checks failing in the latest run by connector.",
		}, []string{"connector"}),
		lastCheckCycleGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "servo_last_check_cycle_timestamp",
			Help: "Unix timestamp of the last completed check cycle.",
		}),
	}

	registry.MustRegister(
		m.checkRunsTotal,
		m.checkDurationSeconds,
		m.cycleDurationSeconds,
		m.haltsTotal,
		m.checkErrorsTotal,
		m.requiredFailing,
		m.lastCheckCycleGauge,
	)

	return m
}

// Handler returns a Prometheus HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveResults records every result of a connector run.
func (m *Metrics) ObserveResults(connector string, results []check.Result) {
	if m == nil {
		return
	}
	required := 0
	for _, r := range results {
		m.checkRunsTotal.WithLabelValues(connector, r.ID, r.Status()).Inc()
		if r.Runtime != nil {
			m.checkDurationSeconds.WithLabelValues(connector).Observe(r.Runtime.Std().Seconds())
		}
		if r.Required && r.Failed() {
			required++
		}
	}
	m.requiredFailing.WithLabelValues(connector).Set(float64(required))
}

// IncHalts increments the halt counter for the given connector.
func (m *Metrics) IncHalts(connector string) {
	if m == nil {
		return
	}
	m.haltsTotal.WithLabelValues(connector).Inc()
}

// IncCheckErrors increments the aborted run counter for the given connector.
func (m *Metrics) IncCheckErrors(connector string) {
	if m == nil {
		return
	}
	m.checkErrorsTotal.WithLabelValues(connector).Inc()
}

// ObserveCycleDuration records the duration of a completed cycle.
func (m *Metrics) ObserveCycleDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.cycleDurationSeconds.Observe(duration.Seconds())
}

// SetLastCheckCycleTimestamp sets the last completed cycle time.
func (m *Metrics) SetLastCheckCycleTimestamp(t time.Time) {
	if m == nil {
		return
	}
	m.lastCheckCycleGauge.Set(float64(t.Unix()))
}
