// Package metrics provides Prometheus metrics instrumentation for voltfleet.
//
// Metrics exposed:
//   - voltfleet_source_fetch_seconds: Histogram of fetch duration per source, retries included
//   - voltfleet_source_errors_total: Counter of failed fetches by source and reason
//   - voltfleet_retry_attempts_total: Counter of retries per source
//   - voltfleet_source_last_success_timestamp_seconds: Gauge of the last successful fetch
//   - voltfleet_fleet_vehicles: Gauge of vehicles in the current fleet snapshot
//   - voltfleet_advisories: Gauge of pending advisories by kind
//   - voltfleet_acknowledgements_total: Counter of user acknowledgements by kind
//   - voltfleet_mirror_errors_total: Counter of failed view mirror writes
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Advisory and acknowledgement kinds.
const (
	KindPredictions           = "predictions"
	KindConvoyRecommendations = "convoy_recommendations"
	KindConvoyPredictions     = "convoy_predictions"
	KindPredictionsCleared    = "predictions_cleared"
)

// Metrics holds all Prometheus metrics for voltfleet.
type Metrics struct {
	FetchSeconds       *prometheus.HistogramVec
	SourceErrorsTotal  *prometheus.CounterVec
	RetryAttemptsTotal *prometheus.CounterVec
	LastSuccess        *prometheus.GaugeVec
	FleetVehicles      prometheus.Gauge
	Advisories         *prometheus.GaugeVec
	Acknowledgements   *prometheus.CounterVec
	MirrorErrorsTotal  prometheus.Counter
}

// New creates all metrics and registers them with reg. A nil reg uses the
// default Prometheus registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		FetchSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voltfleet_source_fetch_seconds",
			Help:    "Time spent fetching from a data source, retries included",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),

		SourceErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voltfleet_source_errors_total",
			Help: "Total number of failed fetches by source and reason",
		}, []string{"source", "reason"}),

		RetryAttemptsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voltfleet_retry_attempts_total",
			Help: "Total number of retried fetch attempts by source",
		}, []string{"source"}),

		LastSuccess: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voltfleet_source_last_success_timestamp_seconds",
			Help: "Unix time of the last successful fetch by source",
		}, []string{"source"}),

		FleetVehicles: f.NewGauge(prometheus.GaugeOpts{
			Name: "voltfleet_fleet_vehicles",
			Help: "Number of vehicles in the current fleet snapshot",
		}),

		Advisories: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voltfleet_advisories",
			Help: "Number of pending advisories by kind",
		}, []string{"kind"}),

		Acknowledgements: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voltfleet_acknowledgements_total",
			Help: "Total number of acknowledged advisories by kind",
		}, []string{"kind"}),

		MirrorErrorsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "voltfleet_mirror_errors_total",
			Help: "Total number of failed view mirror writes",
		}),
	}
}

// RecordFetch records the duration of a fetch.
func (m *Metrics) RecordFetch(source string, d time.Duration) {
	m.FetchSeconds.WithLabelValues(source).Observe(d.Seconds())
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(source, reason string) {
	m.SourceErrorsTotal.WithLabelValues(source, reason).Inc()
}

// RecordRetry increments the retry counter.
func (m *Metrics) RecordRetry(source string) {
	m.RetryAttemptsTotal.WithLabelValues(source).Inc()
}

// SetLastSuccess sets the time of the last successful fetch.
func (m *Metrics) SetLastSuccess(source string, t time.Time) {
	m.LastSuccess.WithLabelValues(source).Set(float64(t.Unix()))
}

// SetFleetVehicles sets the current fleet size.
func (m *Metrics) SetFleetVehicles(n int) {
	m.FleetVehicles.Set(float64(n))
}

// SetAdvisories sets the number of pending advisories of a kind.
func (m *Metrics) SetAdvisories(kind string, n int) {
	m.Advisories.WithLabelValues(kind).Set(float64(n))
}

// RecordAcknowledgements adds n acknowledgements of a kind.
func (m *Metrics) RecordAcknowledgements(kind string, n int) {
	if n > 0 {
		m.Acknowledgements.WithLabelValues(kind).Add(float64(n))
	}
}

// RecordMirrorError increments the mirror error counter.
func (m *Metrics) RecordMirrorError() {
	m.MirrorErrorsTotal.Inc()
}
