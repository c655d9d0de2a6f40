// Package metrics exposes Prometheus instrumentation for the yield server.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/HatiCode/agroyield/pkg/errs"
)

// Metrics implements analysis.Recorder and provides an httpx.Observer.
type Metrics struct {
	RequestSeconds   *prometheus.HistogramVec
	PredictedRows    *prometheus.CounterVec
	StageSeconds     *prometheus.HistogramVec
	AnalysisOutcomes *prometheus.CounterVec
	ModelsLoaded     prometheus.Gauge
	ReloadsTotal     *prometheus.CounterVec
}

// New registers the server metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agroyield_http_request_seconds",
			Help:    "HTTP request latency by route and status code",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "code"}),

		PredictedRows: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agroyield_predicted_rows_total",
			Help: "Records scored, by model selection",
		}, []string{"model"}),

		StageSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agroyield_analysis_stage_seconds",
			Help:    "Time spent in each analysis stage",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),

		AnalysisOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agroyield_analysis_outcomes_total",
			Help: "Analysis step outcomes by stage and status",
		}, []string{"stage", "status"}),

		ModelsLoaded: f.NewGauge(prometheus.GaugeOpts{
			Name: "agroyield_models_loaded",
			Help: "1 when an artifact set is installed, 0 otherwise",
		}),

		ReloadsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agroyield_artifact_reloads_total",
			Help: "Artifact reloads by outcome",
		}, []string{"outcome"}),
	}
}

// ObserveRequest matches httpx.Observer.
func (m *Metrics) ObserveRequest(route string, status int, elapsed time.Duration) {
	m.RequestSeconds.WithLabelValues(route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

func (m *Metrics) RecordPrediction(model string, rows int) {
	m.PredictedRows.WithLabelValues(model).Add(float64(rows))
}

func (m *Metrics) RecordStage(stage string, seconds float64) {
	m.StageSeconds.WithLabelValues(stage).Observe(seconds)
}

func (m *Metrics) RecordOutcome(stage string, status errs.Status) {
	m.AnalysisOutcomes.WithLabelValues(stage, string(status)).Inc()
}

// RecordReload counts a reload and updates the loaded gauge.
func (m *Metrics) RecordReload(ok, ready bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.ReloadsTotal.WithLabelValues(outcome).Inc()
	if ready {
		m.ModelsLoaded.Set(1)
	} else {
		m.ModelsLoaded.Set(0)
	}
}
