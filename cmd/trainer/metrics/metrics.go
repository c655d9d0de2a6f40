// Package metrics exposes Prometheus instrumentation for training runs.
//
// Metrics exposed:
//   - agroyield_training_stage_seconds: duration of each pipeline stage and family
//   - agroyield_training_trials_total: hyperparameter trials evaluated per family
//   - agroyield_family_rmse / agroyield_family_r2: held-out scores per family
//   - agroyield_ensemble_weight: ensemble weight per family
//   - agroyield_ensemble_rmse / agroyield_ensemble_r2: held-out ensemble scores
//   - agroyield_training_runs_total: completed runs by outcome
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements training.Recorder.
type Metrics struct {
	StageSeconds   *prometheus.HistogramVec
	TrialsTotal    *prometheus.CounterVec
	FamilyRMSE     *prometheus.GaugeVec
	FamilyR2       *prometheus.GaugeVec
	EnsembleWeight *prometheus.GaugeVec
	EnsembleRMSE   prometheus.Gauge
	EnsembleR2     prometheus.Gauge
	RunsTotal      *prometheus.CounterVec
}

// New registers the trainer metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StageSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agroyield_training_stage_seconds",
			Help:    "Time spent in each training stage",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"stage"}),

		TrialsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agroyield_training_trials_total",
			Help: "Hyperparameter trials evaluated",
		}, []string{"family"}),

		FamilyRMSE: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agroyield_family_rmse",
			Help: "Held-out RMSE of the last trained model per family",
		}, []string{"family"}),

		FamilyR2: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agroyield_family_r2",
			Help: "Held-out R² of the last trained model per family",
		}, []string{"family"}),

		EnsembleWeight: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agroyield_ensemble_weight",
			Help: "Ensemble weight per family",
		}, []string{"family"}),

		EnsembleRMSE: f.NewGauge(prometheus.GaugeOpts{
			Name: "agroyield_ensemble_rmse",
			Help: "Held-out RMSE of the weighted ensemble",
		}),

		EnsembleR2: f.NewGauge(prometheus.GaugeOpts{
			Name: "agroyield_ensemble_r2",
			Help: "Held-out R² of the weighted ensemble",
		}),

		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agroyield_training_runs_total",
			Help: "Training runs by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) RecordStage(stage string, seconds float64) {
	m.StageSeconds.WithLabelValues(stage).Observe(seconds)
}

func (m *Metrics) RecordTrials(family string, n int) {
	m.TrialsTotal.WithLabelValues(family).Add(float64(n))
}

func (m *Metrics) SetFamilyScore(family string, rmse, r2 float64) {
	m.FamilyRMSE.WithLabelValues(family).Set(rmse)
	m.FamilyR2.WithLabelValues(family).Set(r2)
}

// SetEnsemble records the ensemble weights and held-out scores.
func (m *Metrics) SetEnsemble(weights map[string]float64, rmse, r2 float64) {
	for family, w := range weights {
		m.EnsembleWeight.WithLabelValues(family).Set(w)
	}
	m.EnsembleRMSE.Set(rmse)
	m.EnsembleR2.Set(r2)
}

// RecordRun counts a finished run; outcome is "success" or "failure".
func (m *Metrics) RecordRun(outcome string) {
	m.RunsTotal.WithLabelValues(outcome).Inc()
}
