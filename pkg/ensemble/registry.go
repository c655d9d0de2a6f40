package ensemble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/HatiCode/agroyield/pkg/errs"
	"github.com/HatiCode/agroyield/pkg/features"
	"github.com/HatiCode/agroyield/pkg/models"
	"github.com/HatiCode/agroyield/pkg/storage"
	"github.com/HatiCode/agroyield/pkg/training"
)

// Artifact names.
const (
	ArtifactScaler         = "scaler"
	ArtifactFeatureColumns = "feature_columns"
	ArtifactWeights        = "ensemble_weights"
	ArtifactMetrics        = "metrics"
)

// ModelArtifact returns the artifact name of a family's fitted model.
func ModelArtifact(f models.Family) string {
	return "model_" + string(f)
}

// Scores is a held-out evaluation.
type Scores struct {
	RMSE   float64 `json:"rmse"`
	R2     float64 `json:"r2"`
	CVRMSE float64 `json:"cv_rmse,omitempty"`
	Params any     `json:"params,omitempty"`
}

// Metrics is the persisted training report.
type Metrics struct {
	TrainedAt time.Time                `json:"trained_at"`
	Cutoff    time.Time                `json:"cutoff"`
	TrainRows int                      `json:"train_rows"`
	TestRows  int                      `json:"test_rows"`
	Families  map[models.Family]Scores `json:"families"`
	Ensemble  Scores                   `json:"ensemble"`
	Best      models.Family            `json:"best"`
}

// Selection describes how Predict picks models. It is fixed when an
// artifact set is installed.
type Selection struct {
	// Ensemble lists the loaded families that carry weight, in priority
	// order. Empty when no weights are loaded.
	Ensemble []models.Family `json:"ensemble"`
	// Single is the family used when the ensemble is not requested or not
	// available: the best-RMSE family if known and loaded, otherwise the
	// first loaded family in priority order.
	Single models.Family `json:"single"`
}

type modelSet struct {
	scaler    *models.Scaler
	columns   []string
	models    map[models.Family]models.Regressor
	weights   Weights
	selection Selection
}

// Registry persists artifact sets to a Store and serves predictions from
// the set currently installed. One writer and many concurrent readers are
// supported.
type Registry struct {
	store   storage.Store
	builder *features.Builder
	logger  *slog.Logger

	mu  sync.RWMutex
	set *modelSet
}

func NewRegistry(store storage.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{store: store, builder: features.NewBuilder(), logger: logger}
}

// Save writes every artifact of a training run. Each artifact is written
// independently: a failure is collected and the remaining artifacts are
// still attempted. The trained set is installed for Predict either way.
func (r *Registry) Save(ctx context.Context, res *training.Result, sum Summary) error {
	var failures []error
	put := func(name string, v any) {
		data, err := encode(v)
		if err == nil {
			err = r.store.Put(ctx, name, data)
		}
		if err != nil {
			r.logger.Error("failed to persist artifact", "artifact", name, "error", err)
			failures = append(failures, errs.Persistence(err, name))
			return
		}
		r.logger.Debug("persisted artifact", "artifact", name, "bytes", len(data))
	}

	put(ArtifactScaler, res.Scaler)
	put(ArtifactFeatureColumns, res.FeatureColumns)
	loaded := make(map[models.Family]models.Regressor, len(res.Handles))
	for _, h := range res.Handles {
		put(ModelArtifact(h.Family), h.Model)
		loaded[h.Family] = h.Model
	}
	put(ArtifactWeights, sum.Weights)
	put(ArtifactMetrics, newMetrics(res, sum))

	r.install(&modelSet{
		scaler:  res.Scaler,
		columns: slices.Clone(res.FeatureColumns),
		models:  loaded,
		weights: sum.Weights,
	}, sum.Best)

	if len(failures) > 0 {
		return errors.Join(failures...)
	}
	r.logger.Info("saved artifact set", "families", len(res.Handles))
	return nil
}

func newMetrics(res *training.Result, sum Summary) Metrics {
	m := Metrics{
		TrainedAt: res.TrainedAt,
		Cutoff:    res.Cutoff,
		TrainRows: res.TrainRows,
		TestRows:  res.TestRows,
		Families:  make(map[models.Family]Scores, len(res.Handles)),
		Ensemble:  Scores{RMSE: sum.RMSE, R2: sum.R2},
		Best:      sum.Best,
	}
	for _, h := range res.Handles {
		m.Families[h.Family] = Scores{RMSE: h.RMSE, R2: h.R2, CVRMSE: h.CVScore, Params: h.Params}
	}
	return m
}

// Load reads an artifact set from the store and installs it. The scaler and
// the feature columns are required. Model artifacts are optional one by one:
// a missing or unreadable model is logged and skipped. At least one model
// must load.
func (r *Registry) Load(ctx context.Context) error {
	set := &modelSet{models: make(map[models.Family]models.Regressor)}

	scaler := &models.Scaler{}
	if err := r.read(ctx, ArtifactScaler, scaler, true); err != nil {
		return err
	}
	set.scaler = scaler
	if err := r.read(ctx, ArtifactFeatureColumns, &set.columns, true); err != nil {
		return err
	}
	if len(set.columns) != len(scaler.Mean) {
		return errs.Persistence(fmt.Errorf("scaler has %d columns, feature list has %d",
			len(scaler.Mean), len(set.columns)), ArtifactFeatureColumns)
	}

	for _, f := range models.Families {
		m, err := r.readModel(ctx, f)
		if err != nil {
			r.logger.Warn("skipping model artifact", "family", f, "error", err)
			continue
		}
		if m != nil {
			set.models[f] = m
		}
	}
	if len(set.models) == 0 {
		return errs.ModelNotTrained()
	}

	if err := r.read(ctx, ArtifactWeights, &set.weights, false); err != nil {
		r.logger.Warn("ignoring ensemble weights", "error", err)
		set.weights = nil
	}
	var metrics Metrics
	if err := r.read(ctx, ArtifactMetrics, &metrics, false); err != nil {
		r.logger.Warn("ignoring training metrics", "error", err)
	}

	sel := r.install(set, metrics.Best)
	r.logger.Info("loaded artifact set",
		"families", len(set.models),
		"ensemble", len(sel.Ensemble),
		"single", sel.Single,
	)
	return nil
}

// read decodes artifact name into v. A missing artifact is an error only
// when required.
func (r *Registry) read(ctx context.Context, name string, v any, required bool) error {
	data, found, err := r.store.Get(ctx, name)
	if err != nil {
		return errs.Persistence(err, name)
	}
	if !found {
		if required {
			return errs.New(errs.CodeModelNotTrained, "artifact %q not found", name)
		}
		return nil
	}
	if err := decode(data, v); err != nil {
		return errs.Persistence(err, name)
	}
	return nil
}

func (r *Registry) readModel(ctx context.Context, f models.Family) (models.Regressor, error) {
	name := ModelArtifact(f)
	data, found, err := r.store.Get(ctx, name)
	if err != nil {
		return nil, errs.Persistence(err, name)
	}
	if !found {
		return nil, nil
	}
	raw, err := decompress(data)
	if err != nil {
		return nil, errs.Persistence(err, name)
	}
	m, err := models.Decode(f, raw)
	if err != nil {
		return nil, errs.Persistence(err, name)
	}
	return m, nil
}

// install computes the selection for set and swaps it in.
func (r *Registry) install(set *modelSet, best models.Family) Selection {
	var sel Selection
	for _, f := range models.Families {
		if _, ok := set.models[f]; !ok {
			continue
		}
		if set.weights[f] > 0 {
			sel.Ensemble = append(sel.Ensemble, f)
		}
		if sel.Single == "" {
			sel.Single = f
		}
	}
	if _, ok := set.models[best]; ok {
		sel.Single = best
	}
	set.selection = sel

	r.mu.Lock()
	r.set = set
	r.mu.Unlock()
	return sel
}

// Selection returns the current selection and whether a set is installed.
func (r *Registry) Selection() (Selection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.set == nil {
		return Selection{}, false
	}
	return r.set.selection, true
}

// Ready reports whether Predict can serve.
func (r *Registry) Ready() bool {
	_, ok := r.Selection()
	return ok
}

// EnsembleModel is the model name PredictWithModel reports for a weighted
// combination.
const EnsembleModel = "ensemble"

// Predict engineers features for records, scales them with the persisted
// scaler over the persisted columns, and predicts one yield per record in
// input order. With useEnsemble and loaded weights it returns the weighted
// combination; otherwise the single selected family answers.
func (r *Registry) Predict(ctx context.Context, records []features.Record, useEnsemble bool) ([]float64, error) {
	preds, _, err := r.PredictWithModel(ctx, records, useEnsemble)
	return preds, err
}

// PredictWithModel is Predict that also names the model that answered,
// EnsembleModel or a family. Both come from the same loaded set, so a
// concurrent reload cannot split them.
func (r *Registry) PredictWithModel(ctx context.Context, records []features.Record, useEnsemble bool) ([]float64, string, error) {
	r.mu.RLock()
	set := r.set
	r.mu.RUnlock()
	if set == nil {
		return nil, "", errs.ModelNotTrained()
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	table, err := r.builder.Build(records)
	if err != nil {
		return nil, "", errs.Wrap(errs.CodeInvalidInput, err, "build features")
	}
	X, err := table.Matrix(set.columns)
	if err != nil {
		return nil, "", errs.Wrap(errs.CodeInvalidInput, err, "select feature columns")
	}
	Xs, err := set.scaler.Transform(X)
	if err != nil {
		return nil, "", errs.Wrap(errs.CodeInvalidInput, err, "scale features")
	}

	if useEnsemble && len(set.selection.Ensemble) > 0 {
		preds := make(map[models.Family][]float64, len(set.selection.Ensemble))
		for _, f := range set.selection.Ensemble {
			p, err := set.models[f].Predict(Xs)
			if err != nil {
				return nil, "", fmt.Errorf("%s predict: %w", f, err)
			}
			preds[f] = p
		}
		combined, err := set.weights.Combine(preds)
		if err != nil {
			return nil, "", err
		}
		return combined, EnsembleModel, nil
	}

	single := set.selection.Single
	p, err := set.models[single].Predict(Xs)
	if err != nil {
		return nil, "", fmt.Errorf("%s predict: %w", single, err)
	}
	return p, string(single), nil
}
