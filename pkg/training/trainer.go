// Package training runs the yield model training pipeline:
//
//	build features → scale → time split → per-family search → fit → evaluate
//
// Training is all-or-nothing. The first error from any stage or family
// aborts the run and is returned to the caller.
package training

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/HatiCode/agroyield/pkg/errs"
	"github.com/HatiCode/agroyield/pkg/features"
	"github.com/HatiCode/agroyield/pkg/models"
	"github.com/HatiCode/agroyield/pkg/search"
	"github.com/HatiCode/agroyield/pkg/stats"
)

// Recorder receives training telemetry. *metrics.Metrics in cmd/trainer
// implements it.
type Recorder interface {
	RecordStage(stage string, seconds float64)
	RecordTrials(family string, n int)
	SetFamilyScore(family string, rmse, r2 float64)
}

// Config controls a training run.
type Config struct {
	Families      []models.Family
	Trials        int
	Folds         int
	Parallel      int
	Seed          uint64
	SplitQuantile float64
	MLP           models.MLPParams
}

// DefaultConfig trains every family with the standard search budget.
func DefaultConfig() Config {
	return Config{
		Families:      slices.Clone(models.Families),
		Trials:        search.DefaultTrials,
		Folds:         search.DefaultFolds,
		Seed:          42,
		SplitQuantile: search.DefaultSplitQuantile,
		MLP:           models.DefaultMLPParams(),
	}
}

// Handle is one fitted family with its held-out evaluation.
type Handle struct {
	Family models.Family
	Model  models.Regressor
	// Params is the family's parameter struct (GBDTParams, ForestParams or
	// MLPParams).
	Params      any
	CVScore     float64
	RMSE        float64
	R2          float64
	Predictions []float64
}

// Result is everything a training run produces.
type Result struct {
	FeatureColumns []string
	Scaler         *models.Scaler
	Handles        []Handle
	// TestTarget is aligned with every Handle's Predictions.
	TestTarget []float64
	TrainRows  int
	TestRows   int
	Cutoff     time.Time
	TrainedAt  time.Time
}

// Handle returns the handle for family, if trained.
func (r *Result) Handle(family models.Family) (Handle, bool) {
	for _, h := range r.Handles {
		if h.Family == family {
			return h, true
		}
	}
	return Handle{}, false
}

// Best returns the family with the lowest held-out RMSE. Ties keep the
// earlier family in training order.
func (r *Result) Best() (Handle, bool) {
	if len(r.Handles) == 0 {
		return Handle{}, false
	}
	best := r.Handles[0]
	for _, h := range r.Handles[1:] {
		if h.RMSE < best.RMSE {
			best = h
		}
	}
	return best, true
}

// Trainer runs training jobs. It holds no state between runs.
type Trainer struct {
	cfg     Config
	builder *features.Builder
	logger  *slog.Logger
	metrics Recorder
}

// New creates a Trainer. metrics may be nil.
func New(cfg Config, builder *features.Builder, logger *slog.Logger, metrics Recorder) *Trainer {
	if logger == nil {
		logger = slog.Default()
	}
	if builder == nil {
		builder = features.NewBuilder()
	}
	return &Trainer{cfg: cfg, builder: builder, logger: logger, metrics: metrics}
}

// dataset is the scaled matrix split into chronologically ordered training
// rows and held-out rows.
type dataset struct {
	XTrain [][]float64
	YTrain []float64
	XTest  [][]float64
	YTest  []float64
}

// Run trains every configured family on records.
func (t *Trainer) Run(ctx context.Context, records []features.Record) (*Result, error) {
	start := time.Now()
	if len(t.cfg.Families) == 0 {
		return nil, errs.Configuration("no model families configured")
	}
	t.logger.Info("starting training run", "records", len(records), "families", len(t.cfg.Families))

	stageStart := time.Now()
	table, err := t.builder.Build(records)
	if err != nil {
		return nil, fmt.Errorf("build features: %w", err)
	}
	columns := table.Columns()
	X, err := table.Matrix(columns)
	if err != nil {
		return nil, fmt.Errorf("feature matrix: %w", err)
	}
	y := table.Labels()
	t.recordStage("features", stageStart)
	t.logger.Debug("built features", "rows", table.Len(), "columns", len(columns))

	stageStart = time.Now()
	scaler, err := models.FitScaler(X)
	if err != nil {
		return nil, fmt.Errorf("fit scaler: %w", err)
	}
	Xs, err := scaler.Transform(X)
	if err != nil {
		return nil, fmt.Errorf("scale features: %w", err)
	}

	trainIdx, testIdx, cutoff := search.TimeSplit(table.PlantingDates, t.cfg.SplitQuantile)
	if len(testIdx) == 0 {
		return nil, errs.New(errs.CodeInsufficientData, "no rows at or after the split date")
	}
	if len(trainIdx) <= t.cfg.Folds {
		return nil, errs.New(errs.CodeInsufficientData,
			"%d training rows cannot form %d time-series folds", len(trainIdx), t.cfg.Folds)
	}
	trainIdx = search.Chronological(trainIdx, table.PlantingDates)
	ds := dataset{
		XTrain: pick(Xs, trainIdx),
		YTrain: pick(y, trainIdx),
		XTest:  pick(Xs, testIdx),
		YTest:  pick(y, testIdx),
	}
	t.recordStage("split", stageStart)
	t.logger.Info("split dataset",
		"train_rows", len(trainIdx),
		"test_rows", len(testIdx),
		"cutoff", cutoff.Format(time.DateOnly),
		"quantile", stats.FormatLevel(t.cfg.SplitQuantile),
	)

	res := &Result{
		FeatureColumns: columns,
		Scaler:         scaler,
		TestTarget:     ds.YTest,
		TrainRows:      len(trainIdx),
		TestRows:       len(testIdx),
		Cutoff:         cutoff,
	}

	for _, family := range t.cfg.Families {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		h, err := t.trainFamily(ctx, family, ds)
		if err != nil {
			return nil, fmt.Errorf("train %s: %w", family, err)
		}
		res.Handles = append(res.Handles, h)
	}

	res.TrainedAt = time.Now().UTC()
	t.logger.Info("training run complete",
		"families", len(res.Handles),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (t *Trainer) trainFamily(ctx context.Context, family models.Family, ds dataset) (Handle, error) {
	start := time.Now()
	logger := t.logger.With("family", family)
	logger.Info("training family")

	var (
		model  models.Regressor
		params any
		cv     float64
		err    error
	)
	switch family {
	case models.GBDTDepthwise, models.GBDTLeafwise:
		space := search.DepthwiseSpace(t.cfg.Seed)
		if family == models.GBDTLeafwise {
			space = search.LeafwiseSpace(t.cfg.Seed)
		}
		var best search.Trial[models.GBDTParams]
		best, err = searchFamily(ctx, t, family, ds, space, func(p models.GBDTParams) models.Regressor {
			return models.NewGBDT(family, p)
		})
		model, params, cv = models.NewGBDT(family, best.Params), best.Params, best.Score
	case models.RandomForest:
		var best search.Trial[models.ForestParams]
		best, err = searchFamily(ctx, t, family, ds, search.ForestSpace(t.cfg.Seed), func(p models.ForestParams) models.Regressor {
			return models.NewForest(p)
		})
		model, params, cv = models.NewForest(best.Params), best.Params, best.Score
	case models.NeuralNetwork:
		p := t.cfg.MLP
		p.Seed = t.cfg.Seed
		model, params = models.NewMLP(p), p
	default:
		return Handle{}, fmt.Errorf("unknown model family %q", family)
	}
	if err != nil {
		return Handle{}, err
	}

	if err := model.Fit(ctx, ds.XTrain, ds.YTrain); err != nil {
		return Handle{}, fmt.Errorf("fit: %w", err)
	}
	pred, err := model.Predict(ds.XTest)
	if err != nil {
		return Handle{}, fmt.Errorf("predict held-out rows: %w", err)
	}

	h := Handle{
		Family:      family,
		Model:       model,
		Params:      params,
		CVScore:     cv,
		RMSE:        stats.RMSE(pred, ds.YTest),
		R2:          stats.R2(pred, ds.YTest),
		Predictions: pred,
	}
	if t.metrics != nil {
		t.metrics.SetFamilyScore(string(family), h.RMSE, h.R2)
	}
	t.recordStage(string(family), start)
	logger.Info("family trained",
		"rmse", h.RMSE,
		"r2", h.R2,
		"cv_rmse", cv,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return h, nil
}

func searchFamily[P any](
	ctx context.Context,
	t *Trainer,
	family models.Family,
	ds dataset,
	space func(*rand.Rand) P,
	build func(P) models.Regressor,
) (search.Trial[P], error) {
	folds, err := search.TimeSeriesSplit(len(ds.XTrain), t.cfg.Folds)
	if err != nil {
		return search.Trial[P]{}, err
	}
	cfg := search.Config{
		Trials:   t.cfg.Trials,
		Folds:    t.cfg.Folds,
		Parallel: t.cfg.Parallel,
		Seed:     t.cfg.Seed,
		Logger:   t.logger.With("family", family),
	}
	best, err := search.Random(ctx, cfg, space, func(ctx context.Context, p P) (float64, error) {
		return search.CrossValidate(ctx, func() models.Regressor { return build(p) }, ds.XTrain, ds.YTrain, folds)
	})
	if err != nil {
		return search.Trial[P]{}, fmt.Errorf("hyperparameter search: %w", err)
	}
	if t.metrics != nil {
		t.metrics.RecordTrials(string(family), t.cfg.Trials)
	}
	t.logger.Debug("search complete", "family", family, "trial", best.Index, "rmse", best.Score)
	return best, nil
}

func (t *Trainer) recordStage(stage string, start time.Time) {
	if t.metrics != nil {
		t.metrics.RecordStage(stage, time.Since(start).Seconds())
	}
}

func pick[T any](xs []T, idx []int) []T {
	out := make([]T, len(idx))
	for i, j := range idx {
		out[i] = xs[j]
	}
	return out
}
