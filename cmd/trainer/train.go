package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/HatiCode/agroyield/cmd/trainer/config"
	"github.com/HatiCode/agroyield/cmd/trainer/metrics"
	"github.com/HatiCode/agroyield/pkg/ensemble"
	"github.com/HatiCode/agroyield/pkg/features"
	"github.com/HatiCode/agroyield/pkg/models"
	"github.com/HatiCode/agroyield/pkg/storage"
	"github.com/HatiCode/agroyield/pkg/training"
)

// trainingConfig maps the command configuration onto the trainer's.
func trainingConfig(cfg *config.Config) training.Config {
	tc := training.DefaultConfig()
	tc.Families = cfg.Families
	tc.Trials = cfg.Trials
	tc.Folds = cfg.Folds
	tc.Parallel = cfg.Parallel
	tc.Seed = cfg.Seed
	tc.SplitQuantile = cfg.SplitQuantile
	tc.MLP.Epochs = cfg.MLPEpochs
	tc.MLP.BatchSize = cfg.MLPBatchSize
	return tc
}

// train runs the full pipeline over records and persists the artifact set
// to store. m may be nil.
func train(ctx context.Context, cfg *config.Config, records []features.Record, store storage.Store, logger *slog.Logger, m *metrics.Metrics) (ensemble.Summary, error) {
	var rec training.Recorder
	if m != nil {
		rec = m
	}
	res, err := training.New(trainingConfig(cfg), features.NewBuilder(), logger, rec).Run(ctx, records)
	if err != nil {
		return ensemble.Summary{}, err
	}

	sum, err := ensemble.Evaluate(res)
	if err != nil {
		return ensemble.Summary{}, fmt.Errorf("evaluate ensemble: %w", err)
	}
	if m != nil {
		weights := make(map[string]float64, len(sum.Weights))
		for f, w := range sum.Weights {
			weights[string(f)] = w
		}
		m.SetEnsemble(weights, sum.RMSE, sum.R2)
	}

	for _, f := range models.Families {
		h, ok := res.Handle(f)
		if !ok {
			continue
		}
		logger.Info("family result",
			"family", f,
			"rmse", h.RMSE,
			"r2", h.R2,
			"cv_rmse", h.CVScore,
			"weight", sum.Weights[f],
		)
	}
	logger.Info("ensemble result", "rmse", sum.RMSE, "r2", sum.R2, "best", sum.Best)

	if err := ensemble.NewRegistry(store, logger).Save(ctx, res, sum); err != nil {
		return sum, fmt.Errorf("save artifacts: %w", err)
	}
	return sum, nil
}
