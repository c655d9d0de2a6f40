// Package config parses the trainer's flags and environment.
//
// Every flag falls back to an environment variable of the same name in upper
// snake case (-trials → TRIALS). A .env file in the working directory is
// loaded first when present.
package config

import (
	"flag"
	"fmt"
	"strings"

	"github.com/HatiCode/agroyield/internal/appconfig"
	"github.com/HatiCode/agroyield/pkg/models"
	"github.com/HatiCode/agroyield/pkg/search"
	"github.com/HatiCode/agroyield/pkg/stats"
)

// Config holds the trainer configuration.
type Config struct {
	appconfig.Common

	Input       string `validate:"required"`
	MetricsAddr string

	Families      []models.Family `validate:"min=1"`
	Trials        int             `validate:"gte=1"`
	Folds         int             `validate:"gte=2"`
	Parallel      int             `validate:"gte=0"`
	Seed          uint64
	SplitQuantile float64 `validate:"gt=0,lt=1"`

	MLPEpochs    int `validate:"gte=1"`
	MLPBatchSize int `validate:"gte=1"`
}

// Parse reads args (without the program name) into a validated Config.
func Parse(args []string) (*Config, error) {
	if err := appconfig.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	fs := flag.NewFlagSet("trainer", flag.ContinueOnError)
	cfg.Common.Register(fs)

	var families, quantile string
	fs.StringVar(&cfg.Input, "input", appconfig.Env("INPUT", ""), "Training CSV file")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", appconfig.Env("METRICS_ADDR", ""), "Serve /metrics on this address while training (disabled when empty)")
	fs.StringVar(&families, "families", appconfig.Env("FAMILIES", joinFamilies(models.Families)), "Comma-separated model families to train")
	fs.IntVar(&cfg.Trials, "trials", appconfig.EnvInt("TRIALS", search.DefaultTrials), "Hyperparameter trials per family")
	fs.IntVar(&cfg.Folds, "folds", appconfig.EnvInt("FOLDS", search.DefaultFolds), "Time-series cross-validation folds")
	fs.IntVar(&cfg.Parallel, "parallel", appconfig.EnvInt("PARALLEL", 0), "Concurrent trials (0 uses GOMAXPROCS)")
	fs.Uint64Var(&cfg.Seed, "seed", appconfig.EnvUint64("SEED", 42), "Random seed")
	fs.StringVar(&quantile, "split-quantile", appconfig.Env("SPLIT_QUANTILE", "p80"), "Planting-date quantile separating train and test rows (p80 or 0.8)")

	mlp := models.DefaultMLPParams()
	fs.IntVar(&cfg.MLPEpochs, "mlp-epochs", appconfig.EnvInt("MLP_EPOCHS", mlp.Epochs), "Neural network epochs")
	fs.IntVar(&cfg.MLPBatchSize, "mlp-batch-size", appconfig.EnvInt("MLP_BATCH_SIZE", mlp.BatchSize), "Neural network batch size")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	var err error
	if cfg.Families, err = parseFamilies(families); err != nil {
		return nil, err
	}
	if cfg.SplitQuantile, err = stats.ParseLevel(quantile); err != nil {
		return nil, fmt.Errorf("split-quantile: %w", err)
	}
	if err := appconfig.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseFamilies(s string) ([]models.Family, error) {
	var out []models.Family
	seen := make(map[models.Family]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		f, err := models.ParseFamily(part)
		if err != nil {
			return nil, err
		}
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out, nil
}

func joinFamilies(fs []models.Family) string {
	names := make([]string, len(fs))
	for i, f := range fs {
		names[i] = string(f)
	}
	return strings.Join(names, ",")
}
