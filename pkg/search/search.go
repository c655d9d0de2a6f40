package search

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/HatiCode/agroyield/pkg/models"
	"github.com/HatiCode/agroyield/pkg/stats"
)

// DefaultTrials is the per-family trial budget.
const DefaultTrials = 100

// DefaultFolds is the number of time-series CV folds.
const DefaultFolds = 5

// Config bounds a random search.
type Config struct {
	Trials int
	Folds  int
	// Parallel caps concurrently running trials; 0 uses GOMAXPROCS.
	Parallel int
	Seed     uint64
	Logger   *slog.Logger
}

// Trial is a scored parameter draw.
type Trial[P any] struct {
	Index  int
	Params P
	Score  float64
}

// Random draws cfg.Trials parameter sets with sample and scores each with
// objective, running trials concurrently. Trial i always draws from the same
// seeded stream, so results do not depend on scheduling. The winner is the
// lowest score; ties go to the lowest index. Any objective error cancels the
// remaining trials and is returned.
func Random[P any](ctx context.Context, cfg Config, sample func(*rand.Rand) P, objective func(context.Context, P) (float64, error)) (Trial[P], error) {
	if cfg.Trials < 1 {
		return Trial[P]{}, fmt.Errorf("trial budget must be positive, got %d", cfg.Trials)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := cfg.Parallel
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}

	trials := make([]Trial[P], cfg.Trials)
	for i := range trials {
		rng := rand.New(rand.NewPCG(cfg.Seed, uint64(i)))
		trials[i] = Trial[P]{Index: i, Params: sample(rng)}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range trials {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			score, err := objective(gctx, trials[i].Params)
			if err != nil {
				return fmt.Errorf("trial %d: %w", i, err)
			}
			trials[i].Score = score
			logger.Debug("trial complete", "trial", i, "rmse", score)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Trial[P]{}, err
	}

	best := trials[0]
	for _, t := range trials[1:] {
		if t.Score < best.Score || (math.IsNaN(best.Score) && !math.IsNaN(t.Score)) {
			best = t
		}
	}
	return best, nil
}

// CrossValidate fits a fresh model per fold and returns the mean validation
// RMSE. X and y must already be in chronological order.
func CrossValidate(ctx context.Context, build func() models.Regressor, X [][]float64, y []float64, folds []Fold) (float64, error) {
	var total float64
	for i, f := range folds {
		m := build()
		if err := m.Fit(ctx, pick(X, f.Train), pick(y, f.Train)); err != nil {
			return 0, fmt.Errorf("fold %d: %w", i, err)
		}
		pred, err := m.Predict(pick(X, f.Test))
		if err != nil {
			return 0, fmt.Errorf("fold %d: %w", i, err)
		}
		total += stats.RMSE(pred, pick(y, f.Test))
	}
	return total / float64(len(folds)), nil
}

func pick[T any](xs []T, idx []int) []T {
	out := make([]T, len(idx))
	for i, j := range idx {
		out[i] = xs[j]
	}
	return out
}
