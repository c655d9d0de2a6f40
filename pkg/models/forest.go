package models

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
)

// MaxFeatures selects how many features a forest considers per split.
type MaxFeatures string

const (
	MaxFeaturesSqrt MaxFeatures = "sqrt"
	MaxFeaturesLog2 MaxFeatures = "log2"
	MaxFeaturesAll  MaxFeatures = "all"
)

func (mf MaxFeatures) count(n int) int {
	switch mf {
	case MaxFeaturesSqrt:
		return max(1, int(math.Sqrt(float64(n))))
	case MaxFeaturesLog2:
		return max(1, int(math.Log2(float64(n))))
	default:
		return n
	}
}

// ForestParams configures a random forest.
type ForestParams struct {
	NEstimators     int         `json:"n_estimators"`
	MaxDepth        int         `json:"max_depth"`
	MinSamplesSplit int         `json:"min_samples_split"`
	MinSamplesLeaf  int         `json:"min_samples_leaf"`
	MaxFeatures     MaxFeatures `json:"max_features"`
	Seed            uint64      `json:"seed"`
}

func DefaultForestParams() ForestParams {
	return ForestParams{
		NEstimators:     100,
		MaxDepth:        0,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		MaxFeatures:     MaxFeaturesAll,
		Seed:            42,
	}
}

// Forest is a bagged ensemble of variance-reduction regression trees.
// Predictions are the mean over trees.
type Forest struct {
	Params   ForestParams `json:"params"`
	Trees    []Tree       `json:"trees"`
	Features int          `json:"features"`

	mu sync.RWMutex
}

func NewForest(p ForestParams) *Forest {
	return &Forest{Params: p}
}

func (m *Forest) Family() Family { return RandomForest }

func (m *Forest) Fit(ctx context.Context, X [][]float64, y []float64) error {
	cols, err := checkTrainingSet(X, y)
	if err != nil {
		return err
	}
	p := m.Params
	if p.NEstimators < 1 {
		return fmt.Errorf("n_estimators must be positive, got %d", p.NEstimators)
	}

	n := len(X)
	data := quantize(X)
	rng := rand.New(rand.NewPCG(p.Seed, p.Seed^0x9e3779b97f4a7c15))

	// With unit hessians and no regularization the leaf weight -G/H is the
	// mean target of the leaf and the split gain is the SSE reduction.
	grad := make([]float64, n)
	hess := make([]float64, n)
	for i, v := range y {
		grad[i] = -v
		hess[i] = 1
	}

	perSplit := p.MaxFeatures.count(cols)
	cfg := growConfig{
		maxDepth:        p.MaxDepth,
		minSamplesLeaf:  max(p.MinSamplesLeaf, 1),
		minSamplesSplit: max(p.MinSamplesSplit, 2),
		minGain:         1e-12,
		features:        func() []int { return sampleFeatures(rng, cols, perSplit) },
	}

	trees := make([]Tree, 0, p.NEstimators)
	for t := 0; t < p.NEstimators; t++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		rows := make([]int, n)
		for i := range rows {
			rows[i] = rng.IntN(n)
		}
		trees = append(trees, *growTree(data, grad, hess, rows, cfg))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Trees = trees
	m.Features = cols
	return nil
}

func (m *Forest) Predict(X [][]float64) ([]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Features == 0 {
		return nil, ErrNotFitted
	}
	if err := checkInput(X, m.Features); err != nil {
		return nil, err
	}
	out := make([]float64, len(X))
	for i, row := range X {
		var sum float64
		for t := range m.Trees {
			sum += m.Trees[t].predict(row)
		}
		out[i] = sum / float64(len(m.Trees))
	}
	return out, nil
}
