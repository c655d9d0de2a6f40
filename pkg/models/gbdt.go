package models

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
)

// GBDTParams configures a gradient boosted tree ensemble.
type GBDTParams struct {
	NEstimators  int     `json:"n_estimators"`
	MaxDepth     int     `json:"max_depth"`
	LearningRate float64 `json:"learning_rate"`
	Subsample    float64 `json:"subsample"`
	ColSample    float64 `json:"colsample_bytree"`
	RegAlpha     float64 `json:"reg_alpha"`
	RegLambda    float64 `json:"reg_lambda"`
	// NumLeaves caps leaves per tree in leaf-wise growth; 0 grows depth-wise.
	NumLeaves       int    `json:"num_leaves,omitempty"`
	MinChildSamples int    `json:"min_child_samples,omitempty"`
	Seed            uint64 `json:"seed"`
}

// DefaultGBDTParams returns the defaults for the depth-wise family.
func DefaultGBDTParams() GBDTParams {
	return GBDTParams{
		NEstimators:  100,
		MaxDepth:     6,
		LearningRate: 0.1,
		Subsample:    1,
		ColSample:    1,
		RegLambda:    1,
		Seed:         42,
	}
}

// DefaultLeafwiseParams returns the defaults for the leaf-wise family.
func DefaultLeafwiseParams() GBDTParams {
	p := DefaultGBDTParams()
	p.MaxDepth = 0
	p.NumLeaves = 31
	p.MinChildSamples = 20
	p.RegLambda = 0
	return p
}

// GBDT is a squared-error gradient boosted tree regressor. The same type
// backs both the depth-wise and the leaf-wise family.
type GBDT struct {
	Kind     Family     `json:"family"`
	Params   GBDTParams `json:"params"`
	Base     float64    `json:"base"`
	Trees    []Tree     `json:"trees"`
	Features int        `json:"features"`

	mu sync.RWMutex
}

// NewGBDT creates an unfitted booster. family must be GBDTDepthwise or
// GBDTLeafwise.
func NewGBDT(family Family, p GBDTParams) *GBDT {
	return &GBDT{Kind: family, Params: p}
}

func (m *GBDT) Family() Family { return m.Kind }

func (m *GBDT) Fit(ctx context.Context, X [][]float64, y []float64) error {
	cols, err := checkTrainingSet(X, y)
	if err != nil {
		return err
	}
	p := m.Params
	if p.NEstimators < 1 {
		return fmt.Errorf("n_estimators must be positive, got %d", p.NEstimators)
	}
	if p.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be positive, got %v", p.LearningRate)
	}

	n := len(X)
	data := quantize(X)
	rng := rand.New(rand.NewPCG(p.Seed, p.Seed^0x9e3779b97f4a7c15))

	base := 0.0
	for _, v := range y {
		base += v
	}
	base /= float64(n)

	pred := make([]float64, n)
	for i := range pred {
		pred[i] = base
	}
	grad := make([]float64, n)
	hess := make([]float64, n)
	for i := range hess {
		hess[i] = 1
	}

	cfg := growConfig{
		maxDepth:   p.MaxDepth,
		maxLeaves:  p.NumLeaves,
		lambda:     p.RegLambda,
		alpha:      p.RegAlpha,
		minHessian: 1,
	}
	if m.Kind == GBDTLeafwise {
		cfg.minSamplesLeaf = max(p.MinChildSamples, 1)
		cfg.minHessian = 1e-3
	}
	sampleRows := fractionOf(n, clampFrac(p.Subsample))
	sampleCols := fractionOf(cols, clampFrac(p.ColSample))

	trees := make([]Tree, 0, p.NEstimators)
	for t := 0; t < p.NEstimators; t++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for i := range grad {
			grad[i] = pred[i] - y[i]
		}
		rows := sampleRowsWithoutReplacement(rng, n, sampleRows)
		treeCols := sampleFeatures(rng, cols, sampleCols)
		cfg.features = func() []int { return treeCols }

		tree := growTree(data, grad, hess, rows, cfg)
		tree.scale(p.LearningRate)
		for i, row := range X {
			pred[i] += tree.predict(row)
		}
		trees = append(trees, *tree)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Base = base
	m.Trees = trees
	m.Features = cols
	return nil
}

func (m *GBDT) Predict(X [][]float64) ([]float64, error) {
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
		v := m.Base
		for t := range m.Trees {
			v += m.Trees[t].predict(row)
		}
		out[i] = v
	}
	return out, nil
}

func sampleRowsWithoutReplacement(rng *rand.Rand, n, k int) []int {
	if k >= n {
		rows := make([]int, n)
		for i := range rows {
			rows[i] = i
		}
		return rows
	}
	return sampleFeatures(rng, n, k)
}

func clampFrac(f float64) float64 {
	if f <= 0 || f > 1 {
		return 1
	}
	return f
}
