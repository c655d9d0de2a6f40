// Package ensemble combines fitted model families into an error-weighted
// ensemble and persists, reloads and serves the trained artifact set.
package ensemble

import (
	"errors"
	"fmt"
	"math"

	"github.com/HatiCode/agroyield/pkg/models"
	"github.com/HatiCode/agroyield/pkg/stats"
	"github.com/HatiCode/agroyield/pkg/training"
)

// Weights maps a family to its share of the ensemble. Weights are
// non-negative and sum to 1.
type Weights map[models.Family]float64

// ComputeWeights assigns each family a weight proportional to 1/RMSE. If
// some families have zero RMSE they share the whole weight equally.
func ComputeWeights(handles []training.Handle) (Weights, error) {
	if len(handles) == 0 {
		return nil, errors.New("no trained families to weight")
	}
	w := make(Weights, len(handles))
	var perfect int
	for _, h := range handles {
		if math.IsNaN(h.RMSE) || math.IsInf(h.RMSE, 0) || h.RMSE < 0 {
			return nil, fmt.Errorf("%s: invalid RMSE %v", h.Family, h.RMSE)
		}
		if h.RMSE == 0 {
			perfect++
		}
	}

	var total float64
	for _, h := range handles {
		switch {
		case perfect > 0 && h.RMSE == 0:
			w[h.Family] = 1
		case perfect > 0:
			w[h.Family] = 0
		default:
			w[h.Family] = 1 / h.RMSE
		}
		total += w[h.Family]
	}
	for f := range w {
		w[f] /= total
	}
	return w, nil
}

// Combine returns the weighted sum of per-family predictions, summed in
// family priority order. Families without predictions are skipped and the
// remaining weights are rescaled to sum to 1.
func (w Weights) Combine(preds map[models.Family][]float64) ([]float64, error) {
	var (
		out   []float64
		total float64
	)
	for _, f := range models.Families {
		weight, ok := w[f]
		if !ok {
			continue
		}
		p, ok := preds[f]
		if !ok {
			continue
		}
		if out == nil {
			out = make([]float64, len(p))
		} else if len(p) != len(out) {
			return nil, fmt.Errorf("%s: %d predictions, want %d", f, len(p), len(out))
		}
		for i, v := range p {
			out[i] += weight * v
		}
		total += weight
	}
	if out == nil || total == 0 {
		return nil, errors.New("no weighted family has predictions")
	}
	if math.Abs(total-1) > 1e-12 {
		for i := range out {
			out[i] /= total
		}
	}
	return out, nil
}

// Summary is the ensemble's evaluation on the held-out rows.
type Summary struct {
	Weights     Weights
	Predictions []float64
	RMSE        float64
	R2          float64
	// Best is the single family with the lowest held-out RMSE.
	Best models.Family
}

// Evaluate weights the families in res and scores the combination on the
// held-out rows.
func Evaluate(res *training.Result) (Summary, error) {
	w, err := ComputeWeights(res.Handles)
	if err != nil {
		return Summary{}, err
	}
	preds := make(map[models.Family][]float64, len(res.Handles))
	for _, h := range res.Handles {
		preds[h.Family] = h.Predictions
	}
	combined, err := w.Combine(preds)
	if err != nil {
		return Summary{}, err
	}
	best, _ := res.Best()
	return Summary{
		Weights:     w,
		Predictions: combined,
		RMSE:        stats.RMSE(combined, res.TestTarget),
		R2:          stats.R2(combined, res.TestTarget),
		Best:        best.Family,
	}, nil
}
