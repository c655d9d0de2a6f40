// Package stats holds the small numeric helpers shared by feature
// engineering, the train/test split and model evaluation.
package stats

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// Quantile returns the q-th quantile of the finite values in xs using linear
// interpolation between closest ranks: position h = (n-1)q, result
// x[floor(h)] + (h-floor(h))·(x[floor(h)+1]-x[floor(h)]).
// Returns NaN when xs holds no finite value.
func Quantile(xs []float64, q float64) float64 {
	sorted := make([]float64, 0, len(xs))
	for _, x := range xs {
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			sorted = append(sorted, x)
		}
	}
	if len(sorted) == 0 {
		return math.NaN()
	}
	slices.Sort(sorted)
	return QuantileSorted(sorted, q)
}

// QuantileSorted is Quantile over an already sorted, finite slice.
func QuantileSorted(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	q = math.Max(0, math.Min(1, q))
	h := float64(n-1) * q
	lo := int(math.Floor(h))
	if lo >= n-1 {
		return sorted[n-1]
	}
	frac := h - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// RMSE is the root mean squared error between predictions and targets.
func RMSE(pred, actual []float64) float64 {
	if len(pred) == 0 {
		return math.NaN()
	}
	var sum float64
	for i := range pred {
		d := pred[i] - actual[i]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(pred)))
}

// R2 is the coefficient of determination. A constant target yields 1 for a
// perfect fit and 0 otherwise.
func R2(pred, actual []float64) float64 {
	if len(pred) == 0 {
		return math.NaN()
	}
	if stat.Variance(actual, nil) == 0 || len(actual) < 2 {
		if RMSE(pred, actual) == 0 {
			return 1
		}
		return 0
	}
	return stat.RSquaredFrom(pred, actual, nil)
}

// MeanStd returns the mean and population standard deviation of the finite
// values in xs, and how many there were.
func MeanStd(xs []float64) (mean, std float64, n int) {
	finite := Finite(xs)
	if len(finite) == 0 {
		return math.NaN(), math.NaN(), 0
	}
	mean, std = stat.PopMeanStdDev(finite, nil)
	return mean, std, len(finite)
}

// Finite returns a new slice holding the finite values of xs.
func Finite(xs []float64) []float64 {
	out := make([]float64, 0, len(xs))
	for _, x := range xs {
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			out = append(out, x)
		}
	}
	return out
}
