// Package search implements time-aware data partitioning and random
// hyperparameter search scored by time-series cross-validation.
package search

import (
	"fmt"
	"slices"
	"time"

	"github.com/HatiCode/agroyield/pkg/stats"
)

// DefaultSplitQuantile places the train/test boundary at the 80th percentile
// planting date.
const DefaultSplitQuantile = 0.8

// Fold is one train/validation pair of row indices.
type Fold struct {
	Train []int
	Test  []int
}

// TimeSeriesSplit returns k expanding-window folds over n chronologically
// ordered rows. Each validation block has n/(k+1) rows and always follows
// its training rows.
func TimeSeriesSplit(n, k int) ([]Fold, error) {
	if k < 2 {
		return nil, fmt.Errorf("need at least 2 folds, got %d", k)
	}
	size := n / (k + 1)
	if size < 1 {
		return nil, fmt.Errorf("cannot split %d rows into %d folds", n, k)
	}
	folds := make([]Fold, k)
	start := n - k*size
	for i := range folds {
		testStart := start + i*size
		folds[i] = Fold{Train: seq(0, testStart), Test: seq(testStart, testStart+size)}
	}
	return folds, nil
}

// TimeSplit partitions rows by planting date. A row is training iff its date
// is strictly before the q-quantile (linear interpolation) of all dates.
// Both partitions keep input order.
func TimeSplit(dates []time.Time, q float64) (train, test []int, cutoff time.Time) {
	if len(dates) == 0 {
		return nil, nil, time.Time{}
	}
	secs := make([]float64, len(dates))
	for i, d := range dates {
		secs[i] = float64(d.UnixNano()) / 1e9
	}
	boundary := stats.Quantile(secs, q)
	whole := int64(boundary)
	cutoff = time.Unix(whole, int64((boundary-float64(whole))*1e9)).UTC()

	for i, s := range secs {
		if s < boundary {
			train = append(train, i)
		} else {
			test = append(test, i)
		}
	}
	return train, test, cutoff
}

// Chronological returns rows stably sorted by date.
func Chronological(rows []int, dates []time.Time) []int {
	out := slices.Clone(rows)
	slices.SortStableFunc(out, func(a, b int) int { return dates[a].Compare(dates[b]) })
	return out
}

func seq(from, to int) []int {
	out := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}
