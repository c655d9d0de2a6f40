package models

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// Scaler standardizes each column to zero mean and unit variance using
// population statistics. Constant columns get Scale 1.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// FitScaler computes column statistics over X.
func FitScaler(X [][]float64) (*Scaler, error) {
	if len(X) == 0 || len(X[0]) == 0 {
		return nil, errors.New("fit scaler: empty matrix")
	}
	cols := len(X[0])
	s := &Scaler{Mean: make([]float64, cols), Scale: make([]float64, cols)}
	col := make([]float64, len(X))
	for f := 0; f < cols; f++ {
		for i, row := range X {
			if len(row) != cols {
				return nil, fmt.Errorf("fit scaler: row %d has %d columns, want %d", i, len(row), cols)
			}
			col[i] = row[f]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		if std == 0 {
			std = 1
		}
		s.Mean[f] = mean
		s.Scale[f] = std
	}
	return s, nil
}

// Transform returns a standardized copy of X.
func (s *Scaler) Transform(X [][]float64) ([][]float64, error) {
	out := make([][]float64, len(X))
	for i, row := range X {
		if len(row) != len(s.Mean) {
			return nil, fmt.Errorf("transform: row %d has %d columns, scaler expects %d", i, len(row), len(s.Mean))
		}
		r := make([]float64, len(row))
		for f, v := range row {
			r[f] = (v - s.Mean[f]) / s.Scale[f]
		}
		out[i] = r
	}
	return out, nil
}
