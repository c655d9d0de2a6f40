// Package models provides the yield regressors trained by the pipeline and
// the feature scaler applied before them.
//
// Every regressor fits on a dense row-major matrix and is safe for
// concurrent Predict calls once fitted. Fitted models serialize to JSON and
// are restored with Decode.
package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Family names a regressor family.
type Family string

const (
	GBDTDepthwise Family = "gbdt_depthwise"
	GBDTLeafwise  Family = "gbdt_leafwise"
	RandomForest  Family = "random_forest"
	NeuralNetwork Family = "neural_network"
)

// Families lists every family in fallback priority order.
var Families = []Family{GBDTDepthwise, GBDTLeafwise, RandomForest, NeuralNetwork}

// ParseFamily validates a family name.
func ParseFamily(s string) (Family, error) {
	for _, f := range Families {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown model family %q", s)
}

// Regressor is a trainable yield model.
type Regressor interface {
	Family() Family
	Fit(ctx context.Context, X [][]float64, y []float64) error
	Predict(X [][]float64) ([]float64, error)
}

// ErrNotFitted is returned by Predict before a successful Fit or Decode.
var ErrNotFitted = errors.New("model not fitted")

// Decode restores a fitted regressor of the given family from its JSON form.
func Decode(family Family, data []byte) (Regressor, error) {
	var m Regressor
	switch family {
	case GBDTDepthwise, GBDTLeafwise:
		m = &GBDT{}
	case RandomForest:
		m = &Forest{}
	case NeuralNetwork:
		m = &MLP{}
	default:
		return nil, fmt.Errorf("unknown model family %q", family)
	}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", family, err)
	}
	if m.Family() != family {
		return nil, fmt.Errorf("decode %s: artifact holds %s", family, m.Family())
	}
	return m, nil
}

func checkTrainingSet(X [][]float64, y []float64) (int, error) {
	if len(X) == 0 {
		return 0, errors.New("empty training set")
	}
	if len(X) != len(y) {
		return 0, fmt.Errorf("X has %d rows, y has %d", len(X), len(y))
	}
	cols := len(X[0])
	if cols == 0 {
		return 0, errors.New("training set has no features")
	}
	for i, row := range X {
		if len(row) != cols {
			return 0, fmt.Errorf("row %d has %d features, want %d", i, len(row), cols)
		}
	}
	return cols, nil
}

func checkInput(X [][]float64, cols int) error {
	for i, row := range X {
		if len(row) != cols {
			return fmt.Errorf("row %d has %d features, model expects %d", i, len(row), cols)
		}
	}
	return nil
}
