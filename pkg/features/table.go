package features

import (
	"fmt"
	"math"
	"slices"
	"time"
)

// Table is the engineered feature set, one row per input record in input
// order. Identifiers and the target are kept apart from the feature columns.
type Table struct {
	FarmIDs       []string
	PlantingDates []time.Time
	Target        []float64

	columns []string
	values  map[string][]float64
}

func newTable(n int) *Table {
	return &Table{
		FarmIDs:       make([]string, n),
		PlantingDates: make([]time.Time, n),
		Target:        make([]float64, n),
		values:        make(map[string][]float64),
	}
}

// Len is the number of rows.
func (t *Table) Len() int {
	return len(t.Target)
}

// Columns returns the feature column names in order.
func (t *Table) Columns() []string {
	return slices.Clone(t.columns)
}

// Column returns the values of a feature column.
func (t *Table) Column(name string) ([]float64, bool) {
	v, ok := t.values[name]
	return v, ok
}

func (t *Table) add(name string, values []float64) {
	if _, exists := t.values[name]; !exists {
		t.columns = append(t.columns, name)
	}
	t.values[name] = values
}

// MissingColumns returns the names in columns the table does not carry.
func (t *Table) MissingColumns(columns []string) []string {
	var missing []string
	for _, c := range columns {
		if _, ok := t.values[c]; !ok {
			missing = append(missing, c)
		}
	}
	return missing
}

// Matrix lays out the requested columns row-major. NaN and ±Inf become 0.
// Requesting a column the table lacks is an error.
func (t *Table) Matrix(columns []string) ([][]float64, error) {
	if missing := t.MissingColumns(columns); len(missing) > 0 {
		return nil, fmt.Errorf("missing feature columns: %v", missing)
	}
	X := make([][]float64, t.Len())
	for i := range X {
		row := make([]float64, len(columns))
		for j, c := range columns {
			row[j] = zeroIfNotFinite(t.values[c][i])
		}
		X[i] = row
	}
	return X, nil
}

// Labels returns the target with missing values replaced by 0.
func (t *Table) Labels() []float64 {
	y := make([]float64, len(t.Target))
	for i, v := range t.Target {
		y[i] = zeroIfNotFinite(v)
	}
	return y
}

func zeroIfNotFinite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
