package features

import (
	"math"
	"slices"
	"strings"
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// farmSeries returns n weekly records for one farm with a rising rainfall.
func farmSeries(farm string, n int, start time.Time) []Record {
	recs := make([]Record, n)
	for i := range recs {
		recs[i] = Record{
			FarmID:               farm,
			PlantingDate:         start.AddDate(0, 0, 7*i),
			AvgTemperature:       22,
			BaseTemperature:      10,
			MaxTemperature:       30,
			MinTemperature:       12,
			Humidity:             60,
			Rainfall:             float64(i + 1),
			NDVI:                 0.5 + 0.01*float64(i),
			EVI:                  0.4,
			SAVI:                 0.3,
			SoilOrganicCarbon:    2,
			SoilPH:               6.5,
			SoilNitrogen:         1,
			SoilPhosphorus:       0.5,
			SoilPotassium:        math.NaN(),
			FertilizerNitrogen:   10,
			FertilizerPhosphorus: 5,
			FertilizerPotassium:  4,
			IrrigationAmount:     20,
			CropVariety:          "maize",
			SoilType:             "loam",
			IrrigationMethod:     "drip",
			MarketPrice:          200,
			TotalCost:            500,
			Yield:                float64(3 + i),
		}
	}
	return recs
}

func column(t *testing.T, tbl *Table, name string) []float64 {
	t.Helper()
	col, ok := tbl.Column(name)
	if !ok {
		t.Fatalf("column %q missing", name)
	}
	return col
}

func TestBuild_DoesNotMutateInput(t *testing.T) {
	recs := farmSeries("f1", 5, date(2023, 4, 1))
	recs[0].Rainfall = 100
	orig := slices.Clone(recs)

	if _, err := NewBuilder().Build(recs); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	for i := range recs {
		if recs[i].Rainfall != orig[i].Rainfall || recs[i].PlantingDate != orig[i].PlantingDate {
			t.Fatalf("record %d mutated", i)
		}
	}
}

func TestBuild_TemporalAndGDD(t *testing.T) {
	recs := farmSeries("f1", 3, date(2023, 12, 20))
	recs[1].AvgTemperature = 5 // below base

	tbl, err := NewBuilder().Build(recs)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if got := column(t, tbl, "planting_month"); got[0] != 12 || got[2] != 1 {
		t.Errorf("planting_month = %v", got)
	}
	if got := column(t, tbl, "planting_season_winter"); !slices.Equal(got, []float64{1, 1, 1}) {
		t.Errorf("planting_season_winter = %v", got)
	}
	if got := column(t, tbl, "cumulative_gdd"); !slices.Equal(got, []float64{12, 12, 24}) {
		t.Errorf("cumulative_gdd = %v, want [12 12 24]", got)
	}
}

func TestBuild_RollingWindowsPerFarm(t *testing.T) {
	recs := append(farmSeries("a", 8, date(2023, 3, 1)), farmSeries("b", 8, date(2023, 3, 2))...)
	// Shuffle farm a's rows: windows must follow planting date, not input order.
	recs[0], recs[7] = recs[7], recs[0]

	tbl, err := NewBuilder().Build(recs)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	lag7 := column(t, tbl, "rainfall_lag_7")

	// Row 0 now holds farm a's 8th observation: sum of rainfall 2..8.
	if lag7[0] != 35 {
		t.Errorf("rainfall_lag_7 of latest row = %v, want 35", lag7[0])
	}
	// Row 7 holds the earliest observation: no full window.
	if !math.IsNaN(lag7[7]) {
		t.Errorf("rainfall_lag_7 of earliest row = %v, want NaN", lag7[7])
	}
	// Farm b's 7th row sums its own 1..7, not farm a's values.
	if lag7[14] != 28 {
		t.Errorf("farm b rainfall_lag_7 = %v, want 28", lag7[14])
	}
	if got := column(t, tbl, "rainfall_lag_30"); !math.IsNaN(got[0]) {
		t.Errorf("rainfall_lag_30 with 8 rows = %v, want NaN", got[0])
	}
}

func TestBuild_RainfallVarianceAndDrought(t *testing.T) {
	recs := append(farmSeries("a", 31, date(2022, 1, 1)), farmSeries("b", 31, date(2022, 1, 1))...)
	for i := 31; i < 62; i++ {
		recs[i].Rainfall = 100
	}

	tbl, err := NewBuilder().Build(recs)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	variance := column(t, tbl, "rainfall_variance")
	// sample variance of 1..30 is 77.5
	if math.Abs(variance[29]-77.5) > 1e-9 {
		t.Errorf("rainfall_variance = %v, want 77.5", variance[29])
	}
	if variance[60] != 0 {
		t.Errorf("constant rainfall variance = %v, want 0", variance[60])
	}

	drought := column(t, tbl, "drought_stress")
	// Only farm a's two full windows (465, 495) fall below the 20th percentile
	// of {465, 495, 3000, 3000}; rows without a window never flag.
	if drought[29] != 1 || drought[61] != 0 || drought[0] != 0 {
		t.Errorf("drought_stress a=%v b=%v early=%v", drought[29], drought[61], drought[0])
	}
}

func TestBuild_DerivedRatios(t *testing.T) {
	recs := farmSeries("f", 9, date(2023, 6, 1))
	tbl, err := NewBuilder().Build(recs)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	tests := []struct {
		column string
		row    int
		want   float64
	}{
		{"ndvi_evi_ratio", 0, 0.5 / (0.4 + 1e-6)},
		{"ndvi_trend", 8, (0.58 / 0.51) - 1},
		{"vegetation_health_index", 0, (0.5 + 0.4 + 0.3) / 3},
		{"soil_health_score", 0, (2 + 6.5 + 1 + 0.5) / 5},
		{"fertilizer_efficiency", 0, 3.0 / 20},
		{"yield_lag_1", 2, 4},
		{"yield_lag_2", 2, 3},
		{"yield_trend", 2, 4},
		{"price_yield_ratio", 0, 200 / (3 + 1e-6)},
		{"profit_margin", 0, 200*3 - 500},
		{"heat_stress", 0, 0},
		{"humidity_stress", 0, 0},
		{"crop_variety_maize", 0, 1},
		{"soil_type_loam", 0, 1},
		{"irrigation_method_drip", 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.column, func(t *testing.T) {
			got := column(t, tbl, tt.column)[tt.row]
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("%s[%d] = %v, want %v", tt.column, tt.row, got, tt.want)
			}
		})
	}

	if !math.IsNaN(column(t, tbl, "yield_lag_1")[0]) {
		t.Error("yield_lag_1 of first row should be missing")
	}
}

func TestBuild_StressFlags(t *testing.T) {
	recs := farmSeries("f", 3, date(2023, 6, 1))
	recs[0].MaxTemperature = 36
	recs[1].MinTemperature = 9
	recs[2].Humidity = 95

	tbl, err := NewBuilder().Build(recs)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if got := column(t, tbl, "heat_stress"); !slices.Equal(got, []float64{1, 0, 0}) {
		t.Errorf("heat_stress = %v", got)
	}
	if got := column(t, tbl, "cold_stress"); !slices.Equal(got, []float64{0, 1, 0}) {
		t.Errorf("cold_stress = %v", got)
	}
	if got := column(t, tbl, "humidity_stress"); !slices.Equal(got, []float64{0, 0, 1}) {
		t.Errorf("humidity_stress = %v", got)
	}
}

func TestTable_MatrixFillsMissing(t *testing.T) {
	recs := farmSeries("f", 3, date(2023, 6, 1))
	recs[0].Yield = math.NaN()
	tbl, err := NewBuilder().Build(recs)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	X, err := tbl.Matrix([]string{"rainfall_lag_7", "soil_potassium", "rainfall"})
	if err != nil {
		t.Fatalf("Matrix() error = %v", err)
	}
	if X[0][0] != 0 || X[0][1] != 0 || X[2][2] != 3 {
		t.Errorf("Matrix rows = %v", X)
	}
	if y := tbl.Labels(); y[0] != 0 || y[1] != 4 {
		t.Errorf("Labels = %v", y)
	}

	_, err = tbl.Matrix([]string{"rainfall", "crop_variety_wheat"})
	if err == nil || !strings.Contains(err.Error(), "crop_variety_wheat") {
		t.Errorf("Matrix() with unknown column error = %v", err)
	}
}

func TestBuild_ExcludesIdentifiersAndTarget(t *testing.T) {
	tbl, err := NewBuilder().Build(farmSeries("f", 2, date(2023, 6, 1)))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	for _, c := range tbl.Columns() {
		switch c {
		case "yield", "farm_id", "crop_id", "season_id", "planting_date", "harvest_date":
			t.Errorf("feature columns include %q", c)
		}
	}
}

func TestBuild_RejectsEmptyAndUndated(t *testing.T) {
	if _, err := NewBuilder().Build(nil); err == nil {
		t.Error("Build(nil) should fail")
	}
	if _, err := NewBuilder().Build([]Record{{FarmID: "x"}}); err == nil {
		t.Error("Build() without planting date should fail")
	}
}
