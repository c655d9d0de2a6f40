// Package features turns farm-season records into the numeric feature table
// consumed by the yield models.
package features

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/HatiCode/agroyield/pkg/stats"
)

// Thresholds and windows of the engineered features.
const (
	ShortRainWindow  = 7
	LongRainWindow   = 30
	DroughtQuantile  = 0.2
	NDVITrendPeriods = 7
	YieldTrendWindow = 3
	HeatStressC      = 35.0
	ColdStressC      = 10.0
	HumidityLowPct   = 30.0
	HumidityHighPct  = 90.0
	ratioEpsilon     = 1e-6
	soilFieldCount   = 5
)

var seasons = map[time.Month]string{
	time.December: "winter", time.January: "winter", time.February: "winter",
	time.March: "spring", time.April: "spring", time.May: "spring",
	time.June: "summer", time.July: "summer", time.August: "summer",
	time.September: "autumn", time.October: "autumn", time.November: "autumn",
}

// Season returns the meteorological season of a planting month.
func Season(m time.Month) string {
	return seasons[m]
}

// Builder engineers features from records.
type Builder struct{}

// NewBuilder creates a Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Build derives the feature table from records. The input slice is copied
// and never modified. Per-farm windows run over each farm's rows ordered by
// planting date; output rows keep the input order.
func (b *Builder) Build(records []Record) (*Table, error) {
	if len(records) == 0 {
		return nil, errors.New("no records")
	}
	recs := slices.Clone(records)
	for i, r := range recs {
		if r.PlantingDate.IsZero() {
			return nil, fmt.Errorf("record %d: planting date is required", i)
		}
	}

	n := len(recs)
	t := newTable(n)
	for i, r := range recs {
		t.FarmIDs[i] = r.FarmID
		t.PlantingDates[i] = r.PlantingDate
		t.Target[i] = r.Yield
	}
	for _, f := range numericFields {
		col := make([]float64, n)
		for i := range recs {
			col[i] = f.get(&recs[i])
		}
		t.add(f.name, col)
	}
	groups := farmGroups(recs)

	// temporal
	month := make([]float64, n)
	season := make([]string, n)
	for i, r := range recs {
		month[i] = float64(r.PlantingDate.Month())
		season[i] = Season(r.PlantingDate.Month())
	}
	t.add("planting_month", month)

	// growing degree days
	gdd := mapRows(recs, func(r Record) float64 { return math.Max(0, r.AvgTemperature-r.BaseTemperature) })
	t.add("gdd", gdd)
	t.add("cumulative_gdd", perFarm(groups, gdd, cumulativeSum))

	// precipitation
	rain := mapRows(recs, func(r Record) float64 { return r.Rainfall })
	rain30 := perFarm(groups, rain, rolling(LongRainWindow, windowSum))
	t.add("rainfall_lag_7", perFarm(groups, rain, rolling(ShortRainWindow, windowSum)))
	t.add("rainfall_lag_30", rain30)
	t.add("rainfall_variance", perFarm(groups, rain, rolling(LongRainWindow, windowVariance)))

	droughtCut := stats.Quantile(rain30, DroughtQuantile)
	t.add("drought_stress", indicator(rain30, func(v float64) bool { return v < droughtCut }))

	// vegetation
	t.add("ndvi_evi_ratio", mapRows(recs, func(r Record) float64 { return r.NDVI / (r.EVI + ratioEpsilon) }))
	ndvi := mapRows(recs, func(r Record) float64 { return r.NDVI })
	t.add("ndvi_trend", perFarm(groups, ndvi, pctChange(NDVITrendPeriods)))
	t.add("vegetation_health_index", mapRows(recs, func(r Record) float64 { return (r.NDVI + r.EVI + r.SAVI) / 3 }))

	// soil
	t.add("soil_health_score", mapRows(recs, func(r Record) float64 {
		sum := 0.0
		for _, v := range []float64{r.SoilOrganicCarbon, r.SoilPH, r.SoilNitrogen, r.SoilPhosphorus, r.SoilPotassium} {
			if !math.IsNaN(v) {
				sum += v
			}
		}
		return sum / soilFieldCount
	}))

	// weather stress
	t.add("heat_stress", indicator(t.values["max_temperature"], func(v float64) bool { return v > HeatStressC }))
	t.add("cold_stress", indicator(t.values["min_temperature"], func(v float64) bool { return v < ColdStressC }))
	t.add("humidity_stress", indicator(t.values["humidity"], func(v float64) bool {
		return v < HumidityLowPct || v > HumidityHighPct
	}))

	// input efficiency
	t.add("fertilizer_efficiency", mapRows(recs, func(r Record) float64 {
		return r.Yield / (r.FertilizerNitrogen + r.FertilizerPhosphorus + r.FertilizerPotassium + 1)
	}))
	water := make([]float64, n)
	for i, r := range recs {
		water[i] = r.Yield / (r.IrrigationAmount + rain30[i] + 1)
	}
	t.add("water_use_efficiency", water)

	// categorical
	oneHot(t, "crop_variety", mapStrings(recs, func(r Record) string { return r.CropVariety }))
	oneHot(t, "soil_type", mapStrings(recs, func(r Record) string { return r.SoilType }))
	oneHot(t, "irrigation_method", mapStrings(recs, func(r Record) string { return r.IrrigationMethod }))
	oneHot(t, "planting_season", season)

	// yield history
	yield := mapRows(recs, func(r Record) float64 { return r.Yield })
	t.add("yield_lag_1", perFarm(groups, yield, shift(1)))
	t.add("yield_lag_2", perFarm(groups, yield, shift(2)))
	t.add("yield_trend", perFarm(groups, yield, rolling(YieldTrendWindow, windowMean)))

	// economics
	t.add("price_yield_ratio", mapRows(recs, func(r Record) float64 { return r.MarketPrice / (r.Yield + ratioEpsilon) }))
	t.add("profit_margin", mapRows(recs, func(r Record) float64 { return r.MarketPrice*r.Yield - r.TotalCost }))

	return t, nil
}

// farmGroups returns, per farm, the row indices ordered by planting date.
// Farms are listed in order of first appearance.
func farmGroups(recs []Record) [][]int {
	byFarm := make(map[string]int)
	var groups [][]int
	for i, r := range recs {
		g, ok := byFarm[r.FarmID]
		if !ok {
			g = len(groups)
			byFarm[r.FarmID] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}
	for _, g := range groups {
		slices.SortStableFunc(g, func(a, b int) int {
			return cmp.Compare(recs[a].PlantingDate.UnixNano(), recs[b].PlantingDate.UnixNano())
		})
	}
	return groups
}

// perFarm applies a series transform to each farm's ordered values and
// scatters the result back to row positions.
func perFarm(groups [][]int, col []float64, fn func([]float64) []float64) []float64 {
	out := make([]float64, len(col))
	for _, g := range groups {
		series := make([]float64, len(g))
		for k, idx := range g {
			series[k] = col[idx]
		}
		for k, v := range fn(series) {
			out[g[k]] = v
		}
	}
	return out
}

func mapRows(recs []Record, fn func(Record) float64) []float64 {
	out := make([]float64, len(recs))
	for i, r := range recs {
		out[i] = fn(r)
	}
	return out
}

func mapStrings(recs []Record, fn func(Record) string) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = fn(r)
	}
	return out
}

func indicator(col []float64, pred func(float64) bool) []float64 {
	out := make([]float64, len(col))
	for i, v := range col {
		if !math.IsNaN(v) && pred(v) {
			out[i] = 1
		}
	}
	return out
}

// oneHot adds a "<name>_<category>" 0/1 column per distinct non-empty
// category, in sorted category order.
func oneHot(t *Table, name string, values []string) {
	var cats []string
	for _, v := range values {
		if v != "" && !slices.Contains(cats, v) {
			cats = append(cats, v)
		}
	}
	slices.Sort(cats)
	for _, c := range cats {
		col := make([]float64, len(values))
		for i, v := range values {
			if v == c {
				col[i] = 1
			}
		}
		t.add(name+"_"+c, col)
	}
}

// cumulativeSum is a running sum that leaves missing values in place and
// skips them in the total.
func cumulativeSum(s []float64) []float64 {
	out := make([]float64, len(s))
	sum := 0.0
	for i, v := range s {
		if math.IsNaN(v) {
			out[i] = math.NaN()
			continue
		}
		sum += v
		out[i] = sum
	}
	return out
}

// rolling applies agg over trailing windows of size w. Positions without a
// full window of finite values are NaN.
func rolling(w int, agg func([]float64) float64) func([]float64) []float64 {
	return func(s []float64) []float64 {
		out := make([]float64, len(s))
		for i := range s {
			if i+1 < w {
				out[i] = math.NaN()
				continue
			}
			window := s[i+1-w : i+1]
			if slices.ContainsFunc(window, math.IsNaN) {
				out[i] = math.NaN()
				continue
			}
			out[i] = agg(window)
		}
		return out
	}
}

func windowSum(w []float64) float64 {
	s := 0.0
	for _, v := range w {
		s += v
	}
	return s
}

func windowMean(w []float64) float64 {
	return windowSum(w) / float64(len(w))
}

// windowVariance is the sample variance (n-1 denominator).
func windowVariance(w []float64) float64 {
	if len(w) < 2 {
		return math.NaN()
	}
	mean := windowMean(w)
	ss := 0.0
	for _, v := range w {
		ss += (v - mean) * (v - mean)
	}
	return ss / float64(len(w)-1)
}

func shift(k int) func([]float64) []float64 {
	return func(s []float64) []float64 {
		out := make([]float64, len(s))
		for i := range s {
			if i < k {
				out[i] = math.NaN()
			} else {
				out[i] = s[i-k]
			}
		}
		return out
	}
}

// pctChange is s[i]/s[i-k] - 1; a zero base gives ±Inf, which the matrix
// layout later maps to 0.
func pctChange(k int) func([]float64) []float64 {
	return func(s []float64) []float64 {
		out := make([]float64, len(s))
		for i := range s {
			if i < k {
				out[i] = math.NaN()
				continue
			}
			out[i] = s[i]/s[i-k] - 1
		}
		return out
	}
}
