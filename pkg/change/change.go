// Package change compares a field's current vegetation indices against
// historical acquisitions and fits a linear trend over the NDVI deltas.
package change

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/HatiCode/agroyield/pkg/errs"
	"github.com/HatiCode/agroyield/pkg/indices"
	"github.com/HatiCode/agroyield/pkg/raster"
)

// MaxComparisons is how many of the most recent historical images are compared.
const MaxComparisons = 3

// SlopeThreshold separates stable trends from improving or declining ones.
const SlopeThreshold = 0.05

// Direction classifies a trend slope.
type Direction string

const (
	Stable    Direction = "stable"
	Improving Direction = "improving"
	Declining Direction = "declining"
)

// Reference identifies a historical acquisition of the same parcel.
type Reference struct {
	ID         string    `json:"id"`
	AcquiredAt time.Time `json:"acquired_at"`
	URI        string    `json:"uri"`
}

// ImageSource loads the raster behind a Reference.
type ImageSource interface {
	Fetch(ctx context.Context, ref Reference) (*raster.Image, error)
}

// DeltaStats summarizes current minus historical values of one index.
type DeltaStats struct {
	MeanChange float64 `json:"mean_change"`
	StdChange  float64 `json:"std_change"`
	MaxChange  float64 `json:"max_change"`
	MinChange  float64 `json:"min_change"`
}

// Comparison holds the deltas against one historical image, keyed
// "<index>_change".
type Comparison struct {
	Reference   Reference             `json:"historical_image"`
	ComparedAt  time.Time             `json:"comparison_date"`
	Differences map[string]DeltaStats `json:"differences"`
}

// Trend is the linear fit over the mean NDVI deltas, oldest first.
type Trend struct {
	Direction         Direction `json:"trend_direction"`
	Slope             float64   `json:"trend_slope"`
	AverageChange     float64   `json:"average_change"`
	ChangeVariability float64   `json:"change_variability"`
	Points            int       `json:"points"`
}

// Report is the change detection outcome.
type Report struct {
	Comparisons []Comparison `json:"changes"`
	Trend       Trend        `json:"trend_analysis"`
}

// Analyzer runs change detection. It holds no per-request state and is safe
// for concurrent use.
type Analyzer struct {
	source ImageSource
	logger *slog.Logger
	now    func() time.Time
}

// NewAnalyzer creates an Analyzer reading historical rasters from source.
func NewAnalyzer(source ImageSource, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{source: source, logger: logger, now: time.Now}
}

// Analyze compares current (clipped to boundary) against the most recent
// MaxComparisons of refs. A failing comparison is logged and skipped.
func (a *Analyzer) Analyze(ctx context.Context, current *raster.Image, boundary *raster.Polygon, refs []Reference) errs.Result[Report] {
	if len(refs) == 0 {
		return errs.Fail[Report](errs.New(errs.CodeNoHistoricalData, "no historical images"))
	}
	currentSet, err := clipAndCompute(current, boundary)
	if err != nil {
		return errs.Fail[Report](fmt.Errorf("current image: %w", err))
	}
	return a.AnalyzeSet(ctx, currentSet, boundary, refs)
}

// AnalyzeSet is Analyze for a current image whose indices were already
// computed over boundary. Historical images are still clipped to boundary.
func (a *Analyzer) AnalyzeSet(ctx context.Context, currentSet indices.Set, boundary *raster.Polygon, refs []Reference) errs.Result[Report] {
	if len(refs) == 0 {
		return errs.Fail[Report](errs.New(errs.CodeNoHistoricalData, "no historical images"))
	}

	ordered := slices.Clone(refs)
	slices.SortStableFunc(ordered, func(x, y Reference) int {
		return x.AcquiredAt.Compare(y.AcquiredAt)
	})
	if len(ordered) > MaxComparisons {
		ordered = ordered[len(ordered)-MaxComparisons:]
	}

	report := Report{}
	for _, ref := range ordered {
		if err := ctx.Err(); err != nil {
			return errs.Fail[Report](err)
		}
		cmp, err := a.compare(ctx, currentSet, boundary, ref)
		if err != nil {
			a.logger.Warn("historical comparison skipped", "image", ref.ID, "error", err)
			continue
		}
		report.Comparisons = append(report.Comparisons, cmp)
	}

	trend, err := FitTrend(ndviDeltas(report.Comparisons))
	if err != nil {
		return errs.Fail[Report](err)
	}
	report.Trend = trend
	return errs.OK(report)
}

func (a *Analyzer) compare(ctx context.Context, current indices.Set, boundary *raster.Polygon, ref Reference) (Comparison, error) {
	img, err := a.source.Fetch(ctx, ref)
	if err != nil {
		return Comparison{}, fmt.Errorf("fetch: %w", err)
	}
	hist, err := clipAndCompute(img, boundary)
	if err != nil {
		return Comparison{}, err
	}

	diffs := Diff(current, hist)
	if len(diffs) == 0 {
		return Comparison{}, fmt.Errorf("no comparable indices")
	}
	return Comparison{Reference: ref, ComparedAt: a.now().UTC(), Differences: diffs}, nil
}

// Diff computes current minus historical statistics for every index the two
// sets share. Pixels where either side is not finite are ignored; indices of
// mismatched size are skipped.
func Diff(current, historical indices.Set) map[string]DeltaStats {
	out := make(map[string]DeltaStats)
	for name, cur := range current {
		hist, ok := historical[name]
		if !ok || len(hist) != len(cur) {
			continue
		}
		delta := make([]float64, 0, len(cur))
		for i := range cur {
			d := cur[i] - hist[i]
			if !math.IsNaN(d) && !math.IsInf(d, 0) {
				delta = append(delta, d)
			}
		}
		if len(delta) == 0 {
			continue
		}
		mean, std := stat.PopMeanStdDev(delta, nil)
		out[name+"_change"] = DeltaStats{
			MeanChange: mean,
			StdChange:  std,
			MaxChange:  floats.Max(delta),
			MinChange:  floats.Min(delta),
		}
	}
	return out
}

// FitTrend fits a first-degree least-squares line to deltas indexed 0..n-1.
// A single delta has slope 0.
func FitTrend(deltas []float64) (Trend, error) {
	if len(deltas) == 0 {
		return Trend{}, errs.New(errs.CodeInsufficientTrendData, "no ndvi deltas to fit")
	}

	slope := 0.0
	if len(deltas) > 1 {
		xs := make([]float64, len(deltas))
		for i := range xs {
			xs[i] = float64(i)
		}
		_, slope = stat.LinearRegression(xs, deltas, nil, false)
	}

	mean, std := stat.PopMeanStdDev(deltas, nil)
	return Trend{
		Direction:         Classify(slope),
		Slope:             slope,
		AverageChange:     mean,
		ChangeVariability: std,
		Points:            len(deltas),
	}, nil
}

// Classify maps a slope to a Direction using SlopeThreshold.
func Classify(slope float64) Direction {
	switch {
	case slope > SlopeThreshold:
		return Improving
	case slope < -SlopeThreshold:
		return Declining
	default:
		return Stable
	}
}

func ndviDeltas(cmps []Comparison) []float64 {
	var out []float64
	for _, c := range cmps {
		if d, ok := c.Differences[indices.NDVI+"_change"]; ok {
			out = append(out, d.MeanChange)
		}
	}
	return out
}

func clipAndCompute(img *raster.Image, boundary *raster.Polygon) (indices.Set, error) {
	if img == nil {
		return nil, fmt.Errorf("nil image")
	}
	if boundary != nil {
		clipped, err := raster.Clip(img, boundary)
		if err != nil {
			return nil, fmt.Errorf("clip: %w", err)
		}
		img = clipped
	}
	return indices.Compute(img)
}
