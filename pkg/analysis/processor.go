// Package analysis runs the per-field imagery pipeline:
//
//	clip → indices → health → zones → change
//
// Clipping and index computation failures abort the request. The three
// downstream steps are independent: each reports its own errs.Result so a
// field with no history still gets its health and zone reports.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/HatiCode/agroyield/pkg/change"
	"github.com/HatiCode/agroyield/pkg/errs"
	"github.com/HatiCode/agroyield/pkg/features"
	"github.com/HatiCode/agroyield/pkg/health"
	"github.com/HatiCode/agroyield/pkg/indices"
	"github.com/HatiCode/agroyield/pkg/raster"
	"github.com/HatiCode/agroyield/pkg/stats"
	"github.com/HatiCode/agroyield/pkg/zones"
)

// Stage names reported to the Recorder.
const (
	StageClip    = "clip"
	StageIndices = "indices"
	StageHealth  = "health"
	StageZones   = "zones"
	StageChange  = "change"
)

// Recorder receives stage timings and step outcomes. Implementations must be
// safe for concurrent use.
type Recorder interface {
	RecordStage(stage string, seconds float64)
	RecordOutcome(stage string, status errs.Status)
}

// Historian lists prior acquisitions of a farm.
type Historian interface {
	History(ctx context.Context, farmID string, before time.Time) ([]change.Reference, error)
}

// Request is one field to analyze. Boundary is optional; without it the whole
// image is used. History, when empty, is looked up through the Historian
// using FarmID and AcquiredAt.
type Request struct {
	FarmID     string
	AcquiredAt time.Time
	Image      *raster.Image
	Boundary   *raster.Polygon
	History    []change.Reference
}

// IndexSummary describes one index over the valid pixels of the field.
type IndexSummary struct {
	Mean        float64 `json:"mean"`
	Std         float64 `json:"std"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	ValidPixels int     `json:"valid_pixels"`
}

// Report is the outcome of one analysis.
type Report struct {
	FarmID     string                         `json:"farm_id,omitempty"`
	AnalyzedAt time.Time                      `json:"analyzed_at"`
	Width      int                            `json:"width"`
	Height     int                            `json:"height"`
	Indices    map[string]IndexSummary        `json:"indices"`
	Health     errs.Result[health.Assessment] `json:"health"`
	Zones      errs.Result[zones.Map]         `json:"zones"`
	Change     errs.Result[change.Report]     `json:"change"`
}

// Apply copies the field-level NDVI, EVI and SAVI means into rec so the
// record can be fed to the yield model. Indices without valid pixels are
// left untouched.
func (r *Report) Apply(rec *features.Record) {
	set := func(name string, dst *float64) {
		if s, ok := r.Indices[name]; ok && s.ValidPixels > 0 {
			*dst = s.Mean
		}
	}
	set(indices.NDVI, &rec.NDVI)
	set(indices.EVI, &rec.EVI)
	set(indices.SAVI, &rec.SAVI)
}

// Processor is safe for concurrent use.
type Processor struct {
	analyzer  *change.Analyzer
	historian Historian
	zoneOpts  zones.Options
	logger    *slog.Logger
	metrics   Recorder
	now       func() time.Time
}

// NewProcessor creates a Processor. source and historian may be nil, in which
// case change detection reports an error status for every request.
func NewProcessor(source change.ImageSource, historian Historian, zoneOpts zones.Options, logger *slog.Logger, metrics Recorder) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Processor{
		historian: historian,
		zoneOpts:  zoneOpts,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
	if source != nil {
		p.analyzer = change.NewAnalyzer(source, logger)
	}
	return p
}

// Analyze runs the pipeline over req.
func (p *Processor) Analyze(ctx context.Context, req Request) (*Report, error) {
	start := p.now()
	if req.Image == nil {
		return nil, errs.New(errs.CodeInvalidInput, "image is required")
	}

	img := req.Image
	if req.Boundary != nil {
		var clipped *raster.Image
		err := p.timed(StageClip, func() error {
			var err error
			clipped, err = raster.Clip(req.Image, req.Boundary)
			return err
		})
		if err != nil {
			return nil, errs.Wrap(errs.CodeInvalidInput, err, "clip to boundary")
		}
		img = clipped
	}

	var set indices.Set
	err := p.timed(StageIndices, func() error {
		var err error
		set, err = indices.Compute(img)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("compute indices: %w", err)
	}

	report := &Report{
		FarmID:     req.FarmID,
		AnalyzedAt: start.UTC(),
		Width:      img.Width,
		Height:     img.Height,
		Indices:    summarize(set),
	}

	_ = p.timed(StageHealth, func() error {
		report.Health = assessHealth(set)
		return report.Health.Err
	})
	p.record(StageHealth, report.Health.Status)

	_ = p.timed(StageZones, func() error {
		report.Zones = zones.Generate(set, p.zoneOpts)
		return report.Zones.Err
	})
	p.record(StageZones, report.Zones.Status)

	_ = p.timed(StageChange, func() error {
		report.Change = p.detectChange(ctx, req, set)
		return report.Change.Err
	})
	p.record(StageChange, report.Change.Status)

	p.logger.Info("analysis complete",
		"farm", req.FarmID,
		"pixels", set.Pixels(),
		"health", report.Health.Status,
		"zones", report.Zones.Status,
		"change", report.Change.Status,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return report, nil
}

func (p *Processor) detectChange(ctx context.Context, req Request, current indices.Set) errs.Result[change.Report] {
	if p.analyzer == nil {
		return errs.Fail[change.Report](errs.Configuration("imagery client not configured"))
	}

	refs := req.History
	if len(refs) == 0 && p.historian != nil && req.FarmID != "" {
		before := req.AcquiredAt
		if before.IsZero() {
			before = p.now()
		}
		found, err := p.historian.History(ctx, req.FarmID, before)
		if err != nil {
			p.logger.Warn("history lookup failed", "farm", req.FarmID, "error", err)
			return errs.Fail[change.Report](fmt.Errorf("history lookup: %w", err))
		}
		refs = found
	}
	return p.analyzer.AnalyzeSet(ctx, current, req.Boundary, refs)
}

func (p *Processor) timed(stage string, fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	if p.metrics != nil {
		p.metrics.RecordStage(stage, elapsed.Seconds())
	}
	p.logger.Debug("analysis stage", "stage", stage, "duration_ms", elapsed.Milliseconds(), "error", err)
	return err
}

func (p *Processor) record(stage string, status errs.Status) {
	if p.metrics != nil {
		p.metrics.RecordOutcome(stage, status)
	}
}

func assessHealth(set indices.Set) errs.Result[health.Assessment] {
	a, err := health.Assess(set)
	if errors.Is(err, health.ErrNoNDVI) {
		return errs.Fail[health.Assessment](errs.Wrap(errs.CodeInsufficientData, err, "health"))
	}
	if err != nil {
		return errs.Fail[health.Assessment](err)
	}
	return errs.OK(a)
}

func summarize(set indices.Set) map[string]IndexSummary {
	out := make(map[string]IndexSummary, len(set))
	for name, values := range set {
		finite := stats.Finite(values)
		if len(finite) == 0 {
			out[name] = IndexSummary{}
			continue
		}
		mean, std, n := stats.MeanStd(finite)
		lo, hi := finite[0], finite[0]
		for _, v := range finite[1:] {
			lo = min(lo, v)
			hi = max(hi, v)
		}
		out[name] = IndexSummary{Mean: mean, Std: std, Min: lo, Max: hi, ValidPixels: n}
	}
	return out
}
