// Package router configures the yield server's HTTP API.
//
// Routes:
//   - POST /predict: score farm-season records with the loaded models
//   - POST /analyze: run the imagery pipeline over one field
//   - GET /model: the current model selection
//   - GET /healthz: 200 once an artifact set is loaded, 503 before
//   - GET /metrics: Prometheus metrics
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/HatiCode/agroyield/pkg/analysis"
	"github.com/HatiCode/agroyield/pkg/change"
	"github.com/HatiCode/agroyield/pkg/ensemble"
	"github.com/HatiCode/agroyield/pkg/errs"
	"github.com/HatiCode/agroyield/pkg/features"
	"github.com/HatiCode/agroyield/pkg/httpx"
	"github.com/HatiCode/agroyield/pkg/raster"
)

// Predictor serves yield predictions. *ensemble.Registry implements it.
type Predictor interface {
	PredictWithModel(ctx context.Context, records []features.Record, useEnsemble bool) ([]float64, string, error)
	Selection() (ensemble.Selection, bool)
}

// Analyzer runs field analyses. *analysis.Processor implements it.
type Analyzer interface {
	Analyze(ctx context.Context, req analysis.Request) (*analysis.Report, error)
}

// Recorder receives per-request telemetry. All methods may be skipped by
// passing a nil Recorder.
type Recorder interface {
	ObserveRequest(route string, status int, elapsed time.Duration)
	RecordPrediction(model string, rows int)
}

// Deps are the route dependencies.
type Deps struct {
	Predictor      Predictor
	Analyzer       Analyzer
	Metrics        http.Handler
	Recorder       Recorder
	Logger         *slog.Logger
	MaxBodyBytes   int64
	RequestTimeout time.Duration
}

// PredictRequest is the body of POST /predict. UseEnsemble defaults to true.
type PredictRequest struct {
	Records     []features.Record `json:"records"`
	UseEnsemble *bool             `json:"use_ensemble,omitempty"`
}

// PredictResponse is the answer of POST /predict. Predictions align with
// the request records.
type PredictResponse struct {
	Predictions []float64 `json:"predictions"`
	Model       string    `json:"model"`
}

// AnalyzeRequest is the body of POST /analyze. Boundary is GeoJSON.
type AnalyzeRequest struct {
	FarmID     string             `json:"farm_id"`
	AcquiredAt time.Time          `json:"acquired_at"`
	Image      *raster.Image      `json:"image"`
	Boundary   json.RawMessage    `json:"boundary,omitempty"`
	History    []change.Reference `json:"history,omitempty"`
}

// SetupRoutes configures the HTTP endpoints.
func SetupRoutes(d Deps) *http.ServeMux {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.MaxBodyBytes <= 0 {
		d.MaxBodyBytes = 64 << 20
	}
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 60 * time.Second
	}

	var observe httpx.Observer
	if d.Recorder != nil {
		observe = d.Recorder.ObserveRequest
	}
	wrap := func(route string, h http.Handler) http.Handler {
		return httpx.LoggingMiddleware(d.Logger, route, observe)(httpx.RecoveryMiddleware(d.Logger)(h))
	}

	mux := http.NewServeMux()
	mux.Handle("GET /healthz", httpx.HealthHandler(func() error {
		if _, ok := d.Predictor.Selection(); !ok {
			return errs.ModelNotTrained()
		}
		return nil
	}))
	mux.Handle("POST /predict", wrap("predict", handlePredict(d)))
	mux.Handle("POST /analyze", wrap("analyze", handleAnalyze(d)))
	mux.Handle("GET /model", wrap("model", handleModel(d)))
	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics)
	}
	return mux
}

func handlePredict(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PredictRequest
		if !decode(w, r, d.MaxBodyBytes, &req) {
			return
		}
		if len(req.Records) == 0 {
			httpx.WriteError(w, errs.New(errs.CodeInvalidInput, "records cannot be empty"))
			return
		}
		useEnsemble := req.UseEnsemble == nil || *req.UseEnsemble

		ctx, cancel := context.WithTimeout(r.Context(), d.RequestTimeout)
		defer cancel()

		preds, model, err := d.Predictor.PredictWithModel(ctx, req.Records, useEnsemble)
		if err != nil {
			logFailure(d.Logger, "prediction failed", err)
			httpx.WriteError(w, err)
			return
		}
		if d.Recorder != nil {
			d.Recorder.RecordPrediction(model, len(preds))
		}
		if err := httpx.WriteJSON(w, http.StatusOK, PredictResponse{Predictions: preds, Model: model}); err != nil {
			d.Logger.Error("failed to write JSON response", "error", err)
		}
	}
}

func handleAnalyze(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AnalyzeRequest
		if !decode(w, r, d.MaxBodyBytes, &req) {
			return
		}

		areq := analysis.Request{
			FarmID:     req.FarmID,
			AcquiredAt: req.AcquiredAt,
			Image:      req.Image,
			History:    req.History,
		}
		if len(req.Boundary) > 0 && string(req.Boundary) != "null" {
			poly, err := raster.ParsePolygon(req.Boundary)
			if err != nil {
				httpx.WriteError(w, errs.Wrap(errs.CodeInvalidInput, err, "boundary"))
				return
			}
			areq.Boundary = poly
		}

		ctx, cancel := context.WithTimeout(r.Context(), d.RequestTimeout)
		defer cancel()

		report, err := d.Analyzer.Analyze(ctx, areq)
		if err != nil {
			logFailure(d.Logger, "analysis failed", err)
			httpx.WriteError(w, err)
			return
		}
		if err := httpx.WriteJSON(w, http.StatusOK, report); err != nil {
			d.Logger.Error("failed to write JSON response", "error", err)
		}
	}
}

func handleModel(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sel, ok := d.Predictor.Selection()
		if !ok {
			httpx.WriteError(w, errs.ModelNotTrained())
			return
		}
		if err := httpx.WriteJSON(w, http.StatusOK, sel); err != nil {
			d.Logger.Error("failed to write JSON response", "error", err)
		}
	}
}

// decode reads a JSON body into v, answering 413 or 400 itself on failure.
func decode(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.WriteErrorMessage(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		httpx.WriteErrorMessage(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}
	return true
}

// logFailure logs client errors at warn and everything else at error.
func logFailure(logger *slog.Logger, msg string, err error) {
	if errs.CodeOf(err).HTTPStatus() < http.StatusInternalServerError {
		logger.Warn(msg, "error", err, "code", errs.CodeOf(err))
		return
	}
	logger.Error(msg, "error", err)
}
