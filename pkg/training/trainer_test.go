package training

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"

	"github.com/HatiCode/agroyield/internal/fixture"
	"github.com/HatiCode/agroyield/pkg/errs"
	"github.com/HatiCode/agroyield/pkg/models"
)

type recorder struct {
	mu     sync.Mutex
	stages map[string]int
	trials map[string]int
	scores map[string][2]float64
}

func newRecorder() *recorder {
	return &recorder{stages: map[string]int{}, trials: map[string]int{}, scores: map[string][2]float64{}}
}

func (r *recorder) RecordStage(stage string, _ float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages[stage]++
}

func (r *recorder) RecordTrials(family string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trials[family] += n
}

func (r *recorder) SetFamilyScore(family string, rmse, r2 float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scores[family] = [2]float64{rmse, r2}
}

func quickConfig() Config {
	cfg := DefaultConfig()
	cfg.Trials = 2
	cfg.Folds = 3
	cfg.Parallel = 2
	cfg.MLP.Hidden = []int{8}
	cfg.MLP.Dropout = nil
	cfg.MLP.Epochs = 10
	return cfg
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTrainer_Run(t *testing.T) {
	records := fixture.Records(80, 4, 1)
	rec := newRecorder()
	tr := New(quickConfig(), nil, discard(), rec)

	res, err := tr.Run(context.Background(), records)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(res.Handles) != len(models.Families) {
		t.Fatalf("got %d handles, want %d", len(res.Handles), len(models.Families))
	}
	for i, h := range res.Handles {
		if h.Family != models.Families[i] {
			t.Errorf("handle %d family = %s, want %s", i, h.Family, models.Families[i])
		}
		if len(h.Predictions) != res.TestRows {
			t.Errorf("%s: %d predictions for %d test rows", h.Family, len(h.Predictions), res.TestRows)
		}
		if math.IsNaN(h.RMSE) || h.RMSE < 0 {
			t.Errorf("%s: RMSE = %v", h.Family, h.RMSE)
		}
		if h.Model == nil || h.Params == nil {
			t.Errorf("%s: missing model or params", h.Family)
		}
		if _, ok := rec.scores[string(h.Family)]; !ok {
			t.Errorf("%s: score not recorded", h.Family)
		}
	}

	if res.TrainRows+res.TestRows != len(records) {
		t.Errorf("train %d + test %d != %d rows", res.TrainRows, res.TestRows, len(records))
	}
	if len(res.TestTarget) != res.TestRows {
		t.Errorf("TestTarget has %d rows, want %d", len(res.TestTarget), res.TestRows)
	}
	if len(res.Scaler.Mean) != len(res.FeatureColumns) {
		t.Errorf("scaler has %d columns, feature list %d", len(res.Scaler.Mean), len(res.FeatureColumns))
	}
	for _, c := range res.FeatureColumns {
		if c == "yield" || c == "farm_id" {
			t.Errorf("feature columns include %q", c)
		}
	}
	if rec.trials[string(models.RandomForest)] != 2 {
		t.Errorf("forest trials recorded = %d, want 2", rec.trials[string(models.RandomForest)])
	}
	if rec.stages["features"] != 1 || rec.stages["split"] != 1 {
		t.Errorf("stages recorded = %v", rec.stages)
	}

	best, ok := res.Best()
	if !ok {
		t.Fatal("Best() found nothing")
	}
	for _, h := range res.Handles {
		if h.RMSE < best.RMSE {
			t.Errorf("Best() = %s (%v) but %s has %v", best.Family, best.RMSE, h.Family, h.RMSE)
		}
	}
	if _, ok := res.Handle(models.NeuralNetwork); !ok {
		t.Error("Handle(neural_network) missing")
	}
}

func TestTrainer_Run_SplitAtCutoff(t *testing.T) {
	records := fixture.Records(60, 3, 2)
	cfg := quickConfig()
	cfg.Families = []models.Family{models.GBDTDepthwise}

	res, err := New(cfg, nil, discard(), nil).Run(context.Background(), records)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	var before int
	for _, r := range records {
		if r.PlantingDate.Before(res.Cutoff) {
			before++
		}
	}
	if before != res.TrainRows {
		t.Errorf("%d rows precede cutoff, TrainRows = %d", before, res.TrainRows)
	}
}

func TestTrainer_Run_Errors(t *testing.T) {
	tests := []struct {
		name     string
		cfg      func() Config
		records  int
		ctx      func() context.Context
		wantCode errs.Code
	}{
		{
			name:     "no families",
			cfg:      func() Config { c := quickConfig(); c.Families = nil; return c },
			records:  40,
			wantCode: errs.CodeConfiguration,
		},
		{
			name:     "too few rows for folds",
			cfg:      quickConfig,
			records:  4,
			wantCode: errs.CodeInsufficientData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg(), nil, discard(), nil).Run(context.Background(), fixture.Records(tt.records, 2, 3))
			if !errs.Is(err, tt.wantCode) {
				t.Errorf("Run() error = %v, want code %s", err, tt.wantCode)
			}
		})
	}
}

func TestTrainer_Run_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(quickConfig(), nil, discard(), nil).Run(ctx, fixture.Records(60, 3, 4))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestTrainer_Run_EmptyRecords(t *testing.T) {
	if _, err := New(quickConfig(), nil, discard(), nil).Run(context.Background(), nil); err == nil {
		t.Error("Run() with no records should fail")
	}
}
