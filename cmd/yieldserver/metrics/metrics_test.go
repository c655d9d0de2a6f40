package metrics

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/HatiCode/agroyield/pkg/errs"
)

func TestMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveRequest("predict", http.StatusOK, 20*time.Millisecond)
	m.RecordPrediction("ensemble", 12)
	m.RecordStage("indices", 0.01)
	m.RecordOutcome("zones", errs.StatusInsufficientData)
	m.RecordOutcome("zones", errs.StatusInsufficientData)
	m.RecordReload(false, true)

	if got := testutil.ToFloat64(m.PredictedRows.WithLabelValues("ensemble")); got != 12 {
		t.Errorf("predicted rows = %v", got)
	}
	if got := testutil.ToFloat64(m.AnalysisOutcomes.WithLabelValues("zones", "insufficient_data")); got != 2 {
		t.Errorf("zones outcomes = %v", got)
	}
	if got := testutil.ToFloat64(m.ReloadsTotal.WithLabelValues("failure")); got != 1 {
		t.Errorf("failed reloads = %v", got)
	}
	if got := testutil.ToFloat64(m.ModelsLoaded); got != 1 {
		t.Errorf("models loaded = %v", got)
	}
	if got := testutil.CollectAndCount(m.RequestSeconds); got != 1 {
		t.Errorf("request series = %d", got)
	}
}
