package health

import (
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/HatiCode/agroyield/pkg/indices"
)

func TestClassify_Boundaries(t *testing.T) {
	tests := []struct {
		ndvi float64
		want Label
	}{
		{-1, Stressed},
		{0.19999, Stressed},
		{0.2, Moderate},
		{0.3333, Moderate},
		{0.39999, Moderate},
		{0.4, Good},
		{0.59999, Good},
		{0.6, Excellent},
		{1, Excellent},
		{math.NaN(), NoData},
	}

	for _, tt := range tests {
		if got := Classify(tt.ndvi); got != tt.want {
			t.Errorf("Classify(%v) = %q, want %q", tt.ndvi, got, tt.want)
		}
	}
}

func TestAssess_UniformModerateField(t *testing.T) {
	ndvi := make([]float64, 100)
	for i := range ndvi {
		ndvi[i] = 0.3 / 0.9
	}

	a, err := Assess(indices.Set{indices.NDVI: ndvi})
	if err != nil {
		t.Fatalf("Assess() error = %v", err)
	}

	if math.Abs(a.OverallScore-100.0/3) > 1e-9 {
		t.Errorf("OverallScore = %v, want 33.33", a.OverallScore)
	}
	if a.CoveragePercentage != 100 || a.StressPercentage != 0 || a.HealthyPercentage != 0 {
		t.Errorf("percentages = %v/%v/%v", a.CoveragePercentage, a.StressPercentage, a.HealthyPercentage)
	}
	if a.Zones[Moderate].PixelCount != 100 || a.Zones[Moderate].Percentage != 100 {
		t.Errorf("moderate zone = %+v", a.Zones[Moderate])
	}
	if len(a.Issues) != 0 {
		t.Errorf("Issues = %v, want none", a.Issues)
	}
	if !slices.Contains(a.Recommendations, "Implement immediate intervention measures") {
		t.Errorf("low score should add emergency recommendations, got %v", a.Recommendations)
	}
}

func TestAssess_LabelsPartitionPixels(t *testing.T) {
	ndvi := []float64{-0.5, 0.1, 0.2, 0.35, 0.4, 0.55, 0.6, 0.9, math.NaN()}

	a, err := Assess(indices.Set{indices.NDVI: ndvi})
	if err != nil {
		t.Fatalf("Assess() error = %v", err)
	}

	total := 0
	for _, l := range Labels {
		total += a.Zones[l].PixelCount
	}
	if total != 8 {
		t.Errorf("zone counts sum to %d, want 8 finite pixels", total)
	}
	want := []Label{Stressed, Stressed, Moderate, Moderate, Good, Good, Excellent, Excellent, NoData}
	if !slices.Equal(a.PixelLabels, want) {
		t.Errorf("PixelLabels = %v, want %v", a.PixelLabels, want)
	}
}

func TestAssess_Issues(t *testing.T) {
	tests := []struct {
		name       string
		ndvi       []float64
		wantIssues []string
	}{
		{
			name:       "healthy field",
			ndvi:       []float64{0.7, 0.75, 0.8, 0.72},
			wantIssues: nil,
		},
		{
			name:       "stressed and sparse",
			ndvi:       []float64{0.1, 0.1, 0.1, 0.7},
			wantIssues: []string{IssueHighStress, IssueLowCoverage},
		},
		{
			name:       "high variability",
			ndvi:       []float64{-0.5, 0.9, 0.9, 0.9, 0.9},
			wantIssues: []string{IssueHighVariability},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Assess(indices.Set{indices.NDVI: tt.ndvi})
			if err != nil {
				t.Fatalf("Assess() error = %v", err)
			}
			if !slices.Equal(a.Issues, tt.wantIssues) {
				t.Errorf("Issues = %v, want %v", a.Issues, tt.wantIssues)
			}
		})
	}
}

func TestAssess_NoNDVI(t *testing.T) {
	_, err := Assess(indices.Set{indices.NDVI: {math.NaN()}})
	if !errors.Is(err, ErrNoNDVI) {
		t.Errorf("Assess() error = %v, want ErrNoNDVI", err)
	}
}
