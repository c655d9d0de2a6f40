// Package health scores crop condition from an NDVI array and labels every
// pixel with a health zone.
package health

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/HatiCode/agroyield/pkg/indices"
	"github.com/HatiCode/agroyield/pkg/stats"
)

// Label is a per-pixel health class.
type Label string

const (
	Stressed  Label = "stressed"
	Moderate  Label = "moderate"
	Good      Label = "good"
	Excellent Label = "excellent"
	// NoData marks pixels without a finite NDVI value.
	NoData Label = ""
)

// Labels lists the health classes in ascending order.
var Labels = []Label{Stressed, Moderate, Good, Excellent}

// NDVI thresholds.
const (
	StressCeiling    = 0.2
	ModerateCeiling  = 0.4
	GoodCeiling      = 0.6
	CoverageFloor    = 0.3
	HealthyFloor     = 0.6
	stressIssuePct   = 20.0
	coverageIssuePct = 70.0
	variabilityStd   = 0.3
	lowScore         = 50.0
)

// Issue identifiers.
const (
	IssueHighStress      = "high_stress_areas"
	IssueLowCoverage     = "low_vegetation_coverage"
	IssueHighVariability = "high_variability"
)

var issueRecommendations = map[string][]string{
	IssueHighStress: {
		"Investigate irrigation system in stressed areas",
		"Check for pest or disease presence",
		"Consider soil testing in affected zones",
	},
	IssueLowCoverage: {
		"Review planting density",
		"Check seed germination rates",
		"Assess soil preparation quality",
	},
}

var lowScoreRecommendations = []string{
	"Implement immediate intervention measures",
	"Increase monitoring frequency",
	"Consider emergency nutrient application",
}

// ZoneShare is the size of one health class.
type ZoneShare struct {
	PixelCount int     `json:"pixel_count"`
	Percentage float64 `json:"percentage"`
}

// Assessment summarizes field health.
type Assessment struct {
	OverallScore       float64             `json:"overall_health_score"`
	CoveragePercentage float64             `json:"vegetation_coverage"`
	StressPercentage   float64             `json:"stress_percentage"`
	HealthyPercentage  float64             `json:"healthy_percentage"`
	NDVIStd            float64             `json:"ndvi_std"`
	Zones              map[Label]ZoneShare `json:"health_zones"`
	Issues             []string            `json:"issues"`
	Recommendations    []string            `json:"recommendations"`
	PixelLabels        []Label             `json:"-"`
}

// ErrNoNDVI is returned when the set has no usable NDVI values.
var ErrNoNDVI = errors.New("index set has no finite ndvi values")

// Classify maps an NDVI value to its health label. Boundaries belong to the
// upper class.
func Classify(ndvi float64) Label {
	switch {
	case math.IsNaN(ndvi):
		return NoData
	case ndvi < StressCeiling:
		return Stressed
	case ndvi < ModerateCeiling:
		return Moderate
	case ndvi < GoodCeiling:
		return Good
	default:
		return Excellent
	}
}

// Assess computes the health assessment for set. Percentages are relative to
// the pixels with a finite NDVI.
func Assess(set indices.Set) (Assessment, error) {
	ndvi := stats.Finite(set[indices.NDVI])
	if len(ndvi) == 0 {
		return Assessment{}, ErrNoNDVI
	}
	n := float64(len(ndvi))

	var covered, stressed, healthy int
	for _, v := range ndvi {
		if v > CoverageFloor {
			covered++
		}
		if v < StressCeiling {
			stressed++
		}
		if v > HealthyFloor {
			healthy++
		}
	}

	mean, std := stat.PopMeanStdDev(ndvi, nil)
	a := Assessment{
		OverallScore:       mean * 100,
		CoveragePercentage: float64(covered) / n * 100,
		StressPercentage:   float64(stressed) / n * 100,
		HealthyPercentage:  float64(healthy) / n * 100,
		NDVIStd:            std,
		Zones:              make(map[Label]ZoneShare, len(Labels)),
		PixelLabels:        make([]Label, len(set[indices.NDVI])),
	}

	counts := make(map[Label]int, len(Labels))
	for i, v := range set[indices.NDVI] {
		l := Classify(v)
		a.PixelLabels[i] = l
		if l != NoData {
			counts[l]++
		}
	}
	for _, l := range Labels {
		a.Zones[l] = ZoneShare{PixelCount: counts[l], Percentage: float64(counts[l]) / n * 100}
	}

	if a.StressPercentage > stressIssuePct {
		a.Issues = append(a.Issues, IssueHighStress)
	}
	if a.CoveragePercentage < coverageIssuePct {
		a.Issues = append(a.Issues, IssueLowCoverage)
	}
	if std > variabilityStd {
		a.Issues = append(a.Issues, IssueHighVariability)
	}

	a.Recommendations = recommend(a.Issues, a.OverallScore)
	return a, nil
}

func recommend(issues []string, score float64) []string {
	recs := []string{}
	for _, issue := range issues {
		recs = append(recs, issueRecommendations[issue]...)
	}
	if score < lowScore {
		recs = append(recs, lowScoreRecommendations...)
	}
	return recs
}
