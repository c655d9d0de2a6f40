// Package zones partitions a field into management zones by clustering the
// per-pixel vegetation index vectors.
package zones

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/HatiCode/agroyield/pkg/errs"
	"github.com/HatiCode/agroyield/pkg/indices"
)

// Excluded is the zone id of pixels lacking a finite feature vector.
const Excluded = -1

// MinValidPixels is the smallest number of valid pixels that can be zoned.
const MinValidPixels = 10

// Features are the indices clustered per pixel.
var Features = []string{indices.NDVI, indices.EVI, indices.SAVI, indices.GNDVI}

// Options tune the clustering. Zero MaxIter or NInit fall back to the
// defaults; Seed is used as given, so 0 is a valid seed.
type Options struct {
	Seed    uint64
	MaxIter int
	NInit   int
}

// DefaultOptions returns the clustering defaults.
func DefaultOptions() Options {
	return Options{Seed: 42, MaxIter: 300, NInit: 10}
}

// IndexStats summarizes one index over a zone.
type IndexStats struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// Zone describes one management zone.
type Zone struct {
	ID              int                   `json:"zone_id"`
	PixelCount      int                   `json:"pixel_count"`
	AreaPercentage  float64               `json:"area_percentage"`
	Characteristics map[string]IndexStats `json:"characteristics"`
	Recommendations []string              `json:"recommendations"`
}

// Map is the zoning result. Labels holds one zone id per pixel, Excluded for
// pixels left out of the clustering.
type Map struct {
	K           int    `json:"num_zones"`
	ValidPixels int    `json:"valid_pixels"`
	Labels      []int  `json:"-"`
	Zones       []Zone `json:"zones"`
}

// ZoneCount returns the adaptive cluster count for n valid pixels:
// clamp(n/100, 2, 5).
func ZoneCount(n int) int {
	return min(5, max(2, n/100))
}

// Generate clusters the valid pixels of set into management zones. Fewer
// than MinValidPixels valid pixels yields an insufficient_data Result.
func Generate(set indices.Set, opts Options) errs.Result[Map] {
	opts = withDefaults(opts)

	total := set.Pixels()
	for _, f := range Features {
		if len(set[f]) != total {
			return errs.Fail[Map](errs.New(errs.CodeInvalidInput, "index %q missing or misaligned", f))
		}
	}

	valid := make([]int, 0, total)
	for i := 0; i < total; i++ {
		ok := true
		for _, f := range Features {
			if v := set[f][i]; math.IsNaN(v) || math.IsInf(v, 0) {
				ok = false
				break
			}
		}
		if ok {
			valid = append(valid, i)
		}
	}
	if len(valid) < MinValidPixels {
		return errs.Fail[Map](errs.New(errs.CodeInsufficientData,
			"%d valid pixels, need at least %d", len(valid), MinValidPixels))
	}

	points := standardize(set, valid)
	k := ZoneCount(len(valid))
	km := kmeans{
		k:       k,
		maxIter: opts.MaxIter,
		nInit:   opts.NInit,
		tol:     1e-4,
		rng:     rand.New(rand.NewPCG(opts.Seed, opts.Seed)),
	}
	c := km.fit(points)

	m := Map{K: k, ValidPixels: len(valid), Labels: make([]int, total)}
	for i := range m.Labels {
		m.Labels[i] = Excluded
	}
	for j, px := range valid {
		m.Labels[px] = c.labels[j]
	}

	m.Zones = describe(set, m.Labels, k, total)
	return errs.OK(m)
}

// standardize builds one feature vector per valid pixel, scaled to zero mean
// and unit population variance per feature. Constant features are centred only.
func standardize(set indices.Set, valid []int) [][]float64 {
	points := make([][]float64, len(valid))
	for j := range points {
		points[j] = make([]float64, len(Features))
	}
	col := make([]float64, len(valid))
	for d, f := range Features {
		for j, px := range valid {
			col[j] = set[f][px]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		if std == 0 {
			std = 1
		}
		for j := range points {
			points[j][d] = (col[j] - mean) / std
		}
	}
	return points
}

func describe(set indices.Set, labels []int, k, total int) []Zone {
	names := set.Names()
	zones := make([]Zone, k)
	members := make([][]int, k)
	for px, z := range labels {
		if z != Excluded {
			members[z] = append(members[z], px)
		}
	}

	for z := range zones {
		zones[z] = Zone{
			ID:              z,
			PixelCount:      len(members[z]),
			AreaPercentage:  float64(len(members[z])) / float64(total) * 100,
			Characteristics: make(map[string]IndexStats, len(names)),
		}
		for _, name := range names {
			vals := make([]float64, 0, len(members[z]))
			for _, px := range members[z] {
				if v := set[name][px]; !math.IsNaN(v) && !math.IsInf(v, 0) {
					vals = append(vals, v)
				}
			}
			if len(vals) == 0 {
				continue
			}
			mean, std := stat.PopMeanStdDev(vals, nil)
			zones[z].Characteristics[name] = IndexStats{
				Mean: mean,
				Std:  std,
				Min:  floats.Min(vals),
				Max:  floats.Max(vals),
			}
		}
		if zones[z].PixelCount > 0 {
			zones[z].Recommendations = Recommend(zones[z].Characteristics[indices.NDVI].Mean)
		}
	}
	return zones
}

// Recommend returns the zone-level actions for a zone's mean NDVI.
func Recommend(meanNDVI float64) []string {
	switch {
	case meanNDVI > 0.6:
		return []string{"Zone performing well, maintain current practices"}
	case meanNDVI > 0.4:
		return []string{"Consider moderate fertilizer application"}
	default:
		return []string{
			"Requires immediate attention",
			"Investigate water and nutrient availability",
			"Consider replanting if necessary",
		}
	}
}

func withDefaults(o Options) Options {
	d := DefaultOptions()
	if o.MaxIter <= 0 {
		o.MaxIter = d.MaxIter
	}
	if o.NInit <= 0 {
		o.NInit = d.NInit
	}
	return o
}
