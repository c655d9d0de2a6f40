// Package indices computes per-pixel vegetation, water and burn indices from
// a multi-band raster.
//
// Every ratio uses a guarded division that yields 0 where the denominator is
// 0, and every result is clamped to [-1, 1]. No-data pixels (NaN in any band
// used by an index) stay NaN so downstream consumers can exclude them.
package indices

import (
	"math"
	"slices"

	"github.com/HatiCode/agroyield/pkg/errs"
	"github.com/HatiCode/agroyield/pkg/raster"
)

// Index names.
const (
	NDVI      = "ndvi"
	EVI       = "evi"
	SAVI      = "savi"
	GNDVI     = "gndvi"
	NDWI      = "ndwi"
	OSAVI     = "osavi"
	MCARI     = "mcari"
	NDMI      = "ndmi"
	NBR       = "nbr"
	SWIRRatio = "swir_ratio"
)

// Set maps an index name to its per-pixel values. All arrays share the
// raster's row-major layout.
type Set map[string][]float64

// Names returns the index names in sorted order.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for k := range s {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

// Pixels returns the per-index array length, or 0 for an empty set.
func (s Set) Pixels() int {
	for _, v := range s {
		return len(v)
	}
	return 0
}

// Compute derives the index set from img. The SWIR indices are present only
// when the image carries the corresponding bands.
func Compute(img *raster.Image) (Set, error) {
	if len(img.Bands) < raster.MinBands {
		return nil, errs.InsufficientBands(len(img.Bands))
	}
	if err := img.Validate(); err != nil {
		return nil, errs.Wrap(errs.CodeInvalidInput, err, "raster")
	}

	blue := img.Band(raster.Blue)
	green := img.Band(raster.Green)
	red := img.Band(raster.Red)
	nir := img.Band(raster.NIR)
	n := img.Pixels()

	set := Set{
		NDVI:  make([]float64, n),
		EVI:   make([]float64, n),
		SAVI:  make([]float64, n),
		GNDVI: make([]float64, n),
		NDWI:  make([]float64, n),
		OSAVI: make([]float64, n),
		MCARI: make([]float64, n),
	}
	for i := 0; i < n; i++ {
		b, g, r, ni := blue[i], green[i], red[i], nir[i]
		set[NDVI][i] = clamp(div(ni-r, ni+r))
		set[EVI][i] = clamp(2.5 * div(ni-r, ni+6*r-7.5*b+1))
		set[SAVI][i] = clamp(1.5 * div(ni-r, ni+r+0.5))
		set[GNDVI][i] = clamp(div(ni-g, ni+g))
		set[NDWI][i] = clamp(div(g-ni, g+ni))
		set[OSAVI][i] = clamp(div(ni-r, ni+r+0.16))
		set[MCARI][i] = clamp(0.8 * (r - g) * div(r, g))
	}

	if swir1 := img.Band(raster.SWIR1); swir1 != nil {
		ndmi := make([]float64, n)
		for i := 0; i < n; i++ {
			ndmi[i] = clamp(div(nir[i]-swir1[i], nir[i]+swir1[i]))
		}
		set[NDMI] = ndmi
		// nbr shares ndmi's band pair
		set[NBR] = slices.Clone(ndmi)

		if swir2 := img.Band(raster.SWIR2); swir2 != nil {
			ratio := make([]float64, n)
			for i := 0; i < n; i++ {
				ratio[i] = clamp(div(swir1[i], swir2[i]))
			}
			set[SWIRRatio] = ratio
		}
	}

	return set, nil
}

// div is num/den with 0 substituted where den is 0. NaN operands propagate.
func div(num, den float64) float64 {
	if den == 0 {
		if math.IsNaN(num) {
			return num
		}
		return 0
	}
	q := num / den
	if math.IsInf(q, 0) {
		return 0
	}
	return q
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return v
	}
	return math.Max(-1, math.Min(1, v))
}
