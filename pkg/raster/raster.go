// Package raster holds the multi-band image model consumed by the analysis
// pipeline and the boundary clipping that precedes index computation.
package raster

import (
	"errors"
	"fmt"
	"math"
)

// Band order expected by the index engine. SWIR bands are optional.
const (
	Blue = iota
	Green
	Red
	NIR
	SWIR1
	SWIR2
)

// MinBands is the number of bands every image must carry.
const MinBands = 4

// Transform maps pixel coordinates to the image CRS. PixelHeight is negative
// for north-up imagery.
type Transform struct {
	OriginX     float64 `json:"origin_x"`
	OriginY     float64 `json:"origin_y"`
	PixelWidth  float64 `json:"pixel_width"`
	PixelHeight float64 `json:"pixel_height"`
}

// Center returns the CRS coordinates of the centre of pixel (col, row).
func (t Transform) Center(col, row int) (x, y float64) {
	return t.OriginX + (float64(col)+0.5)*t.PixelWidth,
		t.OriginY + (float64(row)+0.5)*t.PixelHeight
}

// Bounds is an axis-aligned extent in CRS units.
type Bounds struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// Image is a stack of equally sized bands stored row-major. A NaN sample is
// a no-data pixel.
type Image struct {
	Width     int         `json:"width"`
	Height    int         `json:"height"`
	Bands     [][]float64 `json:"bands"`
	Transform Transform   `json:"transform"`
}

// Validate checks that every band has Width×Height samples.
func (img *Image) Validate() error {
	if img.Width <= 0 || img.Height <= 0 {
		return fmt.Errorf("invalid image size %dx%d", img.Width, img.Height)
	}
	n := img.Width * img.Height
	for i, b := range img.Bands {
		if len(b) != n {
			return fmt.Errorf("band %d has %d samples, want %d", i, len(b), n)
		}
	}
	return nil
}

// Pixels is the number of samples per band.
func (img *Image) Pixels() int {
	return img.Width * img.Height
}

// Band returns band i, or nil when the image does not carry it.
func (img *Image) Band(i int) []float64 {
	if i < 0 || i >= len(img.Bands) {
		return nil
	}
	return img.Bands[i]
}

// Bounds returns the extent covered by the image.
func (img *Image) Bounds() Bounds {
	t := img.Transform
	x0, x1 := t.OriginX, t.OriginX+float64(img.Width)*t.PixelWidth
	y0, y1 := t.OriginY, t.OriginY+float64(img.Height)*t.PixelHeight
	return Bounds{
		MinX: math.Min(x0, x1), MaxX: math.Max(x0, x1),
		MinY: math.Min(y0, y1), MaxY: math.Max(y0, y1),
	}
}

// ErrNoOverlap is returned by Clip when the boundary does not intersect the image.
var ErrNoOverlap = errors.New("boundary does not overlap image")

// Clip crops img to the pixel window covering boundary and masks every pixel
// whose centre falls outside it with NaN. The input image is not modified.
func Clip(img *Image, boundary *Polygon) (*Image, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}
	if boundary == nil || len(boundary.Rings) == 0 {
		return nil, errors.New("empty boundary")
	}
	if img.Transform.PixelWidth == 0 || img.Transform.PixelHeight == 0 {
		return nil, errors.New("image transform has zero pixel size")
	}

	c0, c1, r0, r1 := window(img, boundary.Bounds())
	if c0 >= c1 || r0 >= r1 {
		return nil, ErrNoOverlap
	}

	t := img.Transform
	out := &Image{
		Width:  c1 - c0,
		Height: r1 - r0,
		Bands:  make([][]float64, len(img.Bands)),
		Transform: Transform{
			OriginX:     t.OriginX + float64(c0)*t.PixelWidth,
			OriginY:     t.OriginY + float64(r0)*t.PixelHeight,
			PixelWidth:  t.PixelWidth,
			PixelHeight: t.PixelHeight,
		},
	}
	for b := range out.Bands {
		out.Bands[b] = make([]float64, out.Width*out.Height)
	}

	inside := 0
	for r := r0; r < r1; r++ {
		for c := c0; c < c1; c++ {
			x, y := t.Center(c, r)
			dst := (r-r0)*out.Width + (c - c0)
			keep := boundary.Contains(x, y)
			if keep {
				inside++
			}
			for b, band := range img.Bands {
				if keep {
					out.Bands[b][dst] = band[r*img.Width+c]
				} else {
					out.Bands[b][dst] = math.NaN()
				}
			}
		}
	}
	if inside == 0 {
		return nil, ErrNoOverlap
	}
	return out, nil
}

// window returns the half-open column and row ranges of pixels intersecting b.
func window(img *Image, b Bounds) (c0, c1, r0, r1 int) {
	t := img.Transform
	colA := (b.MinX - t.OriginX) / t.PixelWidth
	colB := (b.MaxX - t.OriginX) / t.PixelWidth
	rowA := (b.MinY - t.OriginY) / t.PixelHeight
	rowB := (b.MaxY - t.OriginY) / t.PixelHeight

	c0 = clampInt(int(math.Floor(math.Min(colA, colB))), 0, img.Width)
	c1 = clampInt(int(math.Ceil(math.Max(colA, colB))), 0, img.Width)
	r0 = clampInt(int(math.Floor(math.Min(rowA, rowB))), 0, img.Height)
	r1 = clampInt(int(math.Ceil(math.Max(rowA, rowB))), 0, img.Height)
	return c0, c1, r0, r1
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
