package raster

import (
	"errors"
	"fmt"
	"math"

	"github.com/tidwall/gjson"
)

// Point is a coordinate pair in the image CRS.
type Point struct {
	X, Y float64
}

// Polygon is a parcel boundary. Rings are evaluated with the even-odd rule, so
// holes and the parts of a multipolygon can be listed side by side.
type Polygon struct {
	Rings [][]Point
}

// Contains reports whether (x, y) lies inside the polygon.
func (p *Polygon) Contains(x, y float64) bool {
	in := false
	for _, ring := range p.Rings {
		n := len(ring)
		for i, j := 0, n-1; i < n; j, i = i, i+1 {
			a, b := ring[i], ring[j]
			if (a.Y > y) != (b.Y > y) && x < (b.X-a.X)*(y-a.Y)/(b.Y-a.Y)+a.X {
				in = !in
			}
		}
	}
	return in
}

// Bounds returns the extent of all rings.
func (p *Polygon) Bounds() Bounds {
	b := Bounds{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1)}
	for _, ring := range p.Rings {
		for _, pt := range ring {
			b.MinX = math.Min(b.MinX, pt.X)
			b.MaxX = math.Max(b.MaxX, pt.X)
			b.MinY = math.Min(b.MinY, pt.Y)
			b.MaxY = math.Max(b.MaxY, pt.Y)
		}
	}
	return b
}

// ParsePolygon reads a GeoJSON Polygon or MultiPolygon, either bare or wrapped
// in a Feature or the first entry of a FeatureCollection.
func ParsePolygon(data []byte) (*Polygon, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("boundary is not valid JSON")
	}
	return PolygonFromResult(gjson.ParseBytes(data))
}

// PolygonFromResult is ParsePolygon over an already extracted gjson value.
func PolygonFromResult(geom gjson.Result) (*Polygon, error) {
	switch geom.Get("type").String() {
	case "FeatureCollection":
		return PolygonFromResult(geom.Get("features.0.geometry"))
	case "Feature":
		return PolygonFromResult(geom.Get("geometry"))
	}

	var polys []gjson.Result
	switch t := geom.Get("type").String(); t {
	case "Polygon":
		polys = []gjson.Result{geom.Get("coordinates")}
	case "MultiPolygon":
		polys = geom.Get("coordinates").Array()
	default:
		return nil, fmt.Errorf("unsupported geometry type %q", t)
	}

	p := &Polygon{}
	for _, poly := range polys {
		for _, ringVal := range poly.Array() {
			coords := ringVal.Array()
			if len(coords) < 3 {
				return nil, fmt.Errorf("ring has %d positions, need at least 3", len(coords))
			}
			ring := make([]Point, 0, len(coords))
			for _, c := range coords {
				xy := c.Array()
				if len(xy) < 2 {
					return nil, errors.New("position needs two coordinates")
				}
				ring = append(ring, Point{X: xy[0].Float(), Y: xy[1].Float()})
			}
			p.Rings = append(p.Rings, ring)
		}
	}
	if len(p.Rings) == 0 {
		return nil, errors.New("geometry has no rings")
	}
	return p, nil
}
