package raster

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/footprint-impact/internal/model"
)

// ring is a closed ring as x,y pairs.
type ring []float64

// ZonalStats computes min, max, sum, valid count and nodata count of r under
// each polygonal geometry.
//
// A pixel is under a footprint when its centre is inside it. Footprints that
// contain no pixel centre fall back to every pixel their bounding box
// touches. Pixels outside the grid are ignored.
func ZonalStats(r *Raster, geoms []geom.T) ([]model.ZonalResult, error) {
	if !r.Loaded() {
		return nil, eris.Errorf("raster: %s opened without pixel data", r.Path)
	}
	out := make([]model.ZonalResult, len(geoms))
	for i, g := range geoms {
		polys, err := polygonRings(g)
		if err != nil {
			return nil, eris.Wrapf(err, "raster: zonal stats feature %d", i)
		}
		if len(polys) == 0 {
			continue
		}
		out[i] = r.zonal(g.Bounds(), polys)
	}
	return out, nil
}

func (r *Raster) zonal(b *geom.Bounds, polys [][]ring) model.ZonalResult {
	r0, r1, c0, c1, ok := r.window(b)
	if !ok {
		return model.ZonalResult{}
	}

	var acc accumulator
	for row := r0; row <= r1; row++ {
		cy := r.OriginY + (float64(row)+0.5)*r.PixelHeight
		for col := c0; col <= c1; col++ {
			cx := r.OriginX + (float64(col)+0.5)*r.PixelWidth
			if containsAny(polys, cx, cy) {
				acc.add(r.At(row, col))
			}
		}
	}
	if acc.touched() == 0 {
		for row := r0; row <= r1; row++ {
			for col := c0; col <= c1; col++ {
				acc.add(r.At(row, col))
			}
		}
	}
	return acc.result()
}

// window returns the inclusive pixel range touched by b, clipped to the grid.
func (r *Raster) window(b *geom.Bounds) (r0, r1, c0, c1 int, ok bool) {
	c0, c1 = span((b.Min(0)-r.OriginX)/r.PixelWidth, (b.Max(0)-r.OriginX)/r.PixelWidth)
	r0, r1 = span((b.Min(1)-r.OriginY)/r.PixelHeight, (b.Max(1)-r.OriginY)/r.PixelHeight)
	c0, c1 = max(c0, 0), min(c1, r.Cols-1)
	r0, r1 = max(r0, 0), min(r1, r.Rows-1)
	if c0 > c1 || r0 > r1 {
		return 0, 0, 0, 0, false
	}
	return r0, r1, c0, c1, true
}

// span converts a fractional pixel interval to the inclusive index range it
// touches. An upper edge lying exactly on a pixel boundary does not touch the
// next pixel.
func span(a, b float64) (int, int) {
	lo, hi := math.Min(a, b), math.Max(a, b)
	i0 := int(math.Floor(lo))
	i1 := int(math.Ceil(hi)) - 1
	if i1 < i0 {
		i1 = i0
	}
	return i0, i1
}

type accumulator struct {
	min, max    float64
	sum         float64
	count       int
	nodataCount int
}

func (a *accumulator) add(v float64, valid bool) {
	if !valid {
		a.nodataCount++
		return
	}
	if a.count == 0 || v < a.min {
		a.min = v
	}
	if a.count == 0 || v > a.max {
		a.max = v
	}
	a.sum += v
	a.count++
}

func (a *accumulator) touched() int { return a.count + a.nodataCount }

func (a *accumulator) result() model.ZonalResult {
	res := model.ZonalResult{Sum: a.sum, Count: a.count, NodataCount: a.nodataCount}
	if a.count > 0 {
		res.Min = model.Some(a.min)
		res.Max = model.Some(a.max)
	}
	return res
}

// polygonRings flattens a Polygon or MultiPolygon into per-polygon rings.
func polygonRings(g geom.T) ([][]ring, error) {
	switch t := g.(type) {
	case *geom.Polygon:
		if t.Empty() {
			return nil, nil
		}
		return [][]ring{polygonToRings(t)}, nil
	case *geom.MultiPolygon:
		out := make([][]ring, 0, t.NumPolygons())
		for i := 0; i < t.NumPolygons(); i++ {
			p := t.Polygon(i)
			if p.Empty() {
				continue
			}
			out = append(out, polygonToRings(p))
		}
		return out, nil
	default:
		return nil, eris.Errorf("geometry is %s, not Polygon or MultiPolygon", model.GeometryType(g))
	}
}

func polygonToRings(p *geom.Polygon) []ring {
	rings := make([]ring, 0, p.NumLinearRings())
	for i := 0; i < p.NumLinearRings(); i++ {
		lr := p.LinearRing(i)
		flat, stride := lr.FlatCoords(), lr.Stride()
		rg := make(ring, 0, len(flat)/stride*2)
		for j := 0; j+1 < len(flat); j += stride {
			rg = append(rg, flat[j], flat[j+1])
		}
		rings = append(rings, rg)
	}
	return rings
}

func containsAny(polys [][]ring, x, y float64) bool {
	for _, rings := range polys {
		if contains(rings, x, y) {
			return true
		}
	}
	return false
}

// contains applies the even-odd rule across a polygon's shell and holes.
func contains(rings []ring, x, y float64) bool {
	inside := false
	for _, rg := range rings {
		n := len(rg) / 2
		if n < 3 {
			continue
		}
		j := n - 1
		for i := 0; i < n; i++ {
			xi, yi := rg[2*i], rg[2*i+1]
			xj, yj := rg[2*j], rg[2*j+1]
			if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
				inside = !inside
			}
			j = i
		}
	}
	return inside
}
