package raster

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/footprint-impact/internal/model"
)

// Sample returns the value of the pixel containing (x, y). Points outside the
// grid and nodata pixels yield an undefined value.
func Sample(r *Raster, x, y float64) model.NullFloat {
	row, col, ok := r.pixelOf(x, y)
	if !ok {
		return model.None()
	}
	v, valid := r.At(row, col)
	if !valid {
		return model.None()
	}
	return model.Some(v)
}

// SamplePoints samples r under each point geometry.
func SamplePoints(r *Raster, geoms []geom.T) ([]model.NullFloat, error) {
	if !r.Loaded() {
		return nil, eris.Errorf("raster: %s opened without pixel data", r.Path)
	}
	out := make([]model.NullFloat, len(geoms))
	for i, g := range geoms {
		p, ok := g.(*geom.Point)
		if !ok {
			return nil, eris.Errorf("raster: sample geometry %d is %s, not Point", i, model.GeometryType(g))
		}
		if p.Empty() {
			continue
		}
		out[i] = Sample(r, p.X(), p.Y())
	}
	return out, nil
}
