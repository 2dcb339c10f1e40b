package vector

import (
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/footprint-impact/internal/model"
	"github.com/sells-group/footprint-impact/internal/srs"
)

// readShapefile reads point or polygon features and their dBASE attributes.
// Numeric fields (N, F) decode to float64, logical fields to bool.
func readShapefile(path string) (*model.AssetTable, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "vector: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.TrimRight(f.String(), "\x00")
	}

	t := &model.AssetTable{Fields: names}
	for reader.Next() {
		n, shape := reader.Shape()

		attrs := make(map[string]any, len(fields))
		for i, f := range fields {
			val := strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
			attrs[names[i]] = dbfValue(f.Fieldtype, val)
		}

		g, err := shapeToGeom(shape)
		if err != nil {
			return nil, eris.Wrapf(err, "vector: shapefile %s record %d", path, n)
		}
		t.Assets = append(t.Assets, model.Asset{Geometry: g, Attributes: attrs})
	}

	def, err := srs.ReadSidecar(path)
	if err != nil {
		return nil, err
	}
	t.SRS = def
	return t, nil
}

func dbfValue(fieldType byte, val string) any {
	if val == "" {
		return nil
	}
	switch fieldType {
	case 'N', 'F':
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	case 'L':
		switch strings.ToUpper(val) {
		case "T", "Y":
			return true
		case "F", "N":
			return false
		}
		return nil
	}
	return val
}

// shapeToGeom converts a go-shp shape. Null shapes map to a nil geometry;
// line shapes are passed through so geometry validation can name them.
func shapeToGeom(shape shp.Shape) (geom.T, error) {
	switch s := shape.(type) {
	case nil, *shp.Null:
		return nil, nil
	case *shp.Point:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y}), nil
	case *shp.PointZ:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y}), nil
	case *shp.Polygon:
		return partsToPolygon(s.Parts, s.Points), nil
	case *shp.PolygonZ:
		return partsToPolygon(s.Parts, s.Points), nil
	case *shp.PolyLine:
		return geom.NewLineStringFlat(geom.XY, flatPoints(s.Points)), nil
	case *shp.MultiPoint:
		return geom.NewMultiPointFlat(geom.XY, flatPoints(s.Points)), nil
	default:
		return nil, eris.Errorf("unsupported shape type %T", shape)
	}
}

// partsToPolygon groups shapefile rings into polygons. Shells are clockwise
// and holes counter-clockwise; each hole belongs to the preceding shell.
func partsToPolygon(parts []int32, points []shp.Point) geom.T {
	if len(parts) == 0 || len(points) == 0 {
		return nil
	}

	var polys [][][]float64
	for i := range parts {
		start := parts[i]
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		// A ring needs three distinct vertices plus closure.
		if start < 0 || start > end || end > int32(len(points)) || end-start < 4 {
			continue
		}
		ring := flatPoints(points[start:end])
		if signedArea(ring) <= 0 || len(polys) == 0 {
			polys = append(polys, [][]float64{ring})
			continue
		}
		last := len(polys) - 1
		polys[last] = append(polys[last], ring)
	}

	switch len(polys) {
	case 0:
		return nil
	case 1:
		return polygonFromRings(polys[0])
	}
	mp := geom.NewMultiPolygon(geom.XY)
	for _, rings := range polys {
		_ = mp.Push(polygonFromRings(rings))
	}
	return mp
}

func polygonFromRings(rings [][]float64) *geom.Polygon {
	var flat []float64
	ends := make([]int, 0, len(rings))
	for _, r := range rings {
		flat = append(flat, r...)
		ends = append(ends, len(flat))
	}
	return geom.NewPolygonFlat(geom.XY, flat, ends)
}

// flatPoints converts shapefile points to flat XY coordinates for go-geom.
func flatPoints(points []shp.Point) []float64 {
	flat := make([]float64, 0, len(points)*2)
	for _, p := range points {
		flat = append(flat, p.X, p.Y)
	}
	return flat
}

// signedArea is positive for counter-clockwise rings.
func signedArea(flat []float64) float64 {
	n := len(flat) / 2
	var a float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		a += flat[2*i]*flat[2*j+1] - flat[2*j]*flat[2*i+1]
	}
	return a / 2
}
