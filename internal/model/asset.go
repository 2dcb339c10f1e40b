package model

import (
	"fmt"
	"maps"
	"strconv"

	"github.com/twpayne/go-geom"
)

// Mode selects how asset geometries are interpreted.
type Mode string

const (
	ModePoints   Mode = "points"
	ModePolygons Mode = "polygons"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModePoints, ModePolygons:
		return Mode(s), nil
	default:
		return "", NewConfigurationError("mode", "must be %q or %q, got %q", ModePoints, ModePolygons, s)
	}
}

// Asset is one physical facility. ID is the zero-based feature index in the
// input vector and is the join key across every stage.
type Asset struct {
	ID         int
	Geometry   geom.T
	Attributes map[string]any

	// Per-service results keyed by service ID. Only the maps relevant to the
	// run mode are populated.
	Footprint  map[string]FootprintStats
	Point      map[string]PointSample
	Percentile map[string]PercentileRank
}

// Attr returns an attribute rendered as a string, and whether it was present.
// Integral floats render without a decimal point so numeric category codes
// match their CSV spelling.
func (a *Asset) Attr(name string) (string, bool) {
	v, ok := a.Attributes[name]
	if !ok || v == nil {
		return "", ok
	}
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	default:
		return fmt.Sprint(t), true
	}
}

// Area returns the planar area of the asset's geometry, zero for points.
func (a *Asset) Area() float64 {
	return GeometryArea(a.Geometry)
}

// AssetTable is the in-memory asset vector passed between stages.
type AssetTable struct {
	// Fields lists the original attribute names in output order.
	Fields []string
	// SRS is the spatial reference definition (WKT or authority code), "" if unknown.
	SRS    string
	Assets []Asset
}

// Clone returns a copy whose assets can gain results or new geometries
// without affecting the receiver. Geometries are shared; stages replace
// them rather than mutating in place.
func (t *AssetTable) Clone() *AssetTable {
	out := &AssetTable{
		Fields: append([]string(nil), t.Fields...),
		SRS:    t.SRS,
		Assets: make([]Asset, len(t.Assets)),
	}
	for i, a := range t.Assets {
		out.Assets[i] = Asset{
			ID:         a.ID,
			Geometry:   a.Geometry,
			Attributes: maps.Clone(a.Attributes),
			Footprint:  maps.Clone(a.Footprint),
			Point:      maps.Clone(a.Point),
			Percentile: maps.Clone(a.Percentile),
		}
	}
	return out
}

// HasField reports whether name is one of the table's attribute fields.
func (t *AssetTable) HasField(name string) bool {
	for _, f := range t.Fields {
		if f == name {
			return true
		}
	}
	return false
}

// GeometryType returns the simple-features type name of g.
func GeometryType(g geom.T) string {
	switch g.(type) {
	case *geom.Point:
		return "Point"
	case *geom.MultiPoint:
		return "MultiPoint"
	case *geom.LineString:
		return "LineString"
	case *geom.MultiLineString:
		return "MultiLineString"
	case *geom.Polygon:
		return "Polygon"
	case *geom.MultiPolygon:
		return "MultiPolygon"
	case *geom.GeometryCollection:
		return "GeometryCollection"
	case nil:
		return "None"
	default:
		return fmt.Sprintf("%T", g)
	}
}

// GeometryArea returns the planar area of polygonal geometries, zero otherwise.
func GeometryArea(g geom.T) float64 {
	switch t := g.(type) {
	case *geom.Polygon:
		return t.Area()
	case *geom.MultiPolygon:
		return t.Area()
	default:
		return 0
	}
}

// CheckGeometryTypes returns a GeometryTypeError when any asset geometry's
// type is not one of expected.
func CheckGeometryTypes(t *AssetTable, path string, expected ...string) error {
	allowed := make(map[string]bool, len(expected))
	for _, e := range expected {
		allowed[e] = true
	}
	found := make(map[string]int)
	for i := range t.Assets {
		gt := GeometryType(t.Assets[i].Geometry)
		if !allowed[gt] {
			found[gt]++
		}
	}
	if len(found) == 0 {
		return nil
	}
	return &GeometryTypeError{Path: path, Expected: expected, Found: found}
}
