package footprint

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/footprint-impact/internal/model"
)

func pointTable() *model.AssetTable {
	pt := func(x, y float64) *geom.Point { return geom.NewPointFlat(geom.XY, []float64{x, y}) }
	return &model.AssetTable{
		Fields: []string{"facility_category", "ultimate_parent_name"},
		Assets: []model.Asset{
			{ID: 0, Geometry: pt(5.55, -4.51), Attributes: map[string]any{"facility_category": "mine", "ultimate_parent_name": "A"}},
			{ID: 1, Geometry: pt(12.9, -12.9), Attributes: map[string]any{"facility_category": "restaurant", "ultimate_parent_name": "A"}},
			{ID: 2, Geometry: pt(6.09, -20.06), Attributes: map[string]any{"facility_category": "mine", "ultimate_parent_name": "B"}},
		},
	}
}

func buffers() *model.BufferCatalog {
	return model.NewBufferCatalog("buffers.csv", "facility_category", []model.BufferEntry{
		{Category: "mine", TargetArea: 12.5},
		{Category: "restaurant", TargetArea: 3},
		{Category: "farm", TargetArea: 40},
	})
}

// shoelace returns the signed area and centroid of a closed ring.
func shoelace(flat []float64) (area, cx, cy float64) {
	n := len(flat)/2 - 1
	for i := 0; i < n; i++ {
		x0, y0 := flat[2*i], flat[2*i+1]
		x1, y1 := flat[2*i+2], flat[2*i+3]
		cross := x0*y1 - x1*y0
		area += cross
		cx += (x0 + x1) * cross
		cy += (y0 + y1) * cross
	}
	area /= 2
	return area, cx / (6 * area), cy / (6 * area)
}

func TestBuild(t *testing.T) {
	in := pointTable()
	out, err := Build(in, buffers(), Options{})
	require.NoError(t, err)
	require.Len(t, out.Assets, 3)

	targets := []float64{12.5, 3, 12.5}
	for i, a := range out.Assets {
		poly, ok := a.Geometry.(*geom.Polygon)
		require.True(t, ok, "asset %d is %T", i, a.Geometry)
		ring := poly.LinearRing(0)
		assert.Equal(t, MinSegments+1, ring.NumCoords())

		flat := ring.FlatCoords()
		assert.Equal(t, flat[:2], flat[len(flat)-2:], "ring must be closed")

		area, cx, cy := shoelace(flat)
		assert.Greater(t, area, 0.0, "ring must be counter-clockwise")
		assert.InEpsilon(t, targets[i], area, 0.005)

		src := in.Assets[i].Geometry.FlatCoords()
		assert.InDelta(t, src[0], cx, 1e-6)
		assert.InDelta(t, src[1], cy, 1e-6)

		assert.Equal(t, in.Assets[i].Attributes, a.Attributes)
		assert.Equal(t, i, a.ID)
	}

	// The input keeps its points.
	_, ok := in.Assets[0].Geometry.(*geom.Point)
	assert.True(t, ok)
}

func TestBuild_Segments(t *testing.T) {
	out, err := Build(pointTable(), buffers(), Options{Segments: 128})
	require.NoError(t, err)
	poly := out.Assets[0].Geometry.(*geom.Polygon)
	assert.Equal(t, 129, poly.LinearRing(0).NumCoords())

	_, err = Build(pointTable(), buffers(), Options{Segments: 16})
	assert.True(t, model.IsConfigurationError(err))
}

func TestBuild_VerticesOnCircle(t *testing.T) {
	p := Circle(1, 2, 3, 64)
	flat := p.FlatCoords()
	for i := 0; i < len(flat); i += 2 {
		assert.InDelta(t, 3.0, math.Hypot(flat[i]-1, flat[i+1]-2), 1e-12)
	}
}

func TestBuild_MissingCategories(t *testing.T) {
	in := pointTable()
	in.Assets[1].Attributes["facility_category"] = "quarry"
	in.Assets[2].Attributes["facility_category"] = "airport"

	_, err := Build(in, buffers(), Options{})
	require.Error(t, err)
	assert.True(t, model.IsConfigurationError(err))
	assert.Contains(t, err.Error(), `"airport", "quarry"`)
}

func TestBuild_MissingAttribute(t *testing.T) {
	in := pointTable()
	cat := model.NewBufferCatalog("buffers.csv", "kind", nil)

	_, err := Build(in, cat, Options{})
	assert.True(t, model.IsConfigurationError(err))
}

func TestBuild_RejectsPolygons(t *testing.T) {
	in := pointTable()
	in.Assets[0].Geometry = Circle(0, 0, 1, 64)

	_, err := Build(in, buffers(), Options{})
	require.Error(t, err)
	assert.True(t, model.IsGeometryTypeError(err))
	assert.Contains(t, err.Error(), "Polygon=1")
}
