package raster

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/footprint-impact/internal/model"
)

// sequenceRaster is a 10x10 grid of 2x2 pixels with values 0..99, upper-left
// corner at (2, -2).
func sequenceRaster(t *testing.T) *Raster {
	t.Helper()
	vals := make([]float64, 100)
	for i := range vals {
		vals[i] = float64(i)
	}
	r, err := New(10, 10, 2, -2, 2, -2, model.Some(255), vals)
	require.NoError(t, err)
	return r
}

// bandedRaster is a 10x7 grid whose row i holds i/2, with row 1 all nodata.
func bandedRaster(t *testing.T) *Raster {
	t.Helper()
	vals := make([]float64, 0, 70)
	for row := 0; row < 7; row++ {
		for col := 0; col < 10; col++ {
			v := float64(row) / 2
			if row == 1 {
				v = 255
			}
			vals = append(vals, v)
		}
	}
	r, err := New(10, 7, 2, -2, 2, -2, model.Some(255), vals)
	require.NoError(t, err)
	return r
}

func TestNew_Validation(t *testing.T) {
	_, err := New(0, 2, 0, 0, 1, -1, model.None(), nil)
	assert.Error(t, err)

	_, err = New(2, 2, 0, 0, 1, -1, model.None(), []float64{1, 2, 3})
	assert.Error(t, err)

	_, err = New(1, 1, 0, 0, 1, 1, model.None(), []float64{1})
	assert.Error(t, err, "south-up grids are rejected")
}

func TestPixelArea(t *testing.T) {
	r := sequenceRaster(t)
	assert.Equal(t, 4.0, r.PixelArea())
}

func TestWriteOpen_RoundTrip(t *testing.T) {
	r := bandedRaster(t)
	r.SRS = "EPSG:32731"
	path := filepath.Join(t.TempDir(), "es_2.asc")
	require.NoError(t, Write(path, r))

	got, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, path, got.Path)
	assert.Equal(t, 10, got.Cols)
	assert.Equal(t, 7, got.Rows)
	assert.Equal(t, 2.0, got.OriginX)
	assert.Equal(t, -2.0, got.OriginY)
	assert.Equal(t, 2.0, got.PixelWidth)
	assert.Equal(t, -2.0, got.PixelHeight)
	assert.Equal(t, model.Some(255), got.Nodata)
	assert.Equal(t, "EPSG:32731", got.SRS)
	assert.Equal(t, r.data, got.data)

	info, err := ReadInfo(path)
	require.NoError(t, err)
	assert.False(t, info.Loaded())
	assert.Equal(t, 4.0, info.PixelArea())
}

func TestOpen_CenterHeaderAndRectangularPixels(t *testing.T) {
	grid := strings.Join([]string{
		"NCOLS 2",
		"NROWS 2",
		"XLLCENTER 1",
		"YLLCENTER 0.5",
		"DX 2",
		"DY 1",
		"1 2",
		"3 nan",
	}, "\n")
	path := filepath.Join(t.TempDir(), "grid.asc")
	require.NoError(t, os.WriteFile(path, []byte(grid), 0o644))

	r, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, 0.0, r.OriginX)
	assert.Equal(t, 2.0, r.OriginY)
	assert.Equal(t, 2.0, r.PixelArea())
	assert.False(t, r.Nodata.Valid)

	assert.Equal(t, model.Some(1), Sample(r, 0.5, 1.5))
	assert.Equal(t, model.Some(3), Sample(r, 0.5, 0.5))
	assert.False(t, Sample(r, 3, 0.5).Valid, "NaN pixels are nodata")
}

func TestOpen_Errors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		body string
	}{
		{"missing size", "xllcorner 0\nyllcorner 0\ncellsize 1\n1"},
		{"missing cellsize", "ncols 1\nnrows 1\nxllcorner 0\nyllcorner 0\n1"},
		{"missing origin", "ncols 1\nnrows 1\ncellsize 1\n1"},
		{"short data", "ncols 2\nnrows 2\nxllcorner 0\nyllcorner 0\ncellsize 1\n1 2 3"},
		{"bad value", "ncols 1\nnrows 1\nxllcorner 0\nyllcorner 0\ncellsize abc\n1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_")+".asc")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o644))
			_, err := Open(path)
			assert.Error(t, err)
		})
	}

	_, err := Open(filepath.Join(dir, "missing.asc"))
	assert.Error(t, err)
}

func TestSample(t *testing.T) {
	seq := sequenceRaster(t)
	assert.Equal(t, model.Some(11), Sample(seq, 5.55, -4.51))
	assert.Equal(t, model.Some(55), Sample(seq, 12.9, -12.9))
	assert.Equal(t, model.Some(92), Sample(seq, 6.09, -20.06))
	assert.False(t, Sample(seq, 1.9, -3).Valid, "west of grid")
	assert.False(t, Sample(seq, 30, -3).Valid, "east of grid")
	assert.False(t, Sample(seq, 5, 0).Valid, "north of grid")

	band := bandedRaster(t)
	assert.False(t, Sample(band, 5.55, -4.51).Valid, "nodata row")
	assert.Equal(t, model.Some(2.5), Sample(band, 12.9, -12.9))
	assert.False(t, Sample(band, 6.09, -20.06).Valid, "south of grid")
}

func TestSamplePoints_RejectsPolygons(t *testing.T) {
	_, err := SamplePoints(sequenceRaster(t), []geom.T{square(0, 0, 1)})
	assert.Error(t, err)
}

func TestZonalStats(t *testing.T) {
	triangle := polygon(4.6, -2.3, 7.8, -5.2, 4.6, -5.2, 4.6, -2.3)
	unit := square(12.5, -13.5, 1)
	tiny := polygon(6.01, -20.01, 6.02, -20.01, 6.01, -20.02, 6.01, -20.01)
	geoms := []geom.T{triangle, unit, tiny}

	seq, err := ZonalStats(sequenceRaster(t), geoms)
	require.NoError(t, err)
	assert.Equal(t, model.ZonalResult{Min: model.Some(1), Max: model.Some(12), Sum: 24, Count: 3}, seq[0])
	assert.Equal(t, model.ZonalResult{Min: model.Some(55), Max: model.Some(55), Sum: 55, Count: 1}, seq[1])
	assert.Equal(t, model.ZonalResult{Min: model.Some(92), Max: model.Some(92), Sum: 92, Count: 1}, seq[2],
		"footprints smaller than a pixel use the pixel they sit in")

	band, err := ZonalStats(bandedRaster(t), geoms)
	require.NoError(t, err)
	assert.Equal(t, model.ZonalResult{Min: model.Some(0), Max: model.Some(0), Sum: 0, Count: 1, NodataCount: 2}, band[0])
	assert.Equal(t, model.ZonalResult{Min: model.Some(2.5), Max: model.Some(2.5), Sum: 2.5, Count: 1}, band[1])
	assert.Equal(t, model.ZonalResult{}, band[2], "outside the grid is neither data nor nodata")
}

func TestZonalStats_HolesAndMultiPolygons(t *testing.T) {
	r := sequenceRaster(t)

	// 3x3 pixel block (rows 0-2, cols 0-2) with the centre pixel cut out.
	withHole := geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{
		{{2, -2}, {8, -2}, {8, -8}, {2, -8}, {2, -2}},
		{{4, -4}, {4, -6}, {6, -6}, {6, -4}, {4, -4}},
	})
	res, err := ZonalStats(r, []geom.T{withHole})
	require.NoError(t, err)
	assert.Equal(t, 8, res[0].Count)
	assert.Equal(t, float64(0+1+2+10+12+20+21+22), res[0].Sum)

	mp := geom.NewMultiPolygon(geom.XY)
	require.NoError(t, mp.Push(square(2, -4, 2)))   // pixel (0,0) = 0
	require.NoError(t, mp.Push(square(20, -22, 2))) // pixel (9,9) = 99
	res, err = ZonalStats(r, []geom.T{mp})
	require.NoError(t, err)
	assert.Equal(t, 2, res[0].Count)
	assert.Equal(t, 99.0, res[0].Sum)
	assert.Equal(t, model.Some(99), res[0].Max)
}

func TestZonalStats_Errors(t *testing.T) {
	r := sequenceRaster(t)
	_, err := ZonalStats(r, []geom.T{geom.NewPointFlat(geom.XY, []float64{3, -3})})
	assert.Error(t, err)

	info := &Raster{Path: "header-only.asc", Cols: 1, Rows: 1, PixelWidth: 1, PixelHeight: -1}
	_, err = ZonalStats(info, []geom.T{square(0, 0, 1)})
	assert.Error(t, err)
}

func TestSpan(t *testing.T) {
	tests := []struct {
		a, b   float64
		lo, hi int
	}{
		{2.005, 2.01, 2, 2},
		{1, 3, 1, 2},
		{0.5, 0.5, 0, 0},
		{3.5, 1.2, 1, 3},
		{-1.5, -0.5, -2, -1},
	}
	for _, tt := range tests {
		lo, hi := span(tt.a, tt.b)
		assert.Equal(t, tt.lo, lo, "span(%v, %v)", tt.a, tt.b)
		assert.Equal(t, tt.hi, hi, "span(%v, %v)", tt.a, tt.b)
	}
}

func polygon(xy ...float64) *geom.Polygon {
	return geom.NewPolygonFlat(geom.XY, xy, []int{len(xy)})
}

// square returns an axis-aligned square with lower-left corner (x, y).
func square(x, y, size float64) *geom.Polygon {
	return polygon(x, y, x+size, y, x+size, y+size, x, y+size, x, y)
}
