// Package raster reads single-band ecosystem service rasters (GeoTIFF or
// ESRI ASCII grid) and provides the point sampling and zonal statistics
// primitives the pipeline is built on.
package raster

import (
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/footprint-impact/internal/model"
	"github.com/sells-group/footprint-impact/internal/srs"
)

// Raster is a north-up, single-band grid. OriginX/OriginY is the outer
// corner of the first (top-left) pixel; PixelHeight is negative.
type Raster struct {
	Path        string
	Cols        int
	Rows        int
	OriginX     float64
	OriginY     float64
	PixelWidth  float64
	PixelHeight float64
	Nodata      model.NullFloat
	SRS         string

	data []float64
}

// New builds an in-memory raster. values are row-major, top row first.
func New(cols, rows int, originX, originY, pixelWidth, pixelHeight float64, nodata model.NullFloat, values []float64) (*Raster, error) {
	if cols <= 0 || rows <= 0 {
		return nil, eris.Errorf("raster: invalid size %dx%d", cols, rows)
	}
	if len(values) != cols*rows {
		return nil, eris.Errorf("raster: expected %d values, got %d", cols*rows, len(values))
	}
	if pixelWidth <= 0 || pixelHeight >= 0 {
		return nil, eris.Errorf("raster: pixel size (%g, %g) is not north-up", pixelWidth, pixelHeight)
	}
	return &Raster{
		Cols: cols, Rows: rows,
		OriginX: originX, OriginY: originY,
		PixelWidth: pixelWidth, PixelHeight: pixelHeight,
		Nodata: nodata,
		data:   values,
	}, nil
}

// PixelArea is the absolute area of one pixel.
func (r *Raster) PixelArea() float64 {
	return math.Abs(r.PixelWidth * r.PixelHeight)
}

// Loaded reports whether pixel values are in memory.
func (r *Raster) Loaded() bool { return r.data != nil }

// At returns the value at (row, col) and whether it is valid data.
func (r *Raster) At(row, col int) (float64, bool) {
	v := r.data[row*r.Cols+col]
	return v, !r.isNodata(v)
}

func (r *Raster) isNodata(v float64) bool {
	if math.IsNaN(v) {
		return true
	}
	return r.Nodata.Valid && v == r.Nodata.Value
}

// pixelOf returns the pixel containing (x, y), and false when outside the grid.
func (r *Raster) pixelOf(x, y float64) (row, col int, ok bool) {
	fc := (x - r.OriginX) / r.PixelWidth
	fr := (y - r.OriginY) / r.PixelHeight
	if fc < 0 || fr < 0 {
		return 0, 0, false
	}
	col, row = int(math.Floor(fc)), int(math.Floor(fr))
	if col >= r.Cols || row >= r.Rows {
		return 0, 0, false
	}
	return row, col, true
}

// Format is a raster file format.
type Format string

const (
	FormatGeoTIFF Format = "geotiff"
	FormatASCII   Format = "ascii"
)

// DetectFormat picks the format from the file extension.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		return FormatGeoTIFF, nil
	case ".asc":
		return FormatASCII, nil
	default:
		return "", eris.Errorf("raster: unsupported format %q for %s (want .tif, .tiff or .asc)", filepath.Ext(path), path)
	}
}

// ReadInfo reads the grid header and spatial reference without pixel data.
func ReadInfo(path string) (*Raster, error) {
	return read(path, false)
}

// Open reads the grid header, spatial reference and all pixel values.
func Open(path string) (*Raster, error) {
	return read(path, true)
}

func read(path string, withData bool) (*Raster, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	var r *Raster
	georeferenced := true
	switch format {
	case FormatGeoTIFF:
		r, georeferenced, err = decodeGeoTIFF(f, withData)
	default:
		r, err = decodeASCII(f, withData)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "raster: decode %s", path)
	}
	r.Path = path

	if !georeferenced {
		if err := applyWorldFile(r, path); err != nil {
			return nil, err
		}
	}

	// GeoKeys win over a .prj sidecar.
	if r.SRS == "" {
		def, err := srs.ReadSidecar(path)
		if err != nil {
			return nil, err
		}
		r.SRS = def
	}
	return r, nil
}

// Write stores r at path in the format its extension selects, with a .prj
// sidecar for ASCII grids when r.SRS is set.
func Write(path string, r *Raster) error {
	if r.data == nil {
		return eris.New("raster: write without pixel data")
	}
	format, err := DetectFormat(path)
	if err != nil {
		return err
	}
	if format == FormatGeoTIFF {
		return writeGeoTIFF(path, r)
	}
	return writeASCII(path, r)
}
