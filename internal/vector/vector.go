// Package vector reads asset vectors (GeoJSON, Shapefile, GeoPackage) into
// model.AssetTable and writes per-asset results back out as GeoJSON or
// GeoPackage.
package vector

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/footprint-impact/internal/model"
)

// Format identifies a vector file format.
type Format string

const (
	FormatGeoJSON    Format = "geojson"
	FormatShapefile  Format = "shapefile"
	FormatGeoPackage Format = "gpkg"
)

// DetectFormat picks a format from the file extension.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		return FormatGeoJSON, nil
	case ".shp":
		return FormatShapefile, nil
	case ".gpkg":
		return FormatGeoPackage, nil
	default:
		return "", model.NewConfigurationError(path, "unsupported vector format %q (want .geojson, .json, .shp or .gpkg)", filepath.Ext(path))
	}
}

// Read loads an asset vector. Asset IDs are zero-based feature indexes.
func Read(path string) (*model.AssetTable, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	var t *model.AssetTable
	switch format {
	case FormatGeoJSON:
		t, err = readGeoJSON(path)
	case FormatShapefile:
		t, err = readShapefile(path)
	case FormatGeoPackage:
		t, err = readGeoPackage(path)
	}
	if err != nil {
		return nil, err
	}
	for i := range t.Assets {
		t.Assets[i].ID = i
	}
	return t, nil
}

// Write stores the assets with the given columns. GeoJSON and GeoPackage are
// supported; the file only appears once fully written.
func Write(path string, t *model.AssetTable, cols []Column) error {
	format, err := DetectFormat(path)
	if err != nil {
		return err
	}
	switch format {
	case FormatGeoJSON:
		return writeGeoJSON(path, t, cols)
	case FormatGeoPackage:
		return writeGeoPackage(path, t, cols)
	default:
		return model.NewConfigurationError(path, "cannot write %s output; use .geojson or .gpkg", format)
	}
}

// CheckWritable validates an output path's format before any work is done.
func CheckWritable(path string) error {
	format, err := DetectFormat(path)
	if err != nil {
		return err
	}
	if format == FormatShapefile {
		return model.NewConfigurationError(path, "shapefile output is not supported (field names are limited to 10 characters); use .geojson or .gpkg")
	}
	return eris.Wrap(checkDir(path), "vector: output")
}
