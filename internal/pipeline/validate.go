package pipeline

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/footprint-impact/internal/aggregate"
	"github.com/sells-group/footprint-impact/internal/catalog"
	"github.com/sells-group/footprint-impact/internal/footprint"
	"github.com/sells-group/footprint-impact/internal/model"
	"github.com/sells-group/footprint-impact/internal/percentile"
	"github.com/sells-group/footprint-impact/internal/raster"
	"github.com/sells-group/footprint-impact/internal/report"
	"github.com/sells-group/footprint-impact/internal/srs"
	"github.com/sells-group/footprint-impact/internal/vector"
	"github.com/sells-group/footprint-impact/internal/zonal"
)

// Inputs are the loaded, validated inputs of a run.
type Inputs struct {
	Mode     model.Mode
	Assets   *model.AssetTable
	Services *model.ServiceCatalog
	// Buffers is nil unless points are to be buffered into footprints.
	Buffers *model.BufferCatalog
}

// Footprints reports whether statistics are computed under polygons, either
// given or buffered from points.
func (in *Inputs) Footprints() bool {
	return in.Mode == model.ModePolygons || in.Buffers != nil
}

// Validate loads the asset vector and reference tables and runs every check
// that can fail a run before any raster is read in full. Output paths are
// checked only when set.
func Validate(opts Options) (*Inputs, error) {
	log := opts.logger()

	mode, err := model.ParseMode(opts.Mode)
	if err != nil {
		return nil, err
	}
	if mode == model.ModePolygons && opts.BufferPath != "" {
		return nil, model.NewConfigurationError("buffer-table", "a buffer table can only be used in %s mode; polygon assets already have footprints", model.ModePoints)
	}
	if opts.Percentiles && mode == model.ModePoints && opts.BufferPath == "" {
		return nil, model.NewConfigurationError("percentiles", "percentile binning needs footprint statistics; use polygons mode or a buffer table")
	}
	if opts.Segments != 0 && opts.Segments < footprint.MinSegments {
		return nil, model.NewConfigurationError("segments", "must be at least %d, got %d", footprint.MinSegments, opts.Segments)
	}
	if opts.PercentileCutoff < 0 || opts.PercentileCutoff > 100 {
		return nil, model.NewConfigurationError("percentile-cutoff", "must be between 0 and 100, got %d", opts.PercentileCutoff)
	}
	if opts.AssetOutput != "" {
		if err := vector.CheckWritable(opts.AssetOutput); err != nil {
			return nil, err
		}
	}
	if opts.GroupOutput != "" {
		if err := report.CheckGroupPath(opts.GroupOutput); err != nil {
			return nil, err
		}
	}

	services, err := catalog.LoadServices(opts.ServicesPath)
	if err != nil {
		return nil, err
	}
	if err := zonal.CheckRasters(services); err != nil {
		return nil, err
	}
	if opts.Percentiles {
		if err := percentile.Check(services); err != nil {
			return nil, err
		}
	}

	assets, err := vector.Read(opts.AssetPath)
	if err != nil {
		return nil, err
	}
	in := &Inputs{Mode: mode, Assets: assets, Services: services}

	if err := checkSpatialReferences(in, log); err != nil {
		return nil, err
	}

	switch mode {
	case model.ModePolygons:
		err = model.CheckGeometryTypes(assets, opts.AssetPath, "Polygon", "MultiPolygon")
	case model.ModePoints:
		err = model.CheckGeometryTypes(assets, opts.AssetPath, "Point")
	}
	if err != nil {
		return nil, err
	}
	if err := aggregate.Check(assets, opts.GroupBy); err != nil {
		return nil, err
	}

	if opts.BufferPath != "" {
		buffers, err := catalog.LoadBuffers(opts.BufferPath, opts.CategoryAttr, opts.BufferAreaColumn)
		if err != nil {
			return nil, err
		}
		if err := footprint.Check(assets, buffers, footprint.Options{Segments: opts.Segments}); err != nil {
			return nil, err
		}
		if srs.IsGeographic(assets.SRS) {
			log.Warn("pipeline: buffering in a geographic reference system; target areas are in squared degrees",
				zap.String("srs", assets.SRS))
		}
		in.Buffers = buffers
	}
	return in, nil
}

// checkSpatialReferences compares every raster's reference system with the
// asset vector's. Unknown systems on either side are accepted with a warning.
func checkSpatialReferences(in *Inputs, log *zap.Logger) error {
	if in.Assets.SRS == "" {
		log.Warn("pipeline: asset vector has no spatial reference; assuming it matches the rasters")
	}
	for _, e := range in.Services.Entries {
		info, err := raster.ReadInfo(e.ValuePath)
		if err != nil {
			return eris.Wrapf(err, "pipeline: service %s", e.ID)
		}
		switch {
		case info.SRS == "":
			log.Warn("pipeline: raster has no spatial reference",
				zap.String("service", e.ID),
				zap.String("raster", e.ValuePath))
		case in.Assets.SRS == "":
		case !srs.Same(info.SRS, in.Assets.SRS):
			return model.NewConfigurationError(e.ValuePath,
				"spatial reference of service %q (%s) differs from the asset vector (%s); reproject the assets first",
				e.ID, describe(info.SRS), describe(in.Assets.SRS))
		}
	}
	return nil
}

func describe(def string) string {
	if code := srs.EPSG(def); code != "" {
		return "EPSG:" + code
	}
	if len(def) > 40 {
		return def[:40] + "..."
	}
	return def
}
