// Package zonal computes per-asset statistics of every ecosystem service
// raster: zonal statistics under polygon footprints, or point samples.
package zonal

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/footprint-impact/internal/model"
	"github.com/sells-group/footprint-impact/internal/raster"
)

// Options controls layer processing.
type Options struct {
	// Workers bounds how many rasters are processed at once. Zero or less
	// processes layers one after another on the calling goroutine.
	Workers int
	Logger  *zap.Logger
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// CheckRasters returns a MissingRasterError for the first catalog entry whose
// raster file does not exist.
func CheckRasters(catalog *model.ServiceCatalog) error {
	for _, e := range catalog.Entries {
		info, err := os.Stat(e.ValuePath)
		if err != nil || info.IsDir() {
			return &model.MissingRasterError{ServiceID: e.ID, Path: e.ValuePath, Catalog: catalog.Path}
		}
	}
	return nil
}

// ComputeFootprintStats runs zonal statistics of every service raster under
// each polygon footprint and derives mean, flag and adjusted sum. The
// returned table is a copy of t with Footprint results filled in.
func ComputeFootprintStats(ctx context.Context, t *model.AssetTable, catalog *model.ServiceCatalog, opts Options) (*model.AssetTable, error) {
	if err := model.CheckGeometryTypes(t, "", "Polygon", "MultiPolygon"); err != nil {
		return nil, err
	}
	if err := CheckRasters(catalog); err != nil {
		return nil, err
	}

	geoms := geometries(t)
	results := make([][]model.ZonalResult, len(catalog.Entries))
	pixelAreas := make([]float64, len(catalog.Entries))

	err := forEachLayer(ctx, catalog, opts, func(i int, r *raster.Raster) error {
		res, err := raster.ZonalStats(r, geoms)
		if err != nil {
			return err
		}
		results[i] = res
		pixelAreas[i] = r.PixelArea()
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := t.Clone()
	for i := range out.Assets {
		a := &out.Assets[i]
		area := a.Area()
		a.Footprint = make(map[string]model.FootprintStats, len(catalog.Entries))
		for j, e := range catalog.Entries {
			a.Footprint[e.ID] = Derive(results[j][i], area, pixelAreas[j], e.FlagThreshold)
		}
	}
	return out, nil
}

// Derive turns raw zonal statistics into footprint statistics.
// mean = sum/count, flag = max > threshold, adj_sum = mean*area/pixelArea.
func Derive(z model.ZonalResult, area, pixelArea, threshold float64) model.FootprintStats {
	s := model.FootprintStats{
		Max:         z.Max,
		Sum:         z.Sum,
		Count:       z.Count,
		NodataCount: z.NodataCount,
		Area:        area,
	}
	if z.Count == 0 {
		s.Max = model.None()
		s.Sum = 0
		return s
	}
	s.Mean = model.Ratio(z.Sum, float64(z.Count))
	s.Flag = s.Max.Greater(threshold)
	if s.Mean.Valid && pixelArea > 0 {
		s.AdjSum = model.Some(s.Mean.Value * area / pixelArea)
	}
	return s
}

// ComputePointStats samples every service raster at each point asset. Points
// outside a raster or on nodata get an undefined value and no flag.
func ComputePointStats(ctx context.Context, t *model.AssetTable, catalog *model.ServiceCatalog, opts Options) (*model.AssetTable, error) {
	if err := model.CheckGeometryTypes(t, "", "Point"); err != nil {
		return nil, err
	}
	if err := CheckRasters(catalog); err != nil {
		return nil, err
	}

	geoms := geometries(t)
	samples := make([][]model.NullFloat, len(catalog.Entries))
	err := forEachLayer(ctx, catalog, opts, func(i int, r *raster.Raster) error {
		res, err := raster.SamplePoints(r, geoms)
		if err != nil {
			return err
		}
		samples[i] = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := t.Clone()
	for i := range out.Assets {
		a := &out.Assets[i]
		a.Point = make(map[string]model.PointSample, len(catalog.Entries))
		for j, e := range catalog.Entries {
			v := samples[j][i]
			a.Point[e.ID] = model.PointSample{Value: v, Flag: v.Greater(e.FlagThreshold)}
		}
	}
	return out, nil
}

// forEachLayer opens each catalog raster and hands it to fn with the entry's
// index. fn must write only to its own index. The first error cancels the
// remaining layers.
func forEachLayer(ctx context.Context, catalog *model.ServiceCatalog, opts Options, fn func(i int, r *raster.Raster) error) error {
	log := opts.logger()
	run := func(ctx context.Context, i int) error {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "zonal: cancelled")
		}
		e := catalog.Entries[i]
		start := time.Now()
		r, err := raster.Open(e.ValuePath)
		if err != nil {
			return eris.Wrapf(err, "zonal: service %s", e.ID)
		}
		if err := fn(i, r); err != nil {
			return eris.Wrapf(err, "zonal: service %s", e.ID)
		}
		log.Info("zonal: layer complete",
			zap.String("service", e.ID),
			zap.String("raster", e.ValuePath),
			zap.Duration("elapsed", time.Since(start)))
		return nil
	}

	if opts.Workers <= 0 {
		for i := range catalog.Entries {
			if err := run(ctx, i); err != nil {
				return err
			}
		}
		return nil
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i := range catalog.Entries {
		g.Go(func() error {
			return run(gCtx, i)
		})
	}
	return g.Wait()
}

func geometries(t *model.AssetTable) []geom.T {
	out := make([]geom.T, len(t.Assets))
	for i := range t.Assets {
		out[i] = t.Assets[i].Geometry
	}
	return out
}
