// Package pipeline wires the stages together: load and validate inputs,
// build footprints, compute per-asset statistics, optionally rank them
// against global percentiles, roll them up by group and write the results.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/footprint-impact/internal/aggregate"
	"github.com/sells-group/footprint-impact/internal/footprint"
	"github.com/sells-group/footprint-impact/internal/model"
	"github.com/sells-group/footprint-impact/internal/percentile"
	"github.com/sells-group/footprint-impact/internal/report"
	"github.com/sells-group/footprint-impact/internal/vector"
	"github.com/sells-group/footprint-impact/internal/zonal"
)

// Options configures one run.
type Options struct {
	Mode string

	AssetPath    string
	ServicesPath string
	// BufferPath is the buffer table; only valid in points mode.
	BufferPath string

	AssetOutput string
	GroupOutput string
	// SummaryPath, when set, receives a YAML run summary.
	SummaryPath string

	GroupBy          string
	CategoryAttr     string
	BufferAreaColumn string
	Segments         int
	Workers          int
	Percentiles      bool
	PercentileCutoff int
	FloatPrecision   int

	Logger *zap.Logger
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// Result holds the final tables of a run.
type Result struct {
	Assets  *model.AssetTable
	Groups  *model.GroupTable
	Summary *report.Summary
}

// Run validates every input, computes the statistics and writes the outputs.
// Nothing is written unless every stage succeeds.
func Run(ctx context.Context, opts Options) (*Result, error) {
	started := time.Now()
	log := opts.logger()

	in, err := Validate(opts)
	if err != nil {
		return nil, err
	}
	log.Info("pipeline: inputs validated",
		zap.String("mode", string(in.Mode)),
		zap.Int("assets", len(in.Assets.Assets)),
		zap.Int("services", len(in.Services.Entries)),
		zap.Bool("buffered", in.Buffers != nil),
	)

	res, err := compute(ctx, in, opts)
	if err != nil {
		return nil, err
	}

	if err := vector.Write(opts.AssetOutput, res.Assets, report.AssetColumns(res.Assets, in.Services, res.Groups.Mode)); err != nil {
		return nil, eris.Wrap(err, "pipeline: write asset results")
	}
	if err := report.WriteGroups(opts.GroupOutput, res.Groups, report.Options{Precision: opts.FloatPrecision}); err != nil {
		return nil, eris.Wrap(err, "pipeline: write group results")
	}

	res.Summary = report.NewSummary(in.Mode, started, res.Assets, res.Groups, in.Services)
	res.Summary.Inputs = report.SummaryInputs{Assets: opts.AssetPath, Services: in.Services.Path}
	if in.Buffers != nil {
		res.Summary.Inputs.Buffers = in.Buffers.Path
	}
	res.Summary.Outputs = report.SummaryOutputs{Assets: opts.AssetOutput, Groups: opts.GroupOutput}
	if opts.SummaryPath != "" {
		if err := report.WriteSummary(opts.SummaryPath, res.Summary); err != nil {
			return nil, eris.Wrap(err, "pipeline: write summary")
		}
	}

	log.Info("pipeline: complete",
		zap.String("run_id", res.Summary.RunID),
		zap.Int("groups", len(res.Groups.Rows)),
		zap.Int("flagged_assets", res.Summary.Flagged),
		zap.Duration("elapsed", time.Since(started)),
	)
	return res, nil
}

// compute runs the stages on validated inputs without writing anything.
func compute(ctx context.Context, in *Inputs, opts Options) (*Result, error) {
	log := opts.logger()
	zopts := zonal.Options{Workers: opts.Workers, Logger: log}
	aopts := aggregate.Options{Attr: opts.GroupBy, PercentileCutoff: opts.PercentileCutoff}

	if !in.Footprints() {
		assets, err := zonal.ComputePointStats(ctx, in.Assets, in.Services, zopts)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: point statistics")
		}
		groups, err := aggregate.Points(assets, in.Services, aopts)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: aggregate")
		}
		return &Result{Assets: assets, Groups: groups}, nil
	}

	assets := in.Assets
	if in.Buffers != nil {
		var err error
		assets, err = footprint.Build(assets, in.Buffers, footprint.Options{Segments: opts.Segments, Logger: log})
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: build footprints")
		}
	}

	assets, err := zonal.ComputeFootprintStats(ctx, assets, in.Services, zopts)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: footprint statistics")
	}
	if opts.Percentiles {
		assets, err = percentile.Bin(assets, in.Services)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: bin percentiles")
		}
	}

	groups, err := aggregate.Footprints(assets, in.Services, aopts)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: aggregate")
	}
	return &Result{Assets: assets, Groups: groups}, nil
}
