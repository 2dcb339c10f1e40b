package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/footprint-impact/internal/pipeline"
)

var (
	runServiceTable  string
	runBufferTable   string
	runWorkers       int
	runGroupBy       string
	runCategoryAttr  string
	runPercentiles   bool
	runPercentileCut int
	runSummary       string
)

var runCmd = &cobra.Command{
	Use:   "run MODE ASSET_VECTOR ASSET_RESULTS GROUP_RESULTS",
	Short: "Compute asset and group statistics",
	Long: `Computes per-asset statistics of every ecosystem service raster and rolls
them up by group.

MODE is "polygons" (assets are footprints) or "points". In points mode a buffer
table (-b) turns each point into a circular footprint sized by its category;
without one, each raster is sampled at the point.

Asset results are written as .geojson or .gpkg, group results as .csv or .xlsx.

Examples:
  footprint-impact run polygons assets.gpkg out/assets.gpkg out/groups.csv -e es_table.csv
  footprint-impact run points facilities.geojson out/assets.geojson out/groups.csv \
      -e es_table.csv -b buffer_table.csv -n 4 --percentiles --summary out/run.yaml`,
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := pipelineOptions(cmd, args[0], args[1])
		opts.AssetOutput = args[2]
		opts.GroupOutput = args[3]
		opts.SummaryPath = runSummary

		start := time.Now()
		res, err := pipeline.Run(cmd.Context(), opts)
		if err != nil {
			return err
		}

		zap.L().Info("run complete",
			zap.String("run_id", res.Summary.RunID),
			zap.Int("assets", len(res.Assets.Assets)),
			zap.Int("groups", len(res.Groups.Rows)),
			zap.String("asset_results", opts.AssetOutput),
			zap.String("group_results", opts.GroupOutput),
			zap.Duration("elapsed", time.Since(start)),
		)
		return nil
	},
}

// pipelineOptions merges command flags over the loaded config.
func pipelineOptions(cmd *cobra.Command, mode, assets string) pipeline.Options {
	opts := pipeline.Options{
		Mode:             mode,
		AssetPath:        assets,
		ServicesPath:     runServiceTable,
		BufferPath:       runBufferTable,
		GroupBy:          cfg.Pipeline.GroupBy,
		CategoryAttr:     cfg.Pipeline.CategoryAttr,
		BufferAreaColumn: cfg.Pipeline.BufferAreaColumn,
		Segments:         cfg.Pipeline.Segments,
		Workers:          cfg.Pipeline.Workers,
		Percentiles:      runPercentiles,
		PercentileCutoff: cfg.Pipeline.PercentileCutoff,
		FloatPrecision:   cfg.Output.FloatPrecision,
		Logger:           zap.L(),
	}
	flags := cmd.Flags()
	if flags.Changed("n-workers") {
		opts.Workers = runWorkers
	}
	if flags.Changed("group-by") {
		opts.GroupBy = runGroupBy
	}
	if flags.Changed("category-attr") {
		opts.CategoryAttr = runCategoryAttr
	}
	if flags.Changed("percentile-cutoff") {
		opts.PercentileCutoff = runPercentileCut
	}
	return opts
}

// addInputFlags registers the flags shared by run and validate.
func addInputFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&runServiceTable, "ecosystem-service-table", "e", "", "CSV of es_id, es_value_path, flag_threshold (required)")
	cmd.Flags().StringVarP(&runBufferTable, "buffer-table", "b", "", "CSV of category and target footprint area (points mode only)")
	cmd.Flags().StringVar(&runGroupBy, "group-by", "ultimate_parent_name", "asset attribute to aggregate by")
	cmd.Flags().StringVar(&runCategoryAttr, "category-attr", "facility_category", "asset attribute matched against the buffer table")
	cmd.Flags().BoolVar(&runPercentiles, "percentiles", false, "rank assets against the catalog's 0..100 percentile columns")
	_ = cmd.MarkFlagRequired("ecosystem-service-table")
}

func init() {
	addInputFlags(runCmd)
	runCmd.Flags().IntVarP(&runWorkers, "n-workers", "n", 0, "rasters processed concurrently (0 = sequential)")
	runCmd.Flags().IntVar(&runPercentileCut, "percentile-cutoff", 90, "rank above which assets count as high impact")
	runCmd.Flags().StringVar(&runSummary, "summary", "", "write a YAML run summary to this path")
	rootCmd.AddCommand(runCmd)
}
