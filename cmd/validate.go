package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/footprint-impact/internal/pipeline"
)

var validateCmd = &cobra.Command{
	Use:   "validate MODE ASSET_VECTOR",
	Short: "Check inputs without computing statistics",
	Long: `Loads the asset vector and reference tables and runs every check a run
would make before reading raster data: mode, buffer table usage, catalog
contents, raster existence, spatial references, geometry types, attributes
and buffer coverage.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := pipeline.Validate(pipelineOptions(cmd, args[0], args[1]))
		if err != nil {
			return err
		}
		stats := "point samples"
		if in.Footprints() {
			stats = "footprint statistics"
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "ok: %d assets, %d services, %s\n",
			len(in.Assets.Assets), len(in.Services.Entries), stats)
		return nil
	},
}

func init() {
	addInputFlags(validateCmd)
	rootCmd.AddCommand(validateCmd)
}
