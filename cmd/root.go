package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/footprint-impact/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "footprint-impact",
	Short: "Ecosystem service statistics for physical assets",
	Long: `Computes statistics of ecosystem service rasters under each asset's footprint
(or at each asset point), flags assets above per-service thresholds, optionally
ranks them against global percentiles and rolls the results up by owning group.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		if err := c.Validate(); err != nil {
			return err
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
