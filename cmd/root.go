package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/utri-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "utri",
	Short: "Urban thermal resilience and vulnerability indices",
	Long: "Computes street-network resilience indicators per census tract, combines them into the " +
		"entropy-weighted UTRI, builds the income-adjusted TRVI, and tests both for spatial " +
		"autocorrelation and local association with land surface temperature.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
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
