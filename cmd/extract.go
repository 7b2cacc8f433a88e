package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/utri-cli/internal/ingest"
	"github.com/sells-group/utri-cli/internal/pipeline"
	"github.com/sells-group/utri-cli/internal/report"
)

var extractOut string

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract the network indicator table only",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if extractOut != "" {
			cfg.Output.Dir = extractOut
		}
		if err := cfg.Validate("extract"); err != nil {
			return err
		}
		opts, err := pipeline.FromConfig(cfg)
		if err != nil {
			return err
		}
		inOpts, err := pipeline.IngestOptions(cfg)
		if err != nil {
			return err
		}
		// Income and temperature are not needed for the indicators.
		inOpts.MHI = ingest.TableSpec{}
		inOpts.LST = ingest.TableSpec{}

		in, err := ingest.Load(ctx, inOpts)
		if err != nil {
			return eris.Wrap(err, "load inputs")
		}
		rows, exclusions, err := pipeline.New(opts).Extract(ctx, in)
		if err != nil {
			return eris.Wrap(err, "extract indicators")
		}

		if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
			return eris.Wrapf(err, "create %s", cfg.Output.Dir)
		}
		indicators := filepath.Join(cfg.Output.Dir, report.IndicatorsFile)
		if err := report.WriteIndicators(indicators, rows); err != nil {
			return err
		}
		if err := report.WriteExclusions(filepath.Join(cfg.Output.Dir, report.ExclusionsFile), exclusions); err != nil {
			return err
		}

		zap.L().Info("indicators extracted",
			zap.Int("units", len(rows)),
			zap.Int("exclusions", len(exclusions)),
			zap.String("path", indicators),
		)
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d units written to %s (%d excluded)\n", len(rows), indicators, len(exclusions))
		return err
	},
}

func init() {
	extractCmd.Flags().StringVar(&extractOut, "out", "", "output directory (default from config)")
	rootCmd.AddCommand(extractCmd)
}
