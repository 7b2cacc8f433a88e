package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/utri-cli/internal/ewm"
	"github.com/sells-group/utri-cli/internal/model"
	"github.com/sells-group/utri-cli/internal/pipeline"
	"github.com/sells-group/utri-cli/internal/report"
)

var (
	weightsInput string
	weightsOut   string
)

var weightsCmd = &cobra.Command{
	Use:   "weights",
	Short: "Compute entropy weights and UTRI from an indicator table",
	Long: `Reads an indicator table (as written by "utri extract") and computes the
entropy weight vector and each unit's composite UTRI score.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if weightsInput == "" {
			return eris.New("--input is required")
		}
		if weightsOut != "" {
			cfg.Output.Dir = weightsOut
		}
		if err := cfg.Validate("weights"); err != nil {
			return err
		}

		rows, err := report.ReadIndicators(ctx, weightsInput)
		if err != nil {
			return err
		}
		res, err := ewm.Compute(rows)
		if err != nil {
			return eris.Wrap(err, "compute entropy weights")
		}

		if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
			return eris.Wrapf(err, "create %s", cfg.Output.Dir)
		}
		weights := pipeline.WeightRows(res)
		if err := report.WriteWeights(filepath.Join(cfg.Output.Dir, report.WeightsFile), weights); err != nil {
			return err
		}
		if err := report.WriteUTRI(filepath.Join(cfg.Output.Dir, report.UTRIFile), res, nil); err != nil {
			return err
		}

		zap.L().Info("weights computed", zap.Int("units", len(res.Scores)), zap.String("dir", cfg.Output.Dir))
		_, err = fmt.Fprint(cmd.OutOrStdout(), formatWeights(weights, len(res.Scores)))
		return err
	},
}

func formatWeights(rows []model.WeightRow, units int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Entropy weights over %d units\n", units)
	for _, w := range rows {
		flag := ""
		if w.Degenerate {
			flag = "  (constant)"
		}
		fmt.Fprintf(&b, "  %-24s %.4f%s\n", w.Indicator, w.Weight, flag)
	}
	return b.String()
}

func init() {
	weightsCmd.Flags().StringVar(&weightsInput, "input", "", "indicator table (CSV or XLSX)")
	weightsCmd.Flags().StringVar(&weightsOut, "out", "", "output directory (default from config)")
	rootCmd.AddCommand(weightsCmd)
}
