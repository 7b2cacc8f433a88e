package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/utri-cli/internal/boundary"
	"github.com/sells-group/utri-cli/internal/failure"
	"github.com/sells-group/utri-cli/internal/model"
	"github.com/sells-group/utri-cli/internal/moran"
	"github.com/sells-group/utri-cli/internal/pipeline"
	"github.com/sells-group/utri-cli/internal/report"
	"github.com/sells-group/utri-cli/internal/spatial"
)

var (
	moranInput       string
	moranColumns     []string
	moranGEOIDColumn string
	moranOut         string
)

var moranCmd = &cobra.Command{
	Use:   "moran",
	Short: "Test columns of a GEOID-keyed table for spatial autocorrelation",
	Long: `Joins a CSV or XLSX table to the configured boundaries by GEOID and runs
the global Moran's I permutation test on each requested column.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if moranInput == "" {
			return eris.New("--input is required")
		}
		if len(moranColumns) == 0 {
			return eris.New("--columns is required")
		}
		if moranOut != "" {
			cfg.Output.Dir = moranOut
		}
		if err := cfg.Validate("moran"); err != nil {
			return err
		}
		opts, err := pipeline.FromConfig(cfg)
		if err != nil {
			return err
		}

		features, err := boundary.Read(cfg.Inputs.Boundaries, boundary.Options{
			GEOIDField: cfg.Inputs.GEOIDField,
			NameField:  cfg.Inputs.NameField,
		})
		if err != nil {
			return err
		}
		geoids, values, err := report.ReadColumns(ctx, moranInput, moranGEOIDColumn, moranColumns)
		if err != nil {
			return err
		}

		joined, vars := joinColumns(features, geoids, values, moranColumns)
		if len(joined) == 0 {
			return failure.New(failure.DataQuality, "no rows of %s match a boundary GEOID", moranInput)
		}

		adj, err := spatial.Build(opts.Adjacency, boundary.Geometries(joined), boundary.Centroids(joined), opts.K, opts.Coordinates)
		if err != nil {
			return err
		}
		ids := make([]string, len(joined))
		for i, f := range joined {
			ids[i] = f.GEOID
		}
		if err := adj.Validate(ids); err != nil {
			return err
		}

		entries, err := moran.Report(vars, adj, opts.Moran)
		if err != nil {
			return err
		}
		rows := pipeline.MoranRows(entries)

		if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
			return eris.Wrapf(err, "create %s", cfg.Output.Dir)
		}
		path := filepath.Join(cfg.Output.Dir, report.MoranFile)
		if err := report.WriteMoran(path, rows); err != nil {
			return err
		}

		zap.L().Info("moran report written", zap.Int("units", len(joined)), zap.Int("variables", len(rows)), zap.String("path", path))
		_, err = fmt.Fprint(cmd.OutOrStdout(), formatMoran(rows, len(joined)))
		return err
	},
}

// joinColumns keeps the boundaries that have a table row, sorted by GEOID,
// and aligns every column with them. Table rows without a boundary are
// logged and ignored.
func joinColumns(features []boundary.Feature, geoids []string, values [][]float64, columns []string) ([]boundary.Feature, []moran.Variable) {
	row := make(map[string]int, len(geoids))
	for i, id := range geoids {
		row[id] = i
	}

	var joined []boundary.Feature
	matched := make(map[string]bool, len(features))
	for _, f := range features {
		if _, ok := row[f.GEOID]; ok && !matched[f.GEOID] {
			joined = append(joined, f)
			matched[f.GEOID] = true
		}
	}
	sort.Slice(joined, func(i, j int) bool { return joined[i].GEOID < joined[j].GEOID })

	if unmatched := len(geoids) - len(joined); unmatched > 0 {
		zap.L().Warn("table rows without a boundary ignored", zap.Int("rows", unmatched))
	}

	vars := make([]moran.Variable, len(columns))
	for k, name := range columns {
		v := moran.Variable{Name: name, Values: make([]float64, len(joined))}
		for i, f := range joined {
			v.Values[i] = values[k][row[f.GEOID]]
		}
		vars[k] = v
	}
	return joined, vars
}

func formatMoran(rows []model.MoranRow, units int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Global Moran's I over %d units\n", units)
	for _, m := range rows {
		if m.Skipped != "" {
			fmt.Fprintf(&b, "  %-24s skipped: %s\n", m.Variable, m.Skipped)
			continue
		}
		fmt.Fprintf(&b, "  %-24s I=%.4f z=%.3f p_sim=%.4f %s\n", m.Variable, m.I, m.Z, m.PSim, m.Class)
	}
	return b.String()
}

func init() {
	moranCmd.Flags().StringVar(&moranInput, "input", "", "GEOID-keyed table (CSV or XLSX)")
	moranCmd.Flags().StringSliceVar(&moranColumns, "columns", nil, "columns to test (comma separated)")
	moranCmd.Flags().StringVar(&moranGEOIDColumn, "geoid-column", "geoid", "GEOID column of the input table")
	moranCmd.Flags().StringVar(&moranOut, "out", "", "output directory (default from config)")
	rootCmd.AddCommand(moranCmd)
}
