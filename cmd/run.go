package main

import (
	"context"
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/utri-cli/internal/ingest"
	"github.com/sells-group/utri-cli/internal/model"
	"github.com/sells-group/utri-cli/internal/pipeline"
	"github.com/sells-group/utri-cli/internal/report"
	"github.com/sells-group/utri-cli/internal/store"
)

var (
	runLabel string
	runOut   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline and write the report",
	Long: "Loads boundaries, street networks, income and temperature tables; extracts the network " +
		"indicators; computes UTRI, TRVI, global Moran's I and GWR; writes every table to the output " +
		"directory and records the run in the store.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if runOut != "" {
			cfg.Output.Dir = runOut
		}
		if err := cfg.Validate("run"); err != nil {
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

		st, err := initStore(ctx)
		if err != nil {
			return eris.Wrap(err, "init store")
		}
		var runID string
		if st != nil {
			defer st.Close() //nolint:errcheck
			run, err := st.CreateRun(ctx, runLabel)
			if err != nil {
				return eris.Wrap(err, "create run")
			}
			runID = run.ID
		}
		log := zap.L().With(zap.String("run_id", runID))

		res, err := execute(ctx, inOpts, opts)
		if err != nil {
			var phases []model.PhaseResult
			if res != nil {
				phases = res.Phases
			}
			failRun(st, runID, err, phases)
			return err
		}

		w := report.Writer{Dir: cfg.Output.Dir, Format: cfg.Output.Format, TopN: cfg.Output.TopN}
		summary, paths, err := w.WriteRun(res, runID)
		if err != nil {
			failRun(st, runID, err, res.Phases)
			return err
		}

		if st != nil {
			if err := saveRun(ctx, st, runID, res, summary); err != nil {
				return err
			}
		}

		log.Info("run complete",
			zap.Int("units", len(res.Units)),
			zap.Int("exclusions", len(res.Exclusions)),
			zap.Int("errors", len(res.Errors)),
			zap.Strings("files", paths),
		)
		return report.WriteText(cmd.OutOrStdout(), summary)
	},
}

// execute loads the inputs and runs every phase.
func execute(ctx context.Context, inOpts ingest.Options, opts pipeline.Options) (*pipeline.Result, error) {
	in, err := ingest.Load(ctx, inOpts)
	if err != nil {
		return nil, eris.Wrap(err, "load inputs")
	}
	res, err := pipeline.New(opts).Run(ctx, in)
	if err != nil {
		return res, eris.Wrap(err, "pipeline run")
	}
	return res, nil
}

func saveRun(ctx context.Context, st store.Store, runID string, res *pipeline.Result, summary *report.Summary) error {
	encoded, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "encode summary")
	}
	err = st.SaveResult(ctx, runID, &store.RunResult{
		Scores:     res.Scores(),
		Weights:    res.Weights(),
		Moran:      res.MoranRows(),
		Exclusions: res.Exclusions,
		Phases:     res.Phases,
		Summary:    encoded,
	})
	return eris.Wrap(err, "save run")
}

// failRun marks the stored run failed. It runs detached from ctx so an
// interrupted run is still recorded.
func failRun(st store.Store, runID string, cause error, phases []model.PhaseResult) {
	if st == nil {
		return
	}
	if err := st.FailRun(context.Background(), runID, cause.Error(), phases); err != nil {
		zap.L().Warn("could not record failed run", zap.String("run_id", runID), zap.Error(err))
	}
}

func init() {
	runCmd.Flags().StringVar(&runLabel, "label", "", "label stored with the run")
	runCmd.Flags().StringVar(&runOut, "out", "", "output directory (default from config)")
	rootCmd.AddCommand(runCmd)
}
