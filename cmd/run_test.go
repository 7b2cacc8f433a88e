//go:build !integration

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/utri-cli/internal/failure"
	"github.com/sells-group/utri-cli/internal/model"
	"github.com/sells-group/utri-cli/internal/report"
	"github.com/sells-group/utri-cli/internal/store"
)

func openTestStore(t *testing.T, dsn string) store.Store {
	t.Helper()
	st, err := store.NewSQLite(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func runRunCmd(t *testing.T, label string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	runCmd.SetContext(context.Background())
	runCmd.SetOut(&out)
	runLabel = label
	defer func() {
		runLabel = ""
		runCmd.SetOut(nil)
		runCmd.SetContext(context.TODO())
	}()
	err := runCmd.RunE(runCmd, nil)
	return out.String(), err
}

func TestRunCmd_RunE_FailsOnValidation(t *testing.T) {
	dir := t.TempDir()
	cfg = testConfig(dir, inputs{})

	_, err := runRunCmd(t, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inputs.boundaries is required")
	assert.Contains(t, err.Error(), "inputs.mhi is required")
}

func TestRunCmd_RunE_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	cfg = testConfig(dir, writeGrid(t, dir))

	out, err := runRunCmd(t, "grid")
	require.NoError(t, err)
	assert.Contains(t, out, "Units scored")
	assert.Contains(t, out, "Entropy weights")

	for _, name := range []string{
		report.IndicatorsFile, report.UTRIFile, report.WeightsFile, report.TRVIFile,
		report.MoranFile, report.GWRFile, report.ExclusionsFile, report.JSONFile,
	} {
		_, statErr := os.Stat(filepath.Join(cfg.Output.Dir, name))
		assert.NoError(t, statErr, "%s written", name)
	}

	st := openTestStore(t, cfg.Store.DatabaseURL)
	ctx := context.Background()
	runs, err := st.ListRuns(ctx, model.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	run := runs[0]
	assert.Equal(t, "grid", run.Label)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, 16, run.Units)
	assert.GreaterOrEqual(t, run.Excluded, 2, "t05 has no income, t10 has no temperature")
	assert.NotEmpty(t, run.Phases)

	exclusions, err := st.GetExclusions(ctx, run.ID)
	require.NoError(t, err)
	assert.Contains(t, exclusions, model.Exclusion{
		GEOID: "t05", Stage: model.StageTRVI, Kind: failure.DataQuality,
		Reason: "missing median household income",
	})

	scores, err := st.GetScores(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, scores, 16)
	assert.Equal(t, "t00", scores[0].GEOID)
	assert.NotEmpty(t, scores[0].Geometry)

	summary, err := st.GetSummary(ctx, run.ID)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(summary, &decoded))
	assert.Equal(t, run.ID, decoded["run_id"])
}

func TestRunCmd_RunE_RecordsFailedRun(t *testing.T) {
	dir := t.TempDir()
	in := writeGrid(t, dir)
	in.Boundaries = filepath.Join(dir, "missing.geojson")
	cfg = testConfig(dir, in)

	_, err := runRunCmd(t, "broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load inputs")

	st := openTestStore(t, cfg.Store.DatabaseURL)
	runs, err := st.ListRuns(context.Background(), model.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "load inputs")
}

func TestRunCmd_RunE_NoStore(t *testing.T) {
	dir := t.TempDir()
	cfg = testConfig(dir, writeGrid(t, dir))
	cfg.Store.Driver = "none"
	cfg.GWR.Enabled = false

	_, err := runRunCmd(t, "")
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "utri.db"))
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(filepath.Join(cfg.Output.Dir, report.GWRFile))
	assert.True(t, os.IsNotExist(statErr), "gwr disabled")
}
