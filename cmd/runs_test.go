//go:build !integration

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/utri-cli/internal/config"
	"github.com/sells-group/utri-cli/internal/model"
	"github.com/sells-group/utri-cli/internal/store"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	runs := []model.Run{
		{
			ID:        "abc12345-6789-0000-0000-000000000000",
			Label:     "los-angeles-2024",
			Status:    model.RunStatusComplete,
			Units:     2498,
			Excluded:  12,
			CreatedAt: now,
			UpdatedAt: now.Add(2 * time.Minute),
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Label:     "a label that is far too long to show in full",
			Status:    model.RunStatusRunning,
			CreatedAt: now.Add(-1 * time.Hour),
			UpdatedAt: now.Add(-30 * time.Minute),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "LABEL")
	assert.Contains(t, output, "UNITS")
	assert.Contains(t, output, "los-angeles-2024")
	assert.Contains(t, output, "2498")
	assert.Contains(t, output, "complete")
	assert.Contains(t, output, "running")
	assert.Contains(t, output, "a label that is far too long...")
	assert.Contains(t, output, "2025-06-15 10:30")
	assert.Contains(t, output, "abc12345")
	assert.Contains(t, output, "2m0s")
}

func TestComputeRunStats(t *testing.T) {
	now := time.Now()
	runs := []model.Run{
		{Status: model.RunStatusComplete, Units: 100, Excluded: 4, CreatedAt: now, UpdatedAt: now.Add(10 * time.Second)},
		{Status: model.RunStatusComplete, Units: 200, Excluded: 2, CreatedAt: now, UpdatedAt: now.Add(30 * time.Second)},
		{Status: model.RunStatusFailed, CreatedAt: now, UpdatedAt: now},
		{Status: model.RunStatusRunning, CreatedAt: now, UpdatedAt: now},
	}

	s := computeRunStats(runs)
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 2, s.Complete)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Running)
	assert.InDelta(t, 20.0, s.AvgDurSecs, 1e-9)
	assert.InDelta(t, 150.0, s.AvgUnits, 1e-9)
	assert.InDelta(t, 3.0, s.AvgExcluded, 1e-9)

	var buf bytes.Buffer
	formatRunStats(&buf, s)
	assert.Contains(t, buf.String(), "Avg units:")
	assert.Contains(t, buf.String(), "150.0")
}

func TestComputeRunStats_Empty(t *testing.T) {
	s := computeRunStats(nil)
	assert.Zero(t, s.Total)

	var buf bytes.Buffer
	formatRunStats(&buf, s)
	assert.NotContains(t, buf.String(), "Avg duration")
}

func TestCreatedSince(t *testing.T) {
	now := time.Now()
	runs := []model.Run{
		{ID: "old", CreatedAt: now.Add(-48 * time.Hour)},
		{ID: "new", CreatedAt: now.Add(-time.Hour)},
	}
	got := createdSince(runs, now.Add(-24*time.Hour))
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].ID)
	assert.Len(t, runs, 2)
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789"))
	assert.Equal(t, "short", truncateID("short"))
}

// seedRuns records one complete and one failed run in a fresh SQLite store.
func seedRuns(t *testing.T) (completeID, failedID string) {
	t.Helper()
	dir := t.TempDir()
	cfg = &config.Config{
		Pipeline: config.PipelineConfig{Workers: 1},
		Store:    config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(dir, "runs.db")},
	}
	ctx := context.Background()
	st, err := store.NewSQLite(cfg.Store.DatabaseURL)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	done, err := st.CreateRun(ctx, "done")
	require.NoError(t, err)
	require.NoError(t, st.SaveResult(ctx, done.ID, &store.RunResult{
		Scores:  []model.UnitScore{{GEOID: "A", UTRI: 0.4}},
		Summary: json.RawMessage(`{"units":1}`),
	}))

	failed, err := st.CreateRun(ctx, "broken")
	require.NoError(t, err)
	require.NoError(t, st.FailRun(ctx, failed.ID, "load inputs: missing file", nil))
	return done.ID, failed.ID
}

func TestRunsListCmd(t *testing.T) {
	seedRuns(t)

	out, err := execRunE(t, runsListCmd)
	require.NoError(t, err)
	assert.Contains(t, out, "done")
	assert.Contains(t, out, "broken")
}

func TestRunsListCmd_StatusFilter(t *testing.T) {
	seedRuns(t)
	require.NoError(t, runsListCmd.Flags().Set("status", "failed"))
	defer runsListCmd.Flags().Set("status", "") //nolint:errcheck

	out, err := execRunE(t, runsListCmd)
	require.NoError(t, err)
	assert.Contains(t, out, "broken")
	assert.NotContains(t, out, "done")
}

func TestRunsShowCmd(t *testing.T) {
	completeID, _ := seedRuns(t)

	out, err := execRunE(t, runsShowCmd, completeID)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, completeID, got["id"])
	assert.Equal(t, "complete", got["status"])
	assert.Equal(t, map[string]any{"units": 1.0}, got["summary"])
}

func TestRunsShowCmd_NotFound(t *testing.T) {
	seedRuns(t)

	_, err := execRunE(t, runsShowCmd, "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunsStatsCmd(t *testing.T) {
	seedRuns(t)

	out, err := execRunE(t, runsStatsCmd)
	require.NoError(t, err)
	assert.Contains(t, out, "Total runs:")
	assert.Contains(t, out, "Complete:")
}

func TestRunsCmd_NoStore(t *testing.T) {
	cfg = &config.Config{
		Pipeline: config.PipelineConfig{Workers: 1},
		Store:    config.StoreConfig{Driver: "none"},
	}
	_, err := execRunE(t, runsListCmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no run history")
}
