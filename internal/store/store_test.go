package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/utri-cli/internal/failure"
	"github.com/sells-group/utri-cli/internal/model"
)

func ptr(v float64) *float64 { return &v }

func tract(x, y float64) orb.MultiPolygon {
	return orb.MultiPolygon{{{{x, y}, {x + 1, y}, {x + 1, y + 1}, {x, y + 1}, {x, y}}}}
}

func sampleResult() *RunResult {
	return &RunResult{
		Scores: []model.UnitScore{
			{
				GEOID: "06037000100", Name: "Tract 1",
				GlobalPermeability: 0.12, AvgClustering: 0.05, DegreeAssortativity: -0.2, GiniEdgeBetweenness: 0.4,
				UTRI: 0.61, TRVI: ptr(0.33), MHI: ptr(54000), LST: ptr(38.2),
				LocalR2: ptr(0.71), Residual: ptr(-0.4),
				Coefficients: map[string]float64{"intercept": 36.1, "utri": 2.5},
				Geometry:     tract(-118.3, 34.0),
			},
			{
				GEOID: "06037000200",
				GlobalPermeability: 0.2, AvgClustering: 0.1, DegreeAssortativity: 0.1, GiniEdgeBetweenness: 0.3,
				UTRI: 0.44,
			},
		},
		Weights: []model.WeightRow{
			{Indicator: model.GlobalPermeability, Weight: 0.4, Entropy: 0.8},
			{Indicator: model.AvgClustering, Weight: 0.3, Entropy: 0.85},
			{Indicator: model.DegreeAssortativity, Weight: 0.2, Entropy: 0.9},
			{Indicator: model.GiniEdgeBetweenness, Weight: 0.1, Entropy: 1, Degenerate: true},
		},
		Moran: []model.MoranRow{
			{Variable: "utri", N: 2, I: 0.3, Expected: -1, Z: 1.2, P: 0.23, PSim: 0.2, Class: "not_significant"},
			{Variable: "trvi", Dropped: 1, Skipped: "1 unit(s) missing"},
		},
		Exclusions: []model.Exclusion{
			{GEOID: "06037000200", Stage: model.StageTRVI, Kind: failure.DataQuality, Reason: "no median household income"},
			{GEOID: "06037000300", Stage: model.StageMetrics, Kind: failure.DataQuality, Reason: "network has 2 nodes"},
			{GEOID: "06037000300", Stage: model.StageGWR, Kind: failure.DataQuality, Reason: "no surface temperature"},
		},
		Phases:  []model.PhaseResult{{Name: "ewm", Status: model.PhaseStatusComplete, Duration: 3}},
		Summary: json.RawMessage(`{"units":2}`),
	}
}

// storeTestSuite runs the behavioural contract shared by every backend.
func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("CreateAndGetRun", func(t *testing.T) {
		s := newStore(t)
		run, err := s.CreateRun(ctx, "la-2024")
		require.NoError(t, err)
		assert.NotEmpty(t, run.ID)
		assert.Equal(t, model.RunStatusRunning, run.Status)

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, "la-2024", got.Label)
		assert.Equal(t, model.RunStatusRunning, got.Status)
	})

	t.Run("GetRunNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetRun(ctx, "missing")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("SaveAndReadResult", func(t *testing.T) {
		s := newStore(t)
		run, err := s.CreateRun(ctx, "")
		require.NoError(t, err)
		want := sampleResult()
		require.NoError(t, s.SaveResult(ctx, run.ID, want))

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusComplete, got.Status)
		assert.Equal(t, 2, got.Units)
		assert.Equal(t, 2, got.Excluded)
		require.Len(t, got.Phases, 1)
		assert.Equal(t, "ewm", got.Phases[0].Name)

		scores, err := s.GetScores(ctx, run.ID)
		require.NoError(t, err)
		require.Len(t, scores, 2)
		assert.Equal(t, "Tract 1", scores[0].Name)
		require.NotNil(t, scores[0].TRVI)
		assert.InDelta(t, 0.33, *scores[0].TRVI, 1e-12)
		assert.Equal(t, 2.5, scores[0].Coefficients["utri"])
		assert.Equal(t, want.Scores[0].Geometry, scores[0].Geometry)
		assert.Nil(t, scores[1].TRVI)
		assert.Nil(t, scores[1].MHI)
		assert.Empty(t, scores[1].Geometry)

		weights, err := s.GetWeights(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, want.Weights, weights)

		moran, err := s.GetMoran(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, want.Moran, moran)

		excl, err := s.GetExclusions(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, want.Exclusions, excl)

		summary, err := s.GetSummary(ctx, run.ID)
		require.NoError(t, err)
		assert.JSONEq(t, `{"units":2}`, string(summary))
	})

	t.Run("SaveResultReplaces", func(t *testing.T) {
		s := newStore(t)
		run, err := s.CreateRun(ctx, "")
		require.NoError(t, err)
		require.NoError(t, s.SaveResult(ctx, run.ID, sampleResult()))

		second := sampleResult()
		second.Scores = second.Scores[:1]
		second.Exclusions = nil
		require.NoError(t, s.SaveResult(ctx, run.ID, second))

		scores, err := s.GetScores(ctx, run.ID)
		require.NoError(t, err)
		assert.Len(t, scores, 1)
		excl, err := s.GetExclusions(ctx, run.ID)
		require.NoError(t, err)
		assert.Empty(t, excl)
	})

	t.Run("SaveResultUnknownRun", func(t *testing.T) {
		s := newStore(t)
		err := s.SaveResult(ctx, "missing", sampleResult())
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("FailRun", func(t *testing.T) {
		s := newStore(t)
		run, err := s.CreateRun(ctx, "")
		require.NoError(t, err)
		phases := []model.PhaseResult{{Name: "metrics", Status: model.PhaseStatusFailed, Error: "context canceled"}}
		require.NoError(t, s.FailRun(ctx, run.ID, "context canceled", phases))

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusFailed, got.Status)
		assert.Equal(t, "context canceled", got.Error)
		assert.Equal(t, phases, got.Phases)

		summary, err := s.GetSummary(ctx, run.ID)
		require.NoError(t, err)
		assert.Nil(t, summary)
	})

	t.Run("ListRuns", func(t *testing.T) {
		s := newStore(t)
		a, err := s.CreateRun(ctx, "a")
		require.NoError(t, err)
		_, err = s.CreateRun(ctx, "b")
		require.NoError(t, err)
		require.NoError(t, s.UpdateRunStatus(ctx, a.ID, model.RunStatusComplete))

		all, err := s.ListRuns(ctx, model.RunFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 2)

		done, err := s.ListRuns(ctx, model.RunFilter{Status: model.RunStatusComplete})
		require.NoError(t, err)
		require.Len(t, done, 1)
		assert.Equal(t, a.ID, done[0].ID)

		page, err := s.ListRuns(ctx, model.RunFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		assert.Len(t, page, 1)
	})

	t.Run("ResultsOfUnknownRun", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetScores(ctx, "missing")
		assert.True(t, errors.Is(err, ErrNotFound))
		_, err = s.GetWeights(ctx, "missing")
		assert.True(t, errors.Is(err, ErrNotFound))
		_, err = s.GetMoran(ctx, "missing")
		assert.True(t, errors.Is(err, ErrNotFound))
		_, err = s.GetExclusions(ctx, "missing")
		assert.True(t, errors.Is(err, ErrNotFound))
		_, err = s.GetSummary(ctx, "missing")
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.True(t, errors.Is(s.UpdateRunStatus(ctx, "missing", model.RunStatusFailed), ErrNotFound))
	})
}

func TestExcludedUnits(t *testing.T) {
	assert.Equal(t, 2, excludedUnits(sampleResult().Exclusions))
	assert.Equal(t, 0, excludedUnits(nil))
}

func TestOrderWeights(t *testing.T) {
	rows := []model.WeightRow{
		{Indicator: model.GiniEdgeBetweenness},
		{Indicator: model.AvgClustering},
		{Indicator: model.GlobalPermeability},
		{Indicator: model.DegreeAssortativity},
	}
	got := orderWeights(rows)
	for i, ind := range model.Indicators {
		assert.Equal(t, ind, got[i].Indicator)
	}
}
