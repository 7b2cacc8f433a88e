package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/utri-cli/internal/model"
	"github.com/sells-group/utri-cli/internal/tiger"
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &PostgresStore{pool: mock}, mock
}

var runRowColumns = []string{"id", "label", "status", "units", "excluded", "phases", "error", "created_at", "updated_at"}

func TestPostgresMigrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS utri`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`INSERT INTO utri.runs`).
		WithArgs(pgxmock.AnyArg(), "la-2024", "running", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), "la-2024")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusRunning, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT id, label, status .* FROM utri.runs WHERE id = \$1`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows(runRowColumns).
			AddRow("run-1", "la", "complete", 3, 1, []byte(`[{"name":"ewm","status":"complete","duration_ms":4}]`), "", now, now))

	run, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, 3, run.Units)
	require.Len(t, run.Phases, 1)
	assert.Equal(t, int64(4), run.Phases[0].Duration)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery(`FROM utri.runs WHERE id`).WithArgs("nope").WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPostgresListRuns(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery(`FROM utri.runs WHERE true AND status = \$1 ORDER BY created_at DESC, id LIMIT \$2 OFFSET \$3`).
		WithArgs("failed", 5, 10).
		WillReturnRows(pgxmock.NewRows(runRowColumns).
			AddRow("run-2", "", "failed", 0, 0, nil, "boom", now, now))

	runs, err := s.ListRuns(context.Background(), model.RunFilter{Status: model.RunStatusFailed, Limit: 5, Offset: 10})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "boom", runs[0].Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateRunStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`UPDATE utri.runs SET status`).
		WithArgs("complete", pgxmock.AnyArg(), "nope").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateRunStatus(context.Background(), "nope", model.RunStatusComplete)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPostgresFailRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`UPDATE utri.runs SET status = \$1, error = \$2`).
		WithArgs("failed", "context canceled", nil, pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.FailRun(context.Background(), "run-1", "context canceled", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveResult(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	res := sampleResult()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE utri.runs SET status = \$1, units = \$2`).
		WithArgs("complete", 2, 2, pgxmock.AnyArg(), `{"units":2}`, pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_utri_unit_scores"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_utri_unit_scores"}, scoreColumns).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "utri"."unit_scores" .* ON CONFLICT \("run_id", "geoid"\)`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec(`DELETE FROM utri.unit_scores WHERE run_id = \$1 AND NOT`).
		WithArgs("run-1", []string{"06037000100", "06037000200"}).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	for _, tc := range []struct {
		table   string
		columns []string
		n       int64
	}{
		{"run_weights", weightColumns, 4},
		{"run_moran", moranColumns, 2},
		{"run_exclusions", exclusionColumns, 3},
	} {
		mock.ExpectExec(`DELETE FROM utri.` + tc.table + ` WHERE run_id = \$1`).
			WithArgs("run-1").
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mock.ExpectCopyFrom(pgx.Identifier{"utri", tc.table}, tc.columns).WillReturnResult(tc.n)
	}
	mock.ExpectCommit()
	mock.ExpectRollback()

	require.NoError(t, s.SaveResult(context.Background(), "run-1", res))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveResult_UnknownRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE utri.runs SET status = \$1, units = \$2`).
		WithArgs("complete", 1, 0, nil, nil, pgxmock.AnyArg(), "nope").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := s.SaveResult(context.Background(), "nope", &RunResult{Scores: sampleResult().Scores[:1]})
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetScores(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	geom, err := tiger.EncodeWKB(tract(-118, 34))
	require.NoError(t, err)
	trvi := 0.5

	mock.ExpectQuery(`SELECT 1 FROM utri.runs`).WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery(`FROM utri.unit_scores WHERE run_id = \$1 ORDER BY geoid`).WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows(scoreColumns[1:]).
			AddRow("06037000100", "Tract 1", 0.1, 0.2, 0.3, 0.4, 0.6, &trvi, nil, nil, nil, nil, []byte(`{"utri":1.5}`), geom))

	scores, err := s.GetScores(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, scores, 1)
	require.NotNil(t, scores[0].TRVI)
	assert.Equal(t, 0.5, *scores[0].TRVI)
	assert.Nil(t, scores[0].MHI)
	assert.Equal(t, 1.5, scores[0].Coefficients["utri"])
	assert.Equal(t, tract(-118, 34), scores[0].Geometry)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetWeights_CanonicalOrder(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery(`SELECT 1 FROM utri.runs`).WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery(`FROM utri.run_weights`).WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"indicator", "weight", "entropy", "degenerate"}).
			AddRow("avg_clustering", 0.3, 0.9, false).
			AddRow("global_permeability", 0.7, 0.8, false))

	weights, err := s.GetWeights(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, weights, 2)
	assert.Equal(t, model.GlobalPermeability, weights[0].Indicator)
	assert.Equal(t, model.AvgClustering, weights[1].Indicator)
}

func TestPostgresGetSummary_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery(`SELECT summary FROM utri.runs`).WithArgs("nope").WillReturnError(pgx.ErrNoRows)

	_, err := s.GetSummary(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}
