package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/utri-cli/internal/db"
	"github.com/sells-group/utri-cli/internal/failure"
	"github.com/sells-group/utri-cli/internal/model"
)

// PostgresStore implements Store using pgxpool. Tables live in the utri
// schema; tract geometry is stored as EWKB in a bytea column.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const runColumns = `id, label, status, units, excluded, phases, error, created_at, updated_at`

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE SCHEMA IF NOT EXISTS utri;

CREATE TABLE IF NOT EXISTS utri.runs (
	id         TEXT PRIMARY KEY,
	label      TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'running',
	units      INTEGER NOT NULL DEFAULT 0,
	excluded   INTEGER NOT NULL DEFAULT 0,
	phases     JSONB,
	summary    JSONB,
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS utri.unit_scores (
	run_id                TEXT NOT NULL REFERENCES utri.runs(id) ON DELETE CASCADE,
	geoid                 TEXT NOT NULL,
	name                  TEXT NOT NULL DEFAULT '',
	global_permeability   DOUBLE PRECISION NOT NULL,
	avg_clustering        DOUBLE PRECISION NOT NULL,
	degree_assortativity  DOUBLE PRECISION NOT NULL,
	gini_edge_betweenness DOUBLE PRECISION NOT NULL,
	utri                  DOUBLE PRECISION NOT NULL,
	trvi                  DOUBLE PRECISION,
	mhi                   DOUBLE PRECISION,
	lst                   DOUBLE PRECISION,
	local_r2              DOUBLE PRECISION,
	residual              DOUBLE PRECISION,
	coefficients          JSONB,
	geom                  BYTEA,
	PRIMARY KEY (run_id, geoid)
);

CREATE TABLE IF NOT EXISTS utri.run_weights (
	run_id     TEXT NOT NULL REFERENCES utri.runs(id) ON DELETE CASCADE,
	indicator  TEXT NOT NULL,
	weight     DOUBLE PRECISION NOT NULL,
	entropy    DOUBLE PRECISION NOT NULL,
	degenerate BOOLEAN NOT NULL DEFAULT false,
	PRIMARY KEY (run_id, indicator)
);

CREATE TABLE IF NOT EXISTS utri.run_moran (
	run_id   TEXT NOT NULL REFERENCES utri.runs(id) ON DELETE CASCADE,
	seq      INTEGER NOT NULL,
	variable TEXT NOT NULL,
	n        INTEGER NOT NULL,
	dropped  INTEGER NOT NULL DEFAULT 0,
	i        DOUBLE PRECISION NOT NULL,
	expected DOUBLE PRECISION NOT NULL,
	z        DOUBLE PRECISION NOT NULL,
	p        DOUBLE PRECISION NOT NULL,
	p_sim    DOUBLE PRECISION NOT NULL,
	class    TEXT NOT NULL DEFAULT '',
	skipped  TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, variable)
);

CREATE TABLE IF NOT EXISTS utri.run_exclusions (
	id     BIGSERIAL PRIMARY KEY,
	run_id TEXT NOT NULL REFERENCES utri.runs(id) ON DELETE CASCADE,
	geoid  TEXT NOT NULL,
	stage  TEXT NOT NULL,
	kind   TEXT NOT NULL,
	reason TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON utri.runs(status);
CREATE INDEX IF NOT EXISTS idx_run_exclusions_run_id ON utri.run_exclusions(run_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, label string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO utri.runs (id, label, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, label, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return &model.Run{
		ID:        id,
		Label:     label,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE utri.runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return notFound(runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, message string, phases []model.PhaseResult) error {
	phasesJSON, err := marshalPhases(phases)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE utri.runs SET status = $1, error = $2, phases = $3, updated_at = $4 WHERE id = $5`,
		string(model.RunStatusFailed), message, phasesJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return notFound(runID)
	}
	return nil
}

// scoreUpsert keys unit scores by run and tract so a re-saved run updates
// rows in place.
var scoreUpsert = db.UpsertConfig{
	Table:        "utri.unit_scores",
	Columns:      scoreColumns,
	ConflictKeys: []string{"run_id", "geoid"},
}

// SaveResult writes the result in one transaction: scores are upserted and
// stale tracts pruned, the other tables are replaced via COPY.
func (s *PostgresStore) SaveResult(ctx context.Context, runID string, result *RunResult) error {
	phasesJSON, err := marshalPhases(result.Phases)
	if err != nil {
		return err
	}
	scores := make([][]any, 0, len(result.Scores))
	geoids := make([]string, 0, len(result.Scores))
	for _, sc := range result.Scores {
		row, err := scoreRow(runID, sc)
		if err != nil {
			return err
		}
		scores = append(scores, row)
		geoids = append(geoids, sc.GEOID)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`UPDATE utri.runs SET status = $1, units = $2, excluded = $3, phases = $4, summary = $5, error = '', updated_at = $6 WHERE id = $7`,
		string(model.RunStatusComplete), len(result.Scores), excludedUnits(result.Exclusions),
		phasesJSON, nullableJSON(result.Summary), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return notFound(runID)
	}

	if _, err := db.BulkUpsertTx(ctx, tx, scoreUpsert, scores); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM utri.unit_scores WHERE run_id = $1 AND NOT (geoid = ANY($2))`,
		runID, geoids,
	); err != nil {
		return eris.Wrapf(err, "postgres: prune scores %s", runID)
	}

	replace := []struct {
		table   string
		columns []string
		rows    [][]any
	}{
		{"utri.run_weights", weightColumns, weightRows(runID, result.Weights)},
		{"utri.run_moran", moranColumns, moranRows(runID, result.Moran)},
		{"utri.run_exclusions", exclusionColumns, exclusionRows(runID, result.Exclusions)},
	}
	for _, r := range replace {
		if _, err := tx.Exec(ctx, `DELETE FROM `+r.table+` WHERE run_id = $1`, runID); err != nil {
			return eris.Wrapf(err, "postgres: clear %s", r.table)
		}
		if _, err := db.CopyFrom(ctx, tx, r.table, r.columns, r.rows); err != nil {
			return err
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit result")
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM utri.runs WHERE id = $1`, runID)
	r, err := scanPostgresRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter model.RunFilter) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM utri.runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPostgresRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) GetScores(ctx context.Context, runID string) ([]model.UnitScore, error) {
	if err := s.exists(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+strings.Join(scoreColumns[1:], ", ")+` FROM utri.unit_scores WHERE run_id = $1 ORDER BY geoid`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get scores %s", runID)
	}
	defer rows.Close()

	var out []model.UnitScore
	for rows.Next() {
		var sc model.UnitScore
		var coefs, geom []byte
		if err := rows.Scan(&sc.GEOID, &sc.Name,
			&sc.GlobalPermeability, &sc.AvgClustering, &sc.DegreeAssortativity, &sc.GiniEdgeBetweenness,
			&sc.UTRI, &sc.TRVI, &sc.MHI, &sc.LST, &sc.LocalR2, &sc.Residual, &coefs, &geom,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan score")
		}
		if err := decodeScoreExtras(&sc, coefs, geom); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: get scores iterate")
}

func (s *PostgresStore) GetWeights(ctx context.Context, runID string) ([]model.WeightRow, error) {
	if err := s.exists(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT indicator, weight, entropy, degenerate FROM utri.run_weights WHERE run_id = $1 ORDER BY indicator`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get weights %s", runID)
	}
	defer rows.Close()

	var out []model.WeightRow
	for rows.Next() {
		var w model.WeightRow
		var indicator string
		if err := rows.Scan(&indicator, &w.Weight, &w.Entropy, &w.Degenerate); err != nil {
			return nil, eris.Wrap(err, "postgres: scan weight")
		}
		w.Indicator = model.Indicator(indicator)
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: get weights iterate")
	}
	return orderWeights(out), nil
}

func (s *PostgresStore) GetMoran(ctx context.Context, runID string) ([]model.MoranRow, error) {
	if err := s.exists(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT variable, n, dropped, i, expected, z, p, p_sim, class, skipped FROM utri.run_moran WHERE run_id = $1 ORDER BY seq`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get moran %s", runID)
	}
	defer rows.Close()

	var out []model.MoranRow
	for rows.Next() {
		var m model.MoranRow
		if err := rows.Scan(&m.Variable, &m.N, &m.Dropped, &m.I, &m.Expected, &m.Z, &m.P, &m.PSim, &m.Class, &m.Skipped); err != nil {
			return nil, eris.Wrap(err, "postgres: scan moran")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: get moran iterate")
}

func (s *PostgresStore) GetExclusions(ctx context.Context, runID string) ([]model.Exclusion, error) {
	if err := s.exists(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT geoid, stage, kind, reason FROM utri.run_exclusions WHERE run_id = $1 ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get exclusions %s", runID)
	}
	defer rows.Close()

	var out []model.Exclusion
	for rows.Next() {
		var e model.Exclusion
		var stage, kind string
		if err := rows.Scan(&e.GEOID, &stage, &kind, &e.Reason); err != nil {
			return nil, eris.Wrap(err, "postgres: scan exclusion")
		}
		e.Stage = model.Stage(stage)
		e.Kind = failure.Kind(kind)
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: get exclusions iterate")
}

func (s *PostgresStore) GetSummary(ctx context.Context, runID string) (json.RawMessage, error) {
	var summary []byte
	err := s.pool.QueryRow(ctx, `SELECT summary FROM utri.runs WHERE id = $1`, runID).Scan(&summary)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get summary %s", runID)
	}
	if len(summary) == 0 {
		return nil, nil
	}
	return json.RawMessage(summary), nil
}

func (s *PostgresStore) exists(ctx context.Context, runID string) error {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM utri.runs WHERE id = $1`, runID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound(runID)
	}
	return eris.Wrapf(err, "postgres: lookup run %s", runID)
}

func scanPostgresRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var status string
	var phases []byte
	if err := row.Scan(&r.ID, &r.Label, &status, &r.Units, &r.Excluded, &phases, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	if len(phases) > 0 {
		if err := json.Unmarshal(phases, &r.Phases); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal phases")
		}
	}
	return &r, nil
}
