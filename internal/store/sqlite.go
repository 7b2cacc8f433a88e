package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/utri-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	label      TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'running',
	units      INTEGER NOT NULL DEFAULT 0,
	excluded   INTEGER NOT NULL DEFAULT 0,
	phases     TEXT,
	summary    TEXT,
	error      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS unit_scores (
	run_id                TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	geoid                 TEXT NOT NULL,
	name                  TEXT NOT NULL DEFAULT '',
	global_permeability   REAL NOT NULL,
	avg_clustering        REAL NOT NULL,
	degree_assortativity  REAL NOT NULL,
	gini_edge_betweenness REAL NOT NULL,
	utri                  REAL NOT NULL,
	trvi                  REAL,
	mhi                   REAL,
	lst                   REAL,
	local_r2              REAL,
	residual              REAL,
	coefficients          BLOB,
	geom                  BLOB,
	PRIMARY KEY (run_id, geoid)
);

CREATE TABLE IF NOT EXISTS run_weights (
	run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	indicator  TEXT NOT NULL,
	weight     REAL NOT NULL,
	entropy    REAL NOT NULL,
	degenerate INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, indicator)
);

CREATE TABLE IF NOT EXISTS run_moran (
	run_id   TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	seq      INTEGER NOT NULL,
	variable TEXT NOT NULL,
	n        INTEGER NOT NULL,
	dropped  INTEGER NOT NULL DEFAULT 0,
	i        REAL NOT NULL,
	expected REAL NOT NULL,
	z        REAL NOT NULL,
	p        REAL NOT NULL,
	p_sim    REAL NOT NULL,
	class    TEXT NOT NULL DEFAULT '',
	skipped  TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, variable)
);

CREATE TABLE IF NOT EXISTS run_exclusions (
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	geoid  TEXT NOT NULL,
	stage  TEXT NOT NULL,
	kind   TEXT NOT NULL,
	reason TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_exclusions_run_id ON run_exclusions(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, label string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, label, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, label, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Label:     label,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, message string, phases []model.PhaseResult) error {
	phasesJSON, err := marshalPhases(phases)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, phases = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusFailed), message, phasesJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, runID)
}

// SaveResult replaces the run's result rows and marks it complete, all in
// one transaction.
func (s *SQLiteStore) SaveResult(ctx context.Context, runID string, result *RunResult) error {
	phasesJSON, err := marshalPhases(result.Phases)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE runs SET status = ?, units = ?, excluded = ?, phases = ?, summary = ?, error = '', updated_at = ? WHERE id = ?`,
		string(model.RunStatusComplete), len(result.Scores), excludedUnits(result.Exclusions),
		phasesJSON, nullableJSON(result.Summary), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run %s", runID)
	}
	if err := checkRowsAffected(res, runID); err != nil {
		return err
	}

	for _, table := range []string{"unit_scores", "run_weights", "run_moran", "run_exclusions"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE run_id = ?`, runID); err != nil {
			return eris.Wrapf(err, "sqlite: clear %s", table)
		}
	}

	scores := make([][]any, 0, len(result.Scores))
	for _, sc := range result.Scores {
		row, err := scoreRow(runID, sc)
		if err != nil {
			return err
		}
		scores = append(scores, row)
	}
	inserts := []struct {
		table   string
		columns []string
		rows    [][]any
	}{
		{"unit_scores", scoreColumns, scores},
		{"run_weights", weightColumns, weightRows(runID, result.Weights)},
		{"run_moran", moranColumns, moranRows(runID, result.Moran)},
		{"run_exclusions", exclusionColumns, exclusionRows(runID, result.Exclusions)},
	}
	for _, ins := range inserts {
		if err := insertRows(ctx, tx, ins.table, ins.columns, ins.rows); err != nil {
			return err
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit result")
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, label, status, units, excluded, phases, error, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(runID)
	}
	return r, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter model.RunFilter) ([]model.Run, error) {
	query := `SELECT id, label, status, units, excluded, phases, error, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) GetScores(ctx context.Context, runID string) ([]model.UnitScore, error) {
	if err := s.exists(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+strings.Join(scoreColumns[1:], ", ")+` FROM unit_scores WHERE run_id = ? ORDER BY geoid`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get scores %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.UnitScore
	for rows.Next() {
		var sc model.UnitScore
		var coefs, geom []byte
		if err := rows.Scan(&sc.GEOID, &sc.Name,
			&sc.GlobalPermeability, &sc.AvgClustering, &sc.DegreeAssortativity, &sc.GiniEdgeBetweenness,
			&sc.UTRI, &sc.TRVI, &sc.MHI, &sc.LST, &sc.LocalR2, &sc.Residual, &coefs, &geom,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan score")
		}
		if err := decodeScoreExtras(&sc, coefs, geom); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: get scores iterate")
}

func (s *SQLiteStore) GetWeights(ctx context.Context, runID string) ([]model.WeightRow, error) {
	if err := s.exists(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT indicator, weight, entropy, degenerate FROM run_weights WHERE run_id = ? ORDER BY rowid`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get weights %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.WeightRow
	for rows.Next() {
		var w model.WeightRow
		if err := rows.Scan(&w.Indicator, &w.Weight, &w.Entropy, &w.Degenerate); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan weight")
		}
		out = append(out, w)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: get weights iterate")
}

func (s *SQLiteStore) GetMoran(ctx context.Context, runID string) ([]model.MoranRow, error) {
	if err := s.exists(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT variable, n, dropped, i, expected, z, p, p_sim, class, skipped FROM run_moran WHERE run_id = ? ORDER BY seq`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get moran %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.MoranRow
	for rows.Next() {
		var m model.MoranRow
		if err := rows.Scan(&m.Variable, &m.N, &m.Dropped, &m.I, &m.Expected, &m.Z, &m.P, &m.PSim, &m.Class, &m.Skipped); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan moran")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: get moran iterate")
}

func (s *SQLiteStore) GetExclusions(ctx context.Context, runID string) ([]model.Exclusion, error) {
	if err := s.exists(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT geoid, stage, kind, reason FROM run_exclusions WHERE run_id = ? ORDER BY rowid`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get exclusions %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Exclusion
	for rows.Next() {
		var e model.Exclusion
		if err := rows.Scan(&e.GEOID, &e.Stage, &e.Kind, &e.Reason); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan exclusion")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: get exclusions iterate")
}

func (s *SQLiteStore) GetSummary(ctx context.Context, runID string) (json.RawMessage, error) {
	var summary sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT summary FROM runs WHERE id = ?`, runID).Scan(&summary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get summary %s", runID)
	}
	if !summary.Valid {
		return nil, nil
	}
	return json.RawMessage(summary.String), nil
}

// helpers

func (s *SQLiteStore) exists(ctx context.Context, runID string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM runs WHERE id = ?`, runID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(runID)
	}
	return eris.Wrapf(err, "sqlite: lookup run %s", runID)
}

func insertRows(ctx context.Context, tx *sql.Tx, table string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO `+table+` (`+strings.Join(columns, ", ")+`) VALUES (`+placeholders+`)`)
	if err != nil {
		return eris.Wrapf(err, "sqlite: prepare insert %s", table)
	}
	defer stmt.Close() //nolint:errcheck

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return eris.Wrapf(err, "sqlite: insert %s", table)
		}
	}
	return nil
}

func checkRowsAffected(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return notFound(runID)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var phasesJSON sql.NullString

	err := row.Scan(&r.ID, &r.Label, &r.Status, &r.Units, &r.Excluded, &phasesJSON, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	if phasesJSON.Valid && phasesJSON.String != "" {
		if err := json.Unmarshal([]byte(phasesJSON.String), &r.Phases); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal phases")
		}
	}
	return &r, nil
}
