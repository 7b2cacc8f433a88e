// Package store persists pipeline runs and their per-unit results.
package store

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/utri-cli/internal/model"
)

// ErrNotFound is returned (wrapped) when a run does not exist.
var ErrNotFound = eris.New("not found")

// RunResult is everything saved when a run finishes.
type RunResult struct {
	Scores     []model.UnitScore
	Weights    []model.WeightRow
	Moran      []model.MoranRow
	Exclusions []model.Exclusion
	Phases     []model.PhaseResult
	// Summary is the encoded report document.
	Summary json.RawMessage
}

// Store defines the persistence interface for pipeline runs.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, label string) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	FailRun(ctx context.Context, runID string, message string, phases []model.PhaseResult) error
	SaveResult(ctx context.Context, runID string, result *RunResult) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter model.RunFilter) ([]model.Run, error)

	// Results
	GetScores(ctx context.Context, runID string) ([]model.UnitScore, error)
	GetWeights(ctx context.Context, runID string) ([]model.WeightRow, error)
	GetMoran(ctx context.Context, runID string) ([]model.MoranRow, error)
	GetExclusions(ctx context.Context, runID string) ([]model.Exclusion, error)
	GetSummary(ctx context.Context, runID string) (json.RawMessage, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func notFound(runID string) error {
	return eris.Wrapf(ErrNotFound, "run %s", runID)
}
