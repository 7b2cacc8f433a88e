package model

import (
	"time"

	"github.com/paulmach/orb"
)

// RunStatus represents the current state of a pipeline run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one stored pipeline execution.
type Run struct {
	ID        string        `json:"id"`
	Label     string        `json:"label"`
	Status    RunStatus     `json:"status"`
	Units     int           `json:"units"`
	Excluded  int           `json:"excluded"`
	Phases    []PhaseResult `json:"phases,omitempty"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// RunFilter narrows a run listing.
type RunFilter struct {
	Status RunStatus
	Limit  int
	Offset int
}

// PhaseStatus represents the outcome of a pipeline phase.
type PhaseStatus string

const (
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
	PhaseStatusSkipped  PhaseStatus = "skipped"
)

// PhaseResult holds the outcome of a pipeline phase.
type PhaseResult struct {
	Name     string         `json:"name" yaml:"name"`
	Status   PhaseStatus    `json:"status" yaml:"status"`
	Duration int64          `json:"duration_ms" yaml:"duration_ms"`
	Error    string         `json:"error,omitempty" yaml:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// UnitScore is the flattened per-unit result row shared by the report
// writers, the run store and the API.
type UnitScore struct {
	GEOID               string             `json:"geoid"`
	Name                string             `json:"name,omitempty"`
	GlobalPermeability  float64            `json:"global_permeability"`
	AvgClustering       float64            `json:"avg_clustering"`
	DegreeAssortativity float64            `json:"degree_assortativity"`
	GiniEdgeBetweenness float64            `json:"gini_edge_betweenness"`
	UTRI                float64            `json:"utri"`
	TRVI                *float64           `json:"trvi"`
	MHI                 *float64           `json:"mhi"`
	LST                 *float64           `json:"lst"`
	LocalR2             *float64           `json:"local_r2,omitempty"`
	Residual            *float64           `json:"residual,omitempty"`
	Coefficients        map[string]float64 `json:"coefficients,omitempty"`
	Geometry            orb.MultiPolygon   `json:"-"`
}

// WeightRow is one entropy weight.
type WeightRow struct {
	Indicator  Indicator `json:"indicator" yaml:"indicator"`
	Weight     float64   `json:"weight" yaml:"weight"`
	Entropy    float64   `json:"entropy" yaml:"entropy"`
	Degenerate bool      `json:"degenerate" yaml:"degenerate"`
}

// MoranRow is one variable's global autocorrelation test.
type MoranRow struct {
	Variable string  `json:"variable" yaml:"variable"`
	N        int     `json:"n" yaml:"n"`
	I        float64 `json:"i" yaml:"i"`
	Expected float64 `json:"expected" yaml:"expected"`
	Z        float64 `json:"z" yaml:"z"`
	P        float64 `json:"p" yaml:"p"`
	PSim     float64 `json:"p_sim" yaml:"p_sim"`
	Class    string  `json:"class" yaml:"class"`
	Skipped  string  `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Dropped  int     `json:"dropped,omitempty" yaml:"dropped,omitempty"`
}
