package model

import (
	"github.com/sells-group/utri-cli/internal/failure"
)

// Stage identifies the pipeline step that produced an exclusion.
type Stage string

const (
	StageIngest  Stage = "ingest"
	StageMetrics Stage = "metrics"
	StageEWM     Stage = "ewm"
	StageTRVI    Stage = "trvi"
	StageMoran   Stage = "moran"
	StageGWR     Stage = "gwr"
)

// Exclusion records a unit left out of (or flagged in) a stage, and why.
type Exclusion struct {
	GEOID  string       `json:"geoid" yaml:"geoid"`
	Stage  Stage        `json:"stage" yaml:"stage"`
	Kind   failure.Kind `json:"kind" yaml:"kind"`
	Reason string       `json:"reason" yaml:"reason"`
}

// ExclusionFromError converts a per-unit error into an exclusion. The unit
// and kind are taken from the error when it carries them; geoid is the
// fallback identifier.
func ExclusionFromError(stage Stage, geoid string, err error) Exclusion {
	ex := Exclusion{GEOID: geoid, Stage: stage, Kind: failure.DataQuality, Reason: err.Error()}
	if k, ok := failure.KindOf(err); ok {
		ex.Kind = k
	}
	if u := failure.UnitOf(err); u != "" {
		ex.GEOID = u
	}
	return ex
}
