// Package pipeline runs the thermal resilience analysis over joined inputs:
// network indicators, entropy weighting, the vulnerability composite and the
// spatial validation statistics.
package pipeline

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/utri-cli/internal/ewm"
	"github.com/sells-group/utri-cli/internal/failure"
	"github.com/sells-group/utri-cli/internal/gwr"
	"github.com/sells-group/utri-cli/internal/ingest"
	"github.com/sells-group/utri-cli/internal/metrics"
	"github.com/sells-group/utri-cli/internal/model"
	"github.com/sells-group/utri-cli/internal/moran"
	"github.com/sells-group/utri-cli/internal/spatial"
	"github.com/sells-group/utri-cli/internal/trvi"
)

// Phase names in execution order.
const (
	PhaseMetrics   = "metrics"
	PhaseEWM       = "ewm"
	PhaseTRVI      = "trvi"
	PhaseAdjacency = "adjacency"
	PhaseMoran     = "moran"
	PhaseGWR       = "gwr"
)

// StageError is a cohort-level failure that stopped one statistic.
type StageError struct {
	Stage   model.Stage  `json:"stage" yaml:"stage"`
	Kind    failure.Kind `json:"kind" yaml:"kind"`
	Message string       `json:"message" yaml:"message"`
}

// Pipeline orchestrates the analysis phases.
type Pipeline struct {
	opts Options
}

// New creates a Pipeline with resolved options.
func New(opts Options) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Pipeline{opts: opts}
}

// Extract runs only the indicator phase. Rows follow GEOID order.
func (p *Pipeline) Extract(ctx context.Context, in *ingest.Inputs) ([]model.IndicatorRow, []model.Exclusion, error) {
	units := sortedUnits(in.WithGraphs())
	rows, excluded, err := metrics.ExtractAll(ctx, units, p.opts.Metrics, p.opts.Workers)
	if err != nil {
		return nil, nil, err
	}
	exclusions := append(append([]model.Exclusion(nil), in.Exclusions...), excluded...)
	sortExclusions(exclusions)
	return rows, exclusions, nil
}

// Run executes every phase. Units are analyzed in GEOID order so results do
// not depend on input order. Per-unit failures become exclusions and
// cohort-level failures are recorded in Result.Errors; the returned error is
// reserved for cancellation.
func (p *Pipeline) Run(ctx context.Context, in *ingest.Inputs) (*Result, error) {
	log := zap.L().With(zap.String("component", "pipeline"))
	start := time.Now()

	res := &Result{
		Rule:       p.opts.Rule,
		Exclusions: append([]model.Exclusion(nil), in.Exclusions...),
	}

	trackPhase := func(name string, fn func() (map[string]any, error)) error {
		begin := time.Now()
		meta, fnErr := fn()
		duration := time.Since(begin).Milliseconds()

		pr := model.PhaseResult{Name: name, Duration: duration, Metadata: meta}
		if fnErr != nil {
			pr.Status = model.PhaseStatusFailed
			pr.Error = fnErr.Error()
			log.Error("pipeline: phase failed",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
				zap.Error(fnErr),
			)
		} else {
			pr.Status = model.PhaseStatusComplete
			log.Info("pipeline: phase complete",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
			)
		}
		res.Phases = append(res.Phases, pr)
		return fnErr
	}
	skipPhase := func(name, reason string) {
		res.Phases = append(res.Phases, model.PhaseResult{Name: name, Status: model.PhaseStatusSkipped, Error: reason})
		log.Info("pipeline: phase skipped", zap.String("phase", name), zap.String("reason", reason))
	}

	// Phase 1: indicators (parallel map over units)
	units := sortedUnits(in.WithGraphs())
	err := trackPhase(PhaseMetrics, func() (map[string]any, error) {
		rows, excluded, err := metrics.ExtractAll(ctx, units, p.opts.Metrics, p.opts.Workers)
		if err != nil {
			return nil, err
		}
		res.Indicators = rows
		res.Exclusions = append(res.Exclusions, excluded...)
		return map[string]any{"measured": len(rows), "excluded": len(excluded)}, nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: metrics")
	}

	measured := make(map[string]bool, len(res.Indicators))
	for _, r := range res.Indicators {
		measured[r.GEOID] = true
	}
	for _, u := range units {
		if measured[u.GEOID] {
			res.Units = append(res.Units, u)
		}
	}

	// Phase 2: entropy weights (barrier)
	if err := trackPhase(PhaseEWM, func() (map[string]any, error) {
		r, err := ewm.Compute(res.Indicators)
		if err != nil {
			return nil, err
		}
		res.EWM = r
		return map[string]any{"equal_weights": r.EqualWeights, "degenerate": len(r.Degenerate)}, nil
	}); err != nil {
		res.recordError(model.StageEWM, err)
		for _, name := range []string{PhaseTRVI, PhaseAdjacency, PhaseMoran, PhaseGWR} {
			skipPhase(name, "no UTRI scores")
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		res.finish()
		return res, nil
	}

	// Phase 3: vulnerability composite
	if err := trackPhase(PhaseTRVI, func() (map[string]any, error) {
		byGEOID := res.EWM.ByGEOID()
		inputs := make([]trvi.Input, len(res.Units))
		for i, u := range res.Units {
			inputs[i] = trvi.Input{GEOID: u.GEOID, UTRI: byGEOID[u.GEOID].UTRI, MHI: u.MHI}
		}
		scores, err := trvi.Build(inputs, p.opts.Rule)
		if err != nil {
			return nil, err
		}
		res.TRVI = scores
		var missing int
		for _, s := range scores {
			if s.TRVI == nil {
				missing++
				res.Exclusions = append(res.Exclusions, model.Exclusion{
					GEOID: s.GEOID, Stage: model.StageTRVI, Kind: failure.DataQuality,
					Reason: "missing median household income",
				})
			}
		}
		return map[string]any{"scored": len(scores) - missing, "missing_mhi": missing}, nil
	}); err != nil {
		res.recordError(model.StageTRVI, err)
	}

	// Phase 4: adjacency and Moran's I
	var adj *spatial.Adjacency
	if err := trackPhase(PhaseAdjacency, func() (map[string]any, error) {
		a, err := spatial.Build(p.opts.Adjacency, res.geometries(), res.centroids(), p.opts.K, p.opts.Coordinates)
		if err != nil {
			return nil, err
		}
		if err := a.Validate(res.geoids()); err != nil {
			return nil, err
		}
		adj = a
		return map[string]any{"policy": string(p.opts.Adjacency), "links": a.Links()}, nil
	}); err != nil {
		res.recordError(model.StageMoran, err)
		skipPhase(PhaseMoran, "no adjacency")
	} else if err := trackPhase(PhaseMoran, func() (map[string]any, error) {
		entries, err := moran.Report(res.moranVariables(), adj, p.opts.Moran)
		if err != nil {
			return nil, err
		}
		res.Moran = entries
		var skipped int
		for _, e := range entries {
			if e.Result == nil {
				skipped++
			}
		}
		return map[string]any{"variables": len(entries), "skipped": skipped}, nil
	}); err != nil {
		res.recordError(model.StageMoran, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Phase 5: GWR of land-surface temperature
	if !p.opts.GWREnabled {
		skipPhase(PhaseGWR, "disabled")
	} else if err := trackPhase(PhaseGWR, func() (map[string]any, error) {
		data, dropped, err := res.gwrData(p.opts.GWRVariables)
		if err != nil {
			return nil, err
		}
		res.Exclusions = append(res.Exclusions, dropped...)
		fit, err := gwr.Fit(ctx, data, p.opts.GWR)
		if err != nil {
			return nil, err
		}
		res.GWR = fit
		for _, l := range fit.Failed() {
			res.Exclusions = append(res.Exclusions, model.Exclusion{
				GEOID: l.GEOID, Stage: model.StageGWR, Kind: failure.NumericDegeneracy, Reason: l.Reason,
			})
		}
		return map[string]any{
			"units":     len(data.GEOIDs),
			"bandwidth": fit.Bandwidth,
			"aicc":      fit.AICc,
			"failed":    len(fit.Failed()),
		}, nil
	}); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		res.recordError(model.StageGWR, err)
	}

	res.finish()
	log.Info("pipeline: run complete",
		zap.Int("units", len(res.Units)),
		zap.Int("exclusions", len(res.Exclusions)),
		zap.Int("errors", len(res.Errors)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

func (r *Result) recordError(stage model.Stage, err error) {
	kind, ok := failure.KindOf(err)
	if !ok {
		kind = failure.DataQuality
	}
	r.Errors = append(r.Errors, StageError{Stage: stage, Kind: kind, Message: err.Error()})
}

func (r *Result) finish() {
	sortExclusions(r.Exclusions)
}

func sortedUnits(units []model.SpatialUnit) []model.SpatialUnit {
	out := append([]model.SpatialUnit(nil), units...)
	sort.Slice(out, func(i, j int) bool { return out[i].GEOID < out[j].GEOID })
	return out
}

var stageOrder = map[model.Stage]int{
	model.StageIngest:  0,
	model.StageMetrics: 1,
	model.StageEWM:     2,
	model.StageTRVI:    3,
	model.StageMoran:   4,
	model.StageGWR:     5,
}

func sortExclusions(ex []model.Exclusion) {
	sort.SliceStable(ex, func(i, j int) bool {
		if ex[i].GEOID != ex[j].GEOID {
			return ex[i].GEOID < ex[j].GEOID
		}
		return stageOrder[ex[i].Stage] < stageOrder[ex[j].Stage]
	})
}

// nan marks a missing value in a Moran variable.
func nan(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}
