// Package report writes pipeline results as GEOID-keyed CSV tables and a
// JSON or YAML summary.
package report

import (
	"math"
	"sort"
	"time"

	"github.com/sells-group/utri-cli/internal/gwr"
	"github.com/sells-group/utri-cli/internal/model"
	"github.com/sells-group/utri-cli/internal/pipeline"
)

// Summary is the run-level report document.
type Summary struct {
	GeneratedAt time.Time             `json:"generated_at" yaml:"generated_at"`
	RunID       string                `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Units       int                   `json:"units" yaml:"units"`
	Rule        string                `json:"trvi_rule" yaml:"trvi_rule"`
	EqualWeight bool                  `json:"equal_weights,omitempty" yaml:"equal_weights,omitempty"`
	Weights     []model.WeightRow     `json:"weights" yaml:"weights"`
	Descriptive []Stats               `json:"descriptive" yaml:"descriptive"`
	Moran       []model.MoranRow      `json:"moran" yaml:"moran"`
	GWR         *GWRSummary           `json:"gwr,omitempty" yaml:"gwr,omitempty"`
	Top         []Ranked              `json:"most_vulnerable" yaml:"most_vulnerable"`
	Bottom      []Ranked              `json:"least_vulnerable" yaml:"least_vulnerable"`
	Exclusions  []model.Exclusion     `json:"exclusions" yaml:"exclusions"`
	Errors      []pipeline.StageError `json:"errors,omitempty" yaml:"errors,omitempty"`
	Phases      []model.PhaseResult   `json:"phases" yaml:"phases"`
}

// GWRSummary holds the regression diagnostics and the spread of each local
// coefficient.
type GWRSummary struct {
	Kernel       string    `json:"kernel" yaml:"kernel"`
	Adaptive     bool      `json:"adaptive" yaml:"adaptive"`
	Standardized bool      `json:"standardized" yaml:"standardized"`
	Bandwidth    float64   `json:"bandwidth" yaml:"bandwidth"`
	AICc         float64   `json:"aicc" yaml:"aicc"`
	R2           float64   `json:"r2" yaml:"r2"`
	TraceS       float64   `json:"trace_s" yaml:"trace_s"`
	Units        int       `json:"units" yaml:"units"`
	Failed       int       `json:"failed" yaml:"failed"`
	Global       GlobalFit `json:"global" yaml:"global"`
	Coefficients []Stats   `json:"coefficients" yaml:"coefficients"`
	LocalR2      Stats     `json:"local_r2" yaml:"local_r2"`
}

// GlobalFit is the OLS baseline keyed by variable name.
type GlobalFit struct {
	Coefficients map[string]float64 `json:"coefficients" yaml:"coefficients"`
	R2           float64            `json:"r2" yaml:"r2"`
	AdjR2        float64            `json:"adj_r2" yaml:"adj_r2"`
	AICc         float64            `json:"aicc" yaml:"aicc"`
}

// Ranked is one unit in a TRVI ranking.
type Ranked struct {
	Rank  int      `json:"rank" yaml:"rank"`
	GEOID string   `json:"geoid" yaml:"geoid"`
	Name  string   `json:"name,omitempty" yaml:"name,omitempty"`
	TRVI  float64  `json:"trvi" yaml:"trvi"`
	UTRI  float64  `json:"utri" yaml:"utri"`
	MHI   *float64 `json:"mhi" yaml:"mhi"`
}

// Build assembles the summary. topN bounds each end of the TRVI ranking.
func Build(res *pipeline.Result, topN int) *Summary {
	scores := res.Scores()
	s := &Summary{
		GeneratedAt: time.Now().UTC(),
		Units:       len(scores),
		Rule:        string(res.Rule),
		Weights:     res.Weights(),
		Moran:       res.MoranRows(),
		Exclusions:  res.Exclusions,
		Errors:      res.Errors,
		Phases:      res.Phases,
	}
	if res.EWM != nil {
		s.EqualWeight = res.EWM.EqualWeights
	}
	s.Descriptive = describeScores(scores)
	s.Top, s.Bottom = rank(scores, topN)
	if res.GWR != nil {
		s.GWR = summarizeGWR(res.GWR)
	}
	return s
}

func describeScores(scores []model.UnitScore) []Stats {
	cols := []struct {
		name string
		get  func(model.UnitScore) float64
	}{
		{string(model.GlobalPermeability), func(u model.UnitScore) float64 { return u.GlobalPermeability }},
		{string(model.AvgClustering), func(u model.UnitScore) float64 { return u.AvgClustering }},
		{string(model.DegreeAssortativity), func(u model.UnitScore) float64 { return u.DegreeAssortativity }},
		{string(model.GiniEdgeBetweenness), func(u model.UnitScore) float64 { return u.GiniEdgeBetweenness }},
		{"utri", func(u model.UnitScore) float64 { return u.UTRI }},
		{"trvi", func(u model.UnitScore) float64 { return value(u.TRVI) }},
		{"mhi", func(u model.UnitScore) float64 { return value(u.MHI) }},
		{"lst", func(u model.UnitScore) float64 { return value(u.LST) }},
	}
	out := make([]Stats, len(cols))
	for k, c := range cols {
		values := make([]float64, len(scores))
		for i, u := range scores {
			values[i] = c.get(u)
		}
		out[k] = Describe(c.name, values)
	}
	return out
}

// rank orders scored units by TRVI, highest first, breaking ties by GEOID.
func rank(scores []model.UnitScore, topN int) (top, bottom []Ranked) {
	var ranked []Ranked
	for _, u := range scores {
		if u.TRVI == nil {
			continue
		}
		ranked = append(ranked, Ranked{GEOID: u.GEOID, Name: u.Name, TRVI: *u.TRVI, UTRI: u.UTRI, MHI: u.MHI})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].TRVI != ranked[j].TRVI {
			return ranked[i].TRVI > ranked[j].TRVI
		}
		return ranked[i].GEOID < ranked[j].GEOID
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	if topN <= 0 || len(ranked) == 0 {
		return nil, nil
	}
	n := min(topN, len(ranked))
	top = append(top, ranked[:n]...)
	for i := len(ranked) - 1; i >= len(ranked)-n; i-- {
		bottom = append(bottom, ranked[i])
	}
	return top, bottom
}

func summarizeGWR(r *gwr.Result) *GWRSummary {
	g := &GWRSummary{
		Kernel:       string(r.Kernel),
		Adaptive:     r.Adaptive,
		Standardized: r.Standardized,
		Bandwidth:    r.Bandwidth,
		AICc:         r.AICc,
		R2:           r.R2,
		TraceS:       r.TraceS,
		Units:        len(r.Local),
		Failed:       len(r.Failed()),
	}
	if r.Global != nil {
		g.Global = GlobalFit{
			Coefficients: make(map[string]float64, len(r.Global.Coefficients)),
			R2:           r.Global.R2,
			AdjR2:        r.Global.AdjR2,
			AICc:         r.Global.AICc,
		}
		for k, c := range r.Global.Coefficients {
			g.Global.Coefficients[r.Names[k]] = c
		}
	}

	localR2 := make([]float64, len(r.Local))
	coefs := make([][]float64, len(r.Names))
	for k := range coefs {
		coefs[k] = make([]float64, len(r.Local))
	}
	for i, l := range r.Local {
		if l.Failed {
			localR2[i] = math.NaN()
			for k := range coefs {
				coefs[k][i] = math.NaN()
			}
			continue
		}
		localR2[i] = l.LocalR2
		for k, c := range l.Coefficients {
			coefs[k][i] = c
		}
	}
	g.LocalR2 = Describe("local_r2", localR2)
	g.Coefficients = make([]Stats, len(r.Names))
	for k, name := range r.Names {
		g.Coefficients[k] = Describe(name, coefs[k])
	}
	return g
}

func value(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}
