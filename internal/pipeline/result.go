package pipeline

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/sells-group/utri-cli/internal/ewm"
	"github.com/sells-group/utri-cli/internal/failure"
	"github.com/sells-group/utri-cli/internal/gwr"
	"github.com/sells-group/utri-cli/internal/model"
	"github.com/sells-group/utri-cli/internal/moran"
	"github.com/sells-group/utri-cli/internal/trvi"
)

// Result is the outcome of one pipeline run. Units, Indicators and TRVI
// share GEOID order.
type Result struct {
	Units      []model.SpatialUnit
	Indicators []model.IndicatorRow
	EWM        *ewm.Result
	Rule       trvi.Rule
	TRVI       []trvi.Score
	Moran      []moran.Entry
	GWR        *gwr.Result
	Exclusions []model.Exclusion
	Errors     []StageError
	Phases     []model.PhaseResult
}

func (r *Result) geoids() []string {
	out := make([]string, len(r.Units))
	for i, u := range r.Units {
		out[i] = u.GEOID
	}
	return out
}

func (r *Result) geometries() []orb.MultiPolygon {
	out := make([]orb.MultiPolygon, len(r.Units))
	for i, u := range r.Units {
		out[i] = u.Geometry
	}
	return out
}

func (r *Result) centroids() []orb.Point {
	out := make([]orb.Point, len(r.Units))
	for i, u := range r.Units {
		out[i] = u.Centroid
	}
	return out
}

func (r *Result) utri() []float64 {
	out := make([]float64, len(r.Units))
	if r.EWM == nil {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	for i, s := range r.EWM.Scores {
		out[i] = s.UTRI
	}
	return out
}

// moranVariables lines up every tested column with the unit order.
func (r *Result) moranVariables() []moran.Variable {
	n := len(r.Units)
	trviValues := make([]float64, n)
	mhi := make([]float64, n)
	lst := make([]float64, n)
	for i, u := range r.Units {
		trviValues[i] = math.NaN()
		if i < len(r.TRVI) {
			trviValues[i] = nan(r.TRVI[i].TRVI)
		}
		mhi[i] = nan(u.MHI)
		lst[i] = nan(u.LST)
	}
	vars := []moran.Variable{
		{Name: "utri", Values: r.utri()},
		{Name: "trvi", Values: trviValues},
		{Name: "mhi", Values: mhi},
		{Name: "lst", Values: lst},
	}
	for _, ind := range model.Indicators {
		col := make([]float64, n)
		for i, row := range r.Indicators {
			col[i] = row.Value(ind)
		}
		vars = append(vars, moran.Variable{Name: string(ind), Values: col})
	}
	return vars
}

// gwrData builds the LST regression on the named explanatory variables.
// Units without LST are dropped and returned as exclusions.
func (r *Result) gwrData(variables []string) (gwr.Data, []model.Exclusion, error) {
	if len(variables) == 0 {
		return gwr.Data{}, nil, failure.New(failure.Configuration, "gwr: no explanatory variables")
	}
	utri := r.utri()
	cols := make([]func(i int) float64, len(variables))
	for k, name := range variables {
		if name == UTRIVariable {
			cols[k] = func(i int) float64 { return utri[i] }
			continue
		}
		ind, ok := model.ParseIndicator(name)
		if !ok {
			return gwr.Data{}, nil, failure.New(failure.Configuration, "gwr: unknown variable %q", name)
		}
		cols[k] = func(i int) float64 { return r.Indicators[i].Value(ind) }
	}

	data := gwr.Data{Names: append([]string(nil), variables...)}
	var dropped []model.Exclusion
	for i, u := range r.Units {
		if u.LST == nil {
			dropped = append(dropped, model.Exclusion{
				GEOID: u.GEOID, Stage: model.StageGWR, Kind: failure.DataQuality,
				Reason: "missing land-surface temperature",
			})
			continue
		}
		x := make([]float64, len(cols))
		for k, col := range cols {
			x[k] = col(i)
		}
		data.GEOIDs = append(data.GEOIDs, u.GEOID)
		data.Y = append(data.Y, *u.LST)
		data.X = append(data.X, x)
		data.Points = append(data.Points, u.Centroid)
	}
	return data, dropped, nil
}

// Scores flattens the result into one row per scored unit.
func (r *Result) Scores() []model.UnitScore {
	var local map[string]gwr.Local
	if r.GWR != nil {
		local = make(map[string]gwr.Local, len(r.GWR.Local))
		for _, l := range r.GWR.Local {
			local[l.GEOID] = l
		}
	}
	utri := r.utri()

	out := make([]model.UnitScore, len(r.Units))
	for i, u := range r.Units {
		row := r.Indicators[i]
		s := model.UnitScore{
			GEOID:               u.GEOID,
			Name:                u.Name,
			GlobalPermeability:  row.GlobalPermeability,
			AvgClustering:       row.AvgClustering,
			DegreeAssortativity: row.DegreeAssortativity,
			GiniEdgeBetweenness: row.GiniEdgeBetweenness,
			UTRI:                utri[i],
			MHI:                 u.MHI,
			LST:                 u.LST,
			Geometry:            u.Geometry,
		}
		if i < len(r.TRVI) {
			s.TRVI = r.TRVI[i].TRVI
		}
		if l, ok := local[u.GEOID]; ok && !l.Failed {
			r2, resid := l.LocalR2, l.Residual
			s.LocalR2, s.Residual = &r2, &resid
			s.Coefficients = make(map[string]float64, len(l.Coefficients))
			for k, c := range l.Coefficients {
				s.Coefficients[r.GWR.Names[k]] = c
			}
		}
		out[i] = s
	}
	return out
}

// Weights lists the entropy weights in indicator order.
func (r *Result) Weights() []model.WeightRow {
	return WeightRows(r.EWM)
}

// WeightRows flattens a weighting result into table rows.
func WeightRows(res *ewm.Result) []model.WeightRow {
	if res == nil {
		return nil
	}
	degenerate := make(map[model.Indicator]bool, len(res.Degenerate))
	for _, ind := range res.Degenerate {
		degenerate[ind] = true
	}
	out := make([]model.WeightRow, len(res.Indicators))
	for k, ind := range res.Indicators {
		out[k] = model.WeightRow{
			Indicator:  ind,
			Weight:     res.Weights[k],
			Entropy:    res.Entropies[k],
			Degenerate: degenerate[ind],
		}
	}
	return out
}

// MoranRows flattens the autocorrelation table.
func (r *Result) MoranRows() []model.MoranRow {
	return MoranRows(r.Moran)
}

// MoranRows flattens report entries into table rows.
func MoranRows(entries []moran.Entry) []model.MoranRow {
	out := make([]model.MoranRow, len(entries))
	for k, e := range entries {
		row := model.MoranRow{Variable: e.Variable, Skipped: e.Skipped, Dropped: e.Dropped}
		if e.Result != nil {
			row.N = e.Result.N
			row.I = e.Result.I
			row.Expected = e.Result.Expected
			row.Z = e.Result.Z
			row.P = e.Result.P
			row.PSim = e.Result.PSim
			row.Class = string(e.Result.Class)
		}
		out[k] = row
	}
	return out
}
