package store

import (
	"encoding/json"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/utri-cli/internal/model"
	"github.com/sells-group/utri-cli/internal/tiger"
)

// scoreColumns is the column order shared by both backends.
var scoreColumns = []string{
	"run_id", "geoid", "name",
	"global_permeability", "avg_clustering", "degree_assortativity", "gini_edge_betweenness",
	"utri", "trvi", "mhi", "lst", "local_r2", "residual", "coefficients", "geom",
}

// scoreRow flattens a score for insertion. Geometry is stored as EWKB and
// coefficients as JSON; nil pointers become NULL.
func scoreRow(runID string, s model.UnitScore) ([]any, error) {
	geom, err := tiger.EncodeWKB(s.Geometry)
	if err != nil {
		return nil, eris.Wrapf(err, "store: encode geometry %s", s.GEOID)
	}
	var coefs []byte
	if len(s.Coefficients) > 0 {
		if coefs, err = json.Marshal(s.Coefficients); err != nil {
			return nil, eris.Wrapf(err, "store: marshal coefficients %s", s.GEOID)
		}
	}
	return []any{
		runID, s.GEOID, s.Name,
		s.GlobalPermeability, s.AvgClustering, s.DegreeAssortativity, s.GiniEdgeBetweenness,
		s.UTRI, s.TRVI, s.MHI, s.LST, s.LocalR2, s.Residual, coefs, geom,
	}, nil
}

// decodeScoreExtras restores the JSON and EWKB columns of a score.
func decodeScoreExtras(s *model.UnitScore, coefs, geom []byte) error {
	if len(coefs) > 0 {
		if err := json.Unmarshal(coefs, &s.Coefficients); err != nil {
			return eris.Wrapf(err, "store: unmarshal coefficients %s", s.GEOID)
		}
	}
	mp, err := tiger.DecodeWKB(geom)
	if err != nil {
		return eris.Wrapf(err, "store: decode geometry %s", s.GEOID)
	}
	s.Geometry = mp
	return nil
}

var weightColumns = []string{"run_id", "indicator", "weight", "entropy", "degenerate"}

func weightRows(runID string, rows []model.WeightRow) [][]any {
	out := make([][]any, len(rows))
	for i, w := range rows {
		out[i] = []any{runID, string(w.Indicator), w.Weight, w.Entropy, w.Degenerate}
	}
	return out
}

var moranColumns = []string{"run_id", "seq", "variable", "n", "dropped", "i", "expected", "z", "p", "p_sim", "class", "skipped"}

func moranRows(runID string, rows []model.MoranRow) [][]any {
	out := make([][]any, len(rows))
	for k, m := range rows {
		out[k] = []any{runID, k, m.Variable, m.N, m.Dropped, m.I, m.Expected, m.Z, m.P, m.PSim, m.Class, m.Skipped}
	}
	return out
}

var exclusionColumns = []string{"run_id", "geoid", "stage", "kind", "reason"}

func exclusionRows(runID string, rows []model.Exclusion) [][]any {
	out := make([][]any, len(rows))
	for i, e := range rows {
		out[i] = []any{runID, e.GEOID, string(e.Stage), string(e.Kind), e.Reason}
	}
	return out
}

// marshalPhases encodes phase outcomes; an empty list stores NULL.
func marshalPhases(phases []model.PhaseResult) (any, error) {
	if len(phases) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(phases)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal phases")
	}
	return string(data), nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// excludedUnits counts distinct units with at least one exclusion.
func excludedUnits(rows []model.Exclusion) int {
	seen := make(map[string]bool, len(rows))
	for _, e := range rows {
		seen[e.GEOID] = true
	}
	return len(seen)
}

// orderWeights restores the canonical indicator order.
func orderWeights(rows []model.WeightRow) []model.WeightRow {
	rank := make(map[model.Indicator]int, len(model.Indicators))
	for i, ind := range model.Indicators {
		rank[ind] = i
	}
	sort.SliceStable(rows, func(i, j int) bool { return rank[rows[i].Indicator] < rank[rows[j].Indicator] })
	return rows
}
