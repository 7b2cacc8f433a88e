package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/utri-cli/internal/ewm"
	"github.com/sells-group/utri-cli/internal/failure"
	"github.com/sells-group/utri-cli/internal/gwr"
	"github.com/sells-group/utri-cli/internal/model"
	"github.com/sells-group/utri-cli/internal/moran"
	"github.com/sells-group/utri-cli/internal/pipeline"
	"github.com/sells-group/utri-cli/internal/trvi"
)

func f(v float64) *float64 { return &v }

// fixture builds a three-unit result by hand. Unit B has no income.
func fixture(t *testing.T) *pipeline.Result {
	t.Helper()
	units := []model.SpatialUnit{
		{GEOID: "A", Name: "Tract A", MHI: f(45000), LST: f(31.5)},
		{GEOID: "B", Name: "Tract B", LST: f(33.0)},
		{GEOID: "C", Name: "Tract C", MHI: f(82000), LST: f(29.8)},
	}
	rows := []model.IndicatorRow{
		{GEOID: "A", GlobalPermeability: 0.61, AvgClustering: 0.10, DegreeAssortativity: -0.20, GiniEdgeBetweenness: 0.35, Nodes: 40, Edges: 55},
		{GEOID: "B", GlobalPermeability: 0.42, AvgClustering: 0.25, DegreeAssortativity: 0.05, GiniEdgeBetweenness: 0.52, Nodes: 22, Edges: 26},
		{GEOID: "C", GlobalPermeability: 0.73, AvgClustering: 0.05, DegreeAssortativity: -0.31, GiniEdgeBetweenness: 0.28, Nodes: 61, Edges: 90},
	}
	w, err := ewm.Compute(rows)
	require.NoError(t, err)

	inputs := make([]trvi.Input, len(units))
	for i, u := range units {
		inputs[i] = trvi.Input{GEOID: u.GEOID, UTRI: w.Scores[i].UTRI, MHI: u.MHI}
	}
	scores, err := trvi.Build(inputs, trvi.RuleProduct)
	require.NoError(t, err)

	return &pipeline.Result{
		Units:      units,
		Indicators: rows,
		EWM:        w,
		Rule:       trvi.RuleProduct,
		TRVI:       scores,
		Moran: []moran.Entry{
			{Variable: "utri", Result: &moran.Result{N: 3, I: 0.21, Expected: -0.5, Z: 1.4, P: 0.16, PSim: 0.12, Class: moran.NotSignificant}},
			{Variable: "trvi", Skipped: "1 unit has a missing value; dropping them leaves 2 unit(s) without neighbors", Dropped: 1},
		},
		GWR: &gwr.Result{
			Names:     []string{"intercept", "utri"},
			Kernel:    gwr.Bisquare,
			Adaptive:  true,
			Bandwidth: 3,
			AICc:      12.5,
			R2:        0.8,
			Local: []gwr.Local{
				{GEOID: "A", Coefficients: []float64{30, 1.5}, LocalR2: 0.7, Fitted: 31.2, Residual: 0.3},
				{GEOID: "B", Failed: true, Reason: "singular local design"},
				{GEOID: "C", Coefficients: []float64{29, 0.5}, LocalR2: 0.9, Fitted: 29.9, Residual: -0.1},
			},
			Global: &gwr.OLS{Coefficients: []float64{30.1, 1.1}, R2: 0.6, AdjR2: 0.2, AICc: 14},
		},
		Exclusions: []model.Exclusion{{GEOID: "B", Stage: model.StageGWR, Kind: failure.NumericDegeneracy, Reason: "singular local design"}},
		Phases:     []model.PhaseResult{{Name: "metrics", Status: model.PhaseStatusComplete, Duration: 12}},
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	fh, err := os.Open(path)
	require.NoError(t, err)
	defer fh.Close() //nolint:errcheck
	records, err := csv.NewReader(fh).ReadAll()
	require.NoError(t, err)
	return records
}

func TestDescribe(t *testing.T) {
	s := Describe("x", []float64{5, 1, math.NaN(), 3, 2, 4})
	assert.Equal(t, 5, s.Count)
	assert.Equal(t, 1, s.Missing)
	assert.InDelta(t, 3.0, s.Mean, 1e-12)
	assert.InDelta(t, math.Sqrt(2.5), s.SD, 1e-12)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 2.0, s.Q1)
	assert.Equal(t, 3.0, s.Median)
	assert.Equal(t, 4.0, s.Q3)
	assert.Equal(t, 5.0, s.Max)
}

func TestDescribe_EmptyAndSingle(t *testing.T) {
	empty := Describe("x", []float64{math.NaN()})
	assert.Zero(t, empty.Count)
	assert.Equal(t, 1, empty.Missing)
	assert.Zero(t, empty.Mean)

	single := Describe("x", []float64{7})
	assert.Equal(t, 7.0, single.Mean)
	assert.Zero(t, single.SD)
	assert.Equal(t, 7.0, single.Median)
}

func TestBuild(t *testing.T) {
	s := Build(fixture(t), 1)

	assert.Equal(t, 3, s.Units)
	assert.Equal(t, "product", s.Rule)
	require.Len(t, s.Weights, 4)
	require.Len(t, s.Descriptive, 8)
	assert.Equal(t, "trvi", s.Descriptive[5].Name)
	assert.Equal(t, 2, s.Descriptive[5].Count)
	assert.Equal(t, 1, s.Descriptive[5].Missing)

	// A has lower income than C at comparable resilience.
	require.Len(t, s.Top, 1)
	require.Len(t, s.Bottom, 1)
	assert.NotEqual(t, s.Top[0].GEOID, s.Bottom[0].GEOID)
	assert.Equal(t, 1, s.Top[0].Rank)
	assert.Equal(t, 2, s.Bottom[0].Rank)

	require.NotNil(t, s.GWR)
	assert.Equal(t, 1, s.GWR.Failed)
	assert.InDelta(t, 1.1, s.GWR.Global.Coefficients["utri"], 1e-12)
	require.Len(t, s.GWR.Coefficients, 2)
	assert.Equal(t, 2, s.GWR.Coefficients[1].Count)
	assert.InDelta(t, 1.0, s.GWR.Coefficients[1].Mean, 1e-12)
	assert.InDelta(t, 0.8, s.GWR.LocalR2.Mean, 1e-12)
}

func TestRank_TopNLargerThanCohort(t *testing.T) {
	scores := []model.UnitScore{
		{GEOID: "A", TRVI: f(0.2)},
		{GEOID: "B"},
		{GEOID: "C", TRVI: f(0.9)},
	}
	top, bottom := rank(scores, 10)
	require.Len(t, top, 2)
	assert.Equal(t, "C", top[0].GEOID)
	assert.Equal(t, "A", bottom[0].GEOID)

	top, bottom = rank(scores, 0)
	assert.Nil(t, top)
	assert.Nil(t, bottom)
}

func TestWriteRun(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	w := Writer{Dir: dir, Format: "both", TopN: 2}

	summary, paths, err := w.WriteRun(fixture(t), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", summary.RunID)
	assert.Len(t, paths, 9)

	trviRows := readCSV(t, filepath.Join(dir, TRVIFile))
	require.Len(t, trviRows, 4)
	assert.Equal(t, []string{"geoid", "utri", "mhi", "utri_norm", "mhi_norm", "trvi"}, trviRows[0])
	assert.Equal(t, "B", trviRows[2][0])
	assert.Empty(t, trviRows[2][2])
	assert.Empty(t, trviRows[2][5])
	assert.NotEmpty(t, trviRows[1][5])

	gwrRows := readCSV(t, filepath.Join(dir, GWRFile))
	assert.Equal(t, []string{"geoid", "lst", "fitted", "residual", "local_r2", "influence", "b_intercept", "b_utri", "failed", "reason"}, gwrRows[0])
	assert.Equal(t, "true", gwrRows[2][8])
	assert.Equal(t, "singular local design", gwrRows[2][9])
	assert.Equal(t, "1.5", gwrRows[1][7])

	moranRows := readCSV(t, filepath.Join(dir, MoranFile))
	require.Len(t, moranRows, 3)
	assert.Equal(t, "not_significant", moranRows[1][8])
	assert.Contains(t, moranRows[2][9], "missing")

	data, err := os.ReadFile(filepath.Join(dir, JSONFile))
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "run-1", decoded["run_id"])
	assert.Len(t, decoded["most_vulnerable"], 2)

	data, err = os.ReadFile(filepath.Join(dir, YAMLFile))
	require.NoError(t, err)
	var fromYAML map[string]any
	require.NoError(t, yaml.Unmarshal(data, &fromYAML))
	assert.Equal(t, "product", fromYAML["trvi_rule"])
}

func TestWriteRun_PartialResult(t *testing.T) {
	res := fixture(t)
	res.EWM, res.TRVI, res.Moran, res.GWR = nil, nil, nil, nil
	res.Errors = []pipeline.StageError{{Stage: model.StageEWM, Kind: failure.DataQuality, Message: "too few units"}}

	dir := t.TempDir()
	_, paths, err := Writer{Dir: dir}.WriteRun(res, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(dir, IndicatorsFile),
		filepath.Join(dir, ExclusionsFile),
		filepath.Join(dir, JSONFile),
	}, paths)
}

func TestWriteSummary_UnknownFormat(t *testing.T) {
	_, err := Writer{Dir: t.TempDir(), Format: "xml"}.WriteSummary(&Summary{})
	require.Error(t, err)
	assert.True(t, failure.IsKind(err, failure.Configuration))
}

func TestReadIndicators(t *testing.T) {
	path := filepath.Join(t.TempDir(), IndicatorsFile)
	res := fixture(t)
	require.NoError(t, WriteIndicators(path, res.Indicators))

	rows, err := ReadIndicators(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "B", rows[1].GEOID)
	assert.InDelta(t, 0.52, rows[1].GiniEdgeBetweenness, 1e-12)
}

func TestReadIndicators_Blank(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ind.csv")
	content := "geoid,global_permeability,avg_clustering,degree_assortativity,gini_edge_betweenness\nA,0.5,,0.1,0.2\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := ReadIndicators(context.Background(), path)
	require.Error(t, err)
	assert.Equal(t, "A", failure.UnitOf(err))
}

func TestReadColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trvi.csv")
	content := "geoid,utri,trvi\nA,0.4,0.3\nB,0.6,\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	geoids, values, err := ReadColumns(context.Background(), path, "geoid", []string{"utri", "trvi"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, geoids)
	assert.Equal(t, []float64{0.4, 0.6}, values[0])
	assert.True(t, math.IsNaN(values[1][1]))

	_, _, err = ReadColumns(context.Background(), path, "geoid", []string{"lst"})
	assert.True(t, failure.IsKind(err, failure.Configuration))
}

func TestReadColumns_Duplicate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dup.csv")
	require.NoError(t, os.WriteFile(path, []byte("geoid,utri\nA,1\nA,2\n"), 0o644))
	_, _, err := ReadColumns(context.Background(), path, "geoid", []string{"utri"})
	assert.True(t, failure.IsKind(err, failure.DataQuality))
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, Build(fixture(t), 2)))

	out := buf.String()
	assert.Contains(t, out, "Units scored:   3")
	assert.Contains(t, out, "Entropy weights")
	assert.Contains(t, out, "skipped:")
	assert.Contains(t, out, "GWR (bisquare")
	assert.Contains(t, out, "$45,000")
}
