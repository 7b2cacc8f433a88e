package report

import (
	"encoding/csv"
	"os"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/utri-cli/internal/ewm"
	"github.com/sells-group/utri-cli/internal/gwr"
	"github.com/sells-group/utri-cli/internal/model"
	"github.com/sells-group/utri-cli/internal/trvi"
)

// writeCSV creates path and writes the header followed by rows.
func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "report: create %s", path)
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return eris.Wrapf(err, "report: write %s header", path)
	}
	if err := w.WriteAll(rows); err != nil {
		return eris.Wrapf(err, "report: write %s", path)
	}
	return nil
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func opt(v *float64) string {
	if v == nil {
		return ""
	}
	return num(*v)
}

// IndicatorHeader is the column order of indicators.csv.
var IndicatorHeader = []string{"geoid", "global_permeability", "avg_clustering", "degree_assortativity", "gini_edge_betweenness", "nodes", "edges"}

// WriteIndicators writes the raw indicator table.
func WriteIndicators(path string, rows []model.IndicatorRow) error {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = []string{
			r.GEOID,
			num(r.GlobalPermeability),
			num(r.AvgClustering),
			num(r.DegreeAssortativity),
			num(r.GiniEdgeBetweenness),
			strconv.Itoa(r.Nodes),
			strconv.Itoa(r.Edges),
		}
	}
	return writeCSV(path, IndicatorHeader, out)
}

// WriteUTRI writes each unit's composite score and normalized indicators.
func WriteUTRI(path string, r *ewm.Result, names map[string]string) error {
	header := []string{"geoid", "name", "utri"}
	for _, ind := range r.Indicators {
		header = append(header, string(ind)+"_norm")
	}
	out := make([][]string, len(r.Scores))
	for i, s := range r.Scores {
		row := []string{s.GEOID, names[s.GEOID], num(s.UTRI)}
		for _, v := range s.Normalized {
			row = append(row, num(v))
		}
		out[i] = row
	}
	return writeCSV(path, header, out)
}

// WriteWeights writes the entropy weight vector.
func WriteWeights(path string, rows []model.WeightRow) error {
	out := make([][]string, len(rows))
	for i, w := range rows {
		out[i] = []string{string(w.Indicator), num(w.Weight), num(w.Entropy), strconv.FormatBool(w.Degenerate)}
	}
	return writeCSV(path, []string{"indicator", "weight", "entropy", "degenerate"}, out)
}

// WriteTRVI writes the vulnerability scores with their normalized inputs.
// Units without income have blank mhi, mhi_norm and trvi cells.
func WriteTRVI(path string, scores []trvi.Score, mhi map[string]*float64, utri map[string]float64) error {
	out := make([][]string, len(scores))
	for i, s := range scores {
		out[i] = []string{s.GEOID, num(utri[s.GEOID]), opt(mhi[s.GEOID]), num(s.UTRINorm), opt(s.MHINorm), opt(s.TRVI)}
	}
	return writeCSV(path, []string{"geoid", "utri", "mhi", "utri_norm", "mhi_norm", "trvi"}, out)
}

// WriteMoran writes one row per tested variable.
func WriteMoran(path string, rows []model.MoranRow) error {
	out := make([][]string, len(rows))
	for i, m := range rows {
		if m.Skipped != "" {
			out[i] = []string{m.Variable, "", strconv.Itoa(m.Dropped), "", "", "", "", "", "", m.Skipped}
			continue
		}
		out[i] = []string{
			m.Variable, strconv.Itoa(m.N), strconv.Itoa(m.Dropped),
			num(m.I), num(m.Expected), num(m.Z), num(m.P), num(m.PSim), m.Class, "",
		}
	}
	return writeCSV(path, []string{"variable", "n", "dropped", "i", "expected", "z", "p", "p_sim", "class", "skipped"}, out)
}

// WriteGWR writes the local fits. Coefficient columns are prefixed "b_".
func WriteGWR(path string, r *gwr.Result, lst map[string]*float64) error {
	header := []string{"geoid", "lst", "fitted", "residual", "local_r2", "influence"}
	for _, name := range r.Names {
		header = append(header, "b_"+name)
	}
	header = append(header, "failed", "reason")

	out := make([][]string, len(r.Local))
	for i, l := range r.Local {
		row := []string{l.GEOID, opt(lst[l.GEOID])}
		if l.Failed {
			row = append(row, "", "", "", "")
			for range r.Names {
				row = append(row, "")
			}
		} else {
			row = append(row, num(l.Fitted), num(l.Residual), num(l.LocalR2), num(l.Influence))
			for _, c := range l.Coefficients {
				row = append(row, num(c))
			}
		}
		out[i] = append(row, strconv.FormatBool(l.Failed), l.Reason)
	}
	return writeCSV(path, header, out)
}

// WriteExclusions writes every unit left out of a stage.
func WriteExclusions(path string, rows []model.Exclusion) error {
	out := make([][]string, len(rows))
	for i, e := range rows {
		out[i] = []string{e.GEOID, string(e.Stage), string(e.Kind), e.Reason}
	}
	return writeCSV(path, []string{"geoid", "stage", "kind", "reason"}, out)
}
