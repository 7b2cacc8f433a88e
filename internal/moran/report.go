package moran

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/sells-group/utri-cli/internal/spatial"
)

// Variable is a named column aligned with the adjacency's unit indexes.
// Missing entries are NaN.
type Variable struct {
	Name   string
	Values []float64
}

// Entry is the outcome for one variable: either a result or the reason it
// was skipped.
type Entry struct {
	Variable string  `json:"variable" yaml:"variable"`
	Result   *Result `json:"result,omitempty" yaml:"result,omitempty"`
	Skipped  string  `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	// Dropped counts units left out because their value was missing.
	Dropped int `json:"dropped,omitempty" yaml:"dropped,omitempty"`
}

// Report runs Global for every variable. Configuration problems (bad
// options, island units) fail the whole report before anything is computed;
// units with a missing value are dropped from that variable's test, and a
// variable whose remaining units leave islands, or that hits a data error,
// is skipped with a reason.
func Report(vars []Variable, adj *spatial.Adjacency, opts Options) ([]Entry, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := adj.Validate(nil); err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("component", "moran"))
	out := make([]Entry, 0, len(vars))
	for _, v := range vars {
		e := Entry{Variable: v.Name}
		values, w := v.Values, adj
		if missing := countMissing(v.Values); missing > 0 {
			keep := present(v.Values)
			w = adj.Subset(keep)
			e.Dropped = missing
			if islands := w.Islands(); len(islands) > 0 {
				e.Skipped = fmt.Sprintf("%s; dropping them leaves %d unit(s) without neighbors", pluralMissing(missing), len(islands))
				log.Warn("moran: variable skipped", zap.String("variable", v.Name), zap.Int("missing", missing))
				out = append(out, e)
				continue
			}
			values = make([]float64, len(keep))
			for k, i := range keep {
				values[k] = v.Values[i]
			}
		}
		res, err := Global(values, w, opts)
		if err != nil {
			e.Skipped = err.Error()
			log.Warn("moran: variable skipped", zap.String("variable", v.Name), zap.Error(err))
			out = append(out, e)
			continue
		}
		e.Result = res
		log.Info("moran: computed",
			zap.String("variable", v.Name),
			zap.Float64("i", res.I),
			zap.Float64("p_sim", res.PSim),
			zap.String("class", string(res.Class)),
		)
		out = append(out, e)
	}
	return out, nil
}

func countMissing(values []float64) int {
	var n int
	for _, v := range values {
		if math.IsNaN(v) {
			n++
		}
	}
	return n
}

func present(values []float64) []int {
	out := make([]int, 0, len(values))
	for i, v := range values {
		if !math.IsNaN(v) {
			out = append(out, i)
		}
	}
	return out
}

func pluralMissing(n int) string {
	if n == 1 {
		return "1 unit has a missing value"
	}
	return fmt.Sprintf("%d units have missing values", n)
}
