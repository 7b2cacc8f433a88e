// Package ewm derives the Urban Thermal Resilience Index from the raw network
// indicators with the Entropy Weight Method.
//
// Weights are a property of the whole cohort: they are recomputed from the
// complete indicator table on every call and never updated incrementally.
package ewm

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/sells-group/utri-cli/internal/failure"
	"github.com/sells-group/utri-cli/internal/model"
)

// degenerateTolerance is the summed information utility below which the
// columns carry no usable signal and equal weights are assigned.
const degenerateTolerance = 1e-12

// Score is the UTRI of one unit together with its direction-corrected,
// normalized indicator values.
type Score struct {
	GEOID      string    `json:"geoid"`
	UTRI       float64   `json:"utri"`
	Normalized []float64 `json:"normalized"`
}

// Result is the outcome of one weighting run.
type Result struct {
	Indicators []model.Indicator `json:"indicators"`
	Weights    []float64         `json:"weights"`
	Entropies  []float64         `json:"entropies"`
	// Degenerate lists indicators whose column was constant across the
	// cohort and fell back to uniform probabilities.
	Degenerate []model.Indicator `json:"degenerate,omitempty"`
	// EqualWeights is set when no column carried information and every
	// indicator received the same weight.
	EqualWeights bool    `json:"equal_weights"`
	Scores       []Score `json:"scores"`
}

// Weight returns the weight assigned to an indicator.
func (r *Result) Weight(ind model.Indicator) float64 {
	for k, i := range r.Indicators {
		if i == ind {
			return r.Weights[k]
		}
	}
	return 0
}

// ByGEOID indexes the scores by unit identifier.
func (r *Result) ByGEOID() map[string]Score {
	out := make(map[string]Score, len(r.Scores))
	for _, s := range r.Scores {
		out[s.GEOID] = s
	}
	return out
}

// Compute weights the indicator table and scores every row. At least two
// rows are required; a NaN or infinite indicator is a DataQuality error
// naming the unit. Scores come back in input order.
func Compute(rows []model.IndicatorRow) (*Result, error) {
	n := len(rows)
	if n < 2 {
		return nil, failure.New(failure.DataQuality,
			"entropy weighting needs at least 2 units, got %d", n)
	}
	for _, r := range rows {
		for _, v := range r.Values() {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, failure.ForUnit(failure.DataQuality, r.GEOID, "indicator value is not finite")
			}
		}
	}

	m := len(model.Indicators)
	res := &Result{
		Indicators: append([]model.Indicator(nil), model.Indicators...),
		Weights:    make([]float64, m),
		Entropies:  make([]float64, m),
		Scores:     make([]Score, n),
	}

	norm := make([][]float64, m)
	k := 1 / math.Log(float64(n))
	utility := make([]float64, m)
	for j, ind := range model.Indicators {
		col := make([]float64, n)
		for i, r := range rows {
			col[i] = r.Value(ind)
		}
		norm[j] = Normalize(col, ind.Inverted())

		sum := floats.Sum(norm[j])
		if sum == 0 {
			res.Degenerate = append(res.Degenerate, ind)
		}
		var h float64
		for _, x := range norm[j] {
			p := 1 / float64(n)
			if sum != 0 {
				p = x / sum
			}
			if p > 0 {
				h -= p * math.Log(p)
			}
		}
		res.Entropies[j] = k * h
		utility[j] = math.Max(0, 1-res.Entropies[j])
	}

	total := floats.Sum(utility)
	if total < degenerateTolerance {
		res.EqualWeights = true
		for j := range res.Weights {
			res.Weights[j] = 1 / float64(m)
		}
	} else {
		for j := range res.Weights {
			res.Weights[j] = utility[j] / total
		}
	}

	for i, r := range rows {
		x := make([]float64, m)
		for j := range x {
			x[j] = norm[j][i]
		}
		res.Scores[i] = Score{
			GEOID:      r.GEOID,
			UTRI:       clamp01(floats.Dot(res.Weights, x)),
			Normalized: x,
		}
	}
	return res, nil
}

// Normalize min–max scales values into [0,1]. With invert set the direction
// is flipped so that the smallest raw value maps to 1. A column without
// spread maps to all zeros.
func Normalize(values []float64, invert bool) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	lo, hi := floats.Min(values), floats.Max(values)
	span := hi - lo
	if span == 0 {
		return out
	}
	for i, v := range values {
		if invert {
			out[i] = (hi - v) / span
		} else {
			out[i] = (v - lo) / span
		}
	}
	return out
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
