package report

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stats are descriptive statistics of one column. Missing values are left
// out of every figure; Missing counts them.
type Stats struct {
	Name    string  `json:"name" yaml:"name"`
	Count   int     `json:"count" yaml:"count"`
	Missing int     `json:"missing,omitempty" yaml:"missing,omitempty"`
	Mean    float64 `json:"mean" yaml:"mean"`
	SD      float64 `json:"sd" yaml:"sd"`
	Min     float64 `json:"min" yaml:"min"`
	Q1      float64 `json:"q1" yaml:"q1"`
	Median  float64 `json:"median" yaml:"median"`
	Q3      float64 `json:"q3" yaml:"q3"`
	Max     float64 `json:"max" yaml:"max"`
}

// Describe summarizes values, treating NaN as missing. Quartiles use the
// empirical (lower) quantile. A column with fewer than two values reports
// a zero SD.
func Describe(name string, values []float64) Stats {
	s := Stats{Name: name}
	x := make([]float64, 0, len(values))
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			s.Missing++
			continue
		}
		x = append(x, v)
	}
	s.Count = len(x)
	if s.Count == 0 {
		return s
	}
	sort.Float64s(x)

	s.Min, s.Max = floats.Min(x), floats.Max(x)
	if s.Count > 1 {
		s.Mean, s.SD = stat.MeanStdDev(x, nil)
	} else {
		s.Mean = x[0]
	}
	s.Q1 = stat.Quantile(0.25, stat.Empirical, x, nil)
	s.Median = stat.Quantile(0.5, stat.Empirical, x, nil)
	s.Q3 = stat.Quantile(0.75, stat.Empirical, x, nil)
	return s
}
