// Package trvi combines structural resilience (UTRI) with income into the
// Thermal Risk Vulnerability Index.
package trvi

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/utri-cli/internal/failure"
)

// Rule names a declared combination of UTRI and MHI.
type Rule string

const (
	// RuleProduct is the double-risk form (1 − UTRI′)(1 − MHI′), bounded to
	// [0,1]. It is high only when resilience and income are both low.
	RuleProduct Rule = "product"
	// RuleZSum is −z(MHI) − z(UTRI): an unbounded additive score.
	RuleZSum Rule = "zsum"
)

// ParseRule validates a rule name. Empty means RuleProduct.
func ParseRule(s string) (Rule, error) {
	switch Rule(strings.ToLower(s)) {
	case "", RuleProduct:
		return RuleProduct, nil
	case RuleZSum:
		return RuleZSum, nil
	default:
		return "", eris.Errorf("trvi: unknown combination rule %q", s)
	}
}

// Input is one unit's UTRI and (possibly missing) median household income.
type Input struct {
	GEOID string
	UTRI  float64
	MHI   *float64
}

// Score is the TRVI of one unit. TRVI and MHINorm are nil when the unit's
// income is missing or not finite.
type Score struct {
	GEOID    string   `json:"geoid"`
	TRVI     *float64 `json:"trvi"`
	UTRINorm float64  `json:"utri_norm"`
	MHINorm  *float64 `json:"mhi_norm,omitempty"`
}

// Build scores every input under rule. Scores come back in input order.
//
// MHI is rescaled over the units that report it; missing incomes are left
// out of the range and yield a nil TRVI rather than a zero. UTRI is rescaled
// over every input. It is a DataQuality error when no unit reports an income
// or a UTRI is not finite.
func Build(inputs []Input, rule Rule) ([]Score, error) {
	if rule == "" {
		rule = RuleProduct
	}
	if rule != RuleProduct && rule != RuleZSum {
		return nil, failure.New(failure.Configuration, "unknown trvi rule %q", rule)
	}
	if len(inputs) == 0 {
		return nil, nil
	}

	utri := make([]float64, len(inputs))
	var mhi []float64
	for i, in := range inputs {
		if !finite(in.UTRI) {
			return nil, failure.ForUnit(failure.DataQuality, in.GEOID, "utri is not finite")
		}
		utri[i] = in.UTRI
		if in.MHI != nil && finite(*in.MHI) {
			mhi = append(mhi, *in.MHI)
		}
	}
	if len(mhi) == 0 {
		return nil, failure.New(failure.DataQuality, "median household income is missing for every unit")
	}

	uScale := newMinMax(utri)
	mScale := newMinMax(mhi)
	uMean, uSD := stat.MeanStdDev(utri, nil)
	mMean, mSD := stat.MeanStdDev(mhi, nil)

	out := make([]Score, len(inputs))
	for i, in := range inputs {
		s := Score{GEOID: in.GEOID, UTRINorm: uScale.apply(in.UTRI)}
		if in.MHI != nil && finite(*in.MHI) {
			m := mScale.apply(*in.MHI)
			s.MHINorm = &m

			var v float64
			switch rule {
			case RuleProduct:
				v = (1 - s.UTRINorm) * (1 - m)
			case RuleZSum:
				v = -zscore(*in.MHI, mMean, mSD) - zscore(in.UTRI, uMean, uSD)
			}
			s.TRVI = &v
		}
		out[i] = s
	}
	return out, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

type minMax struct{ lo, span float64 }

func newMinMax(values []float64) minMax {
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return minMax{lo: lo, span: hi - lo}
}

func (m minMax) apply(v float64) float64 {
	if m.span == 0 {
		return 0
	}
	return math.Min(1, math.Max(0, (v-m.lo)/m.span))
}

func zscore(v, mean, sd float64) float64 {
	if sd == 0 || math.IsNaN(sd) {
		return 0
	}
	return (v - mean) / sd
}
