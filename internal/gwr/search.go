package gwr

import (
	"context"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/utri-cli/internal/failure"
)

// goldenRatio is 2 − φ, the fraction of the interval kept on each side.
const goldenRatio = 0.38197

// bounds returns the bandwidth search interval. Adaptive bandwidths run from
// the smallest neighbor count that can identify the local model to the whole
// cohort; fixed ones from the closest unit pair to twice the widest.
func (pr *problem) bounds() (lo, hi float64) {
	if pr.opts.Adaptive {
		lo = float64(min(pr.p+2, pr.n))
		return lo, float64(pr.n)
	}
	lo, hi = math.Inf(1), 0
	for i := range pr.dist {
		for j := i + 1; j < pr.n; j++ {
			d := pr.dist[i][j]
			if d > 0 && d < lo {
				lo = d
			}
			hi = math.Max(hi, d)
		}
	}
	if math.IsInf(lo, 1) {
		lo = 0
	}
	return lo, 2 * hi
}

// search minimizes AICc over the bandwidth interval by golden-section
// search. A bandwidth at which any local design is singular scores +Inf.
func (pr *problem) search(ctx context.Context) (float64, []Candidate, error) {
	log := zap.L().With(zap.String("component", "gwr"))
	cache := make(map[float64]float64)

	score := func(bw float64) (float64, error) {
		if pr.opts.Adaptive {
			bw = math.Round(bw)
		}
		if v, ok := cache[bw]; ok {
			return v, nil
		}
		_, diag, err := pr.fitAll(ctx, bw, false)
		if err != nil {
			return 0, err
		}
		v := diag.aicc
		if diag.failed > 0 {
			v = math.Inf(1)
		}
		cache[bw] = v
		log.Debug("gwr: bandwidth scored", zap.Float64("bandwidth", bw), zap.Float64("aicc", v), zap.Int("failed", diag.failed))
		return v, nil
	}

	lo, hi := pr.bounds()
	a, c := lo, hi
	if _, err := score(c); err != nil {
		return 0, nil, err
	}
	b := a + goldenRatio*(c-a)
	d := c - goldenRatio*(c-a)
	fb, err := score(b)
	if err != nil {
		return 0, nil, err
	}
	fd, err := score(d)
	if err != nil {
		return 0, nil, err
	}

	for iter := 0; iter < pr.opts.MaxIter; iter++ {
		width := c - a
		if pr.opts.Adaptive && width <= 1 {
			break
		}
		if !pr.opts.Adaptive && width <= pr.opts.Tolerance*math.Max(1, c) {
			break
		}
		// Singular designs live at the narrow end, so two +Inf scores push
		// the interval towards wider bandwidths.
		bothInf := math.IsInf(fb, 1) && math.IsInf(fd, 1)
		if fb <= fd && !bothInf {
			c, d, fd = d, b, fb
			b = a + goldenRatio*(c-a)
			if fb, err = score(b); err != nil {
				return 0, nil, err
			}
		} else {
			a, b, fb = b, d, fd
			d = c - goldenRatio*(c-a)
			if fd, err = score(d); err != nil {
				return 0, nil, err
			}
		}
	}

	candidates := make([]Candidate, 0, len(cache))
	for bw, v := range cache {
		candidates = append(candidates, Candidate{Bandwidth: bw, AICc: v})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Bandwidth < candidates[j].Bandwidth })

	best := -1
	for i, cand := range candidates {
		if math.IsInf(cand.AICc, 1) || math.IsNaN(cand.AICc) {
			continue
		}
		if best < 0 || cand.AICc < candidates[best].AICc {
			best = i
		}
	}
	if best < 0 {
		return 0, candidates, failure.New(failure.NumericDegeneracy,
			"gwr: no bandwidth in [%g, %g] gives solvable local designs", lo, hi)
	}
	return candidates[best].Bandwidth, candidates, nil
}
