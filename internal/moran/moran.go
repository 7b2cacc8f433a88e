// Package moran measures global spatial autocorrelation with Moran's I over
// a row-standardized adjacency, with analytic and permutation inference.
package moran

import (
	"math"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/sells-group/utri-cli/internal/failure"
	"github.com/sells-group/utri-cli/internal/spatial"
)

// permChunk is the number of permutations drawn from one seeded source. The
// chunking is fixed so results do not depend on the worker count.
const permChunk = 128

// Class is the autocorrelation verdict at the configured alpha.
type Class string

const (
	Positive       Class = "positive"
	Negative       Class = "negative"
	NotSignificant Class = "not_significant"
)

// Options controls inference.
type Options struct {
	Permutations int
	Alpha        float64
	Seed         uint64
	Workers      int
}

// DefaultOptions returns 999 permutations at alpha 0.05.
func DefaultOptions() Options {
	return Options{Permutations: 999, Alpha: 0.05, Seed: 20240601, Workers: 4}
}

// Validate reports settings that make inference impossible.
func (o Options) Validate() error {
	if o.Permutations <= 0 {
		return failure.New(failure.Configuration, "moran permutations must be positive, got %d", o.Permutations)
	}
	if o.Alpha <= 0 || o.Alpha >= 1 {
		return failure.New(failure.Configuration, "moran alpha must be in (0,1), got %g", o.Alpha)
	}
	return nil
}

// Result holds Moran's I for one variable.
type Result struct {
	N        int     `json:"n" yaml:"n"`
	I        float64 `json:"i" yaml:"i"`
	Expected float64 `json:"expected" yaml:"expected"`
	// Variance, Z and P are the analytic values under the normality
	// assumption.
	Variance float64 `json:"variance" yaml:"variance"`
	Z        float64 `json:"z" yaml:"z"`
	P        float64 `json:"p" yaml:"p"`
	// PSim and ZSim come from the permutation reference distribution.
	PSim         float64 `json:"p_sim" yaml:"p_sim"`
	ZSim         float64 `json:"z_sim" yaml:"z_sim"`
	MeanSim      float64 `json:"mean_sim" yaml:"mean_sim"`
	SDSim        float64 `json:"sd_sim" yaml:"sd_sim"`
	Permutations int     `json:"permutations" yaml:"permutations"`
	Class        Class   `json:"class" yaml:"class"`
}

// weights is a row-standardized view of an adjacency.
type weights struct {
	nb [][]int
	w  []float64 // per-row weight, 1/len(nb[i])
}

func rowStandardize(adj *spatial.Adjacency) weights {
	n := adj.Len()
	out := weights{nb: make([][]int, n), w: make([]float64, n)}
	for i := 0; i < n; i++ {
		out.nb[i] = adj.Neighbors(i)
		if k := len(out.nb[i]); k > 0 {
			out.w[i] = 1 / float64(k)
		}
	}
	return out
}

// statistic returns Σ_i z_i · lag(z)_i, the numerator of I for S0 = N.
func (w weights) statistic(z []float64) float64 {
	var s float64
	for i, nb := range w.nb {
		var lag float64
		for _, j := range nb {
			lag += z[j]
		}
		s += z[i] * lag * w.w[i]
	}
	return s
}

// moments returns S0, S1 and S2 of the row-standardized matrix.
func (w weights) moments() (s0, s1, s2 float64) {
	n := len(w.nb)
	colSum := make([]float64, n)
	pair := make(map[[2]int]float64)
	for i, nb := range w.nb {
		for _, j := range nb {
			s0 += w.w[i]
			colSum[j] += w.w[i]
			key := [2]int{min(i, j), max(i, j)}
			pair[key] += w.w[i]
		}
	}
	for _, v := range pair {
		// S1 halves a sum over ordered pairs, each unordered pair counted twice.
		s1 += v * v
	}
	for i, nb := range w.nb {
		row := float64(len(nb)) * w.w[i]
		s2 += (row + colSum[i]) * (row + colSum[i])
	}
	return s0, s1, s2
}

// Global computes Moran's I of values over adj. values must be aligned with
// the adjacency's unit indexes.
func Global(values []float64, adj *spatial.Adjacency, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	n := len(values)
	if adj == nil || adj.Len() != n {
		got := 0
		if adj != nil {
			got = adj.Len()
		}
		return nil, failure.New(failure.Configuration,
			"moran: %d values but adjacency covers %d units", n, got)
	}
	if err := adj.Validate(nil); err != nil {
		return nil, err
	}
	if n < 3 {
		return nil, failure.New(failure.DataQuality, "moran: needs at least 3 units, got %d", n)
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, failure.New(failure.DataQuality, "moran: value %d is not finite", i)
		}
	}

	nf := float64(n)
	res := &Result{
		N:            n,
		Expected:     -1 / (nf - 1),
		Permutations: opts.Permutations,
	}

	mean := stat.Mean(values, nil)
	z := make([]float64, n)
	var m2 float64
	for i, v := range values {
		z[i] = v - mean
		m2 += z[i] * z[i]
	}
	w := rowStandardize(adj)
	s0, s1, s2 := w.moments()

	res.Variance = (nf*nf*s1-nf*s2+3*s0*s0)/((nf*nf-1)*s0*s0) - res.Expected*res.Expected

	// A constant variable has no autocorrelation to measure.
	if m2 == 0 || floats.Max(values) == floats.Min(values) {
		res.P, res.PSim = 1, 1
		res.Class = NotSignificant
		return res, nil
	}

	res.I = (nf / s0) * w.statistic(z) / m2
	if res.Variance > 0 {
		res.Z = (res.I - res.Expected) / math.Sqrt(res.Variance)
		res.P = 2 * distuv.UnitNormal.Survival(math.Abs(res.Z))
	} else {
		res.P = 1
	}

	sims, err := permute(z, w, nf/(s0*m2), opts)
	if err != nil {
		return nil, err
	}
	var larger int
	for _, s := range sims {
		if s >= res.I {
			larger++
		}
	}
	if opts.Permutations-larger < larger {
		larger = opts.Permutations - larger
	}
	res.PSim = float64(larger+1) / float64(opts.Permutations+1)
	res.MeanSim, res.SDSim = stat.MeanStdDev(sims, nil)
	if res.SDSim > 0 {
		res.ZSim = (res.I - res.MeanSim) / res.SDSim
	}

	switch {
	case res.PSim >= opts.Alpha:
		res.Class = NotSignificant
	case res.I > res.Expected:
		res.Class = Positive
	default:
		res.Class = Negative
	}
	return res, nil
}

// permute draws the reference distribution of I under random relabelling.
// Each chunk owns its seeded source and a disjoint slice of the output.
func permute(z []float64, w weights, scale float64, opts Options) ([]float64, error) {
	sims := make([]float64, opts.Permutations)
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for start := 0; start < len(sims); start += permChunk {
		end := min(start+permChunk, len(sims))
		chunk := uint64(start / permChunk)
		g.Go(func() error {
			r := rand.New(rand.NewPCG(opts.Seed, chunk))
			perm := make([]float64, len(z))
			copy(perm, z)
			for k := start; k < end; k++ {
				r.Shuffle(len(perm), func(a, b int) { perm[a], perm[b] = perm[b], perm[a] })
				sims[k] = scale * w.statistic(perm)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sims, nil
}
