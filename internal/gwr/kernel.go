package gwr

import (
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// Kernel names the distance-decay function.
type Kernel string

const (
	// Bisquare decays smoothly to zero at the bandwidth.
	Bisquare Kernel = "bisquare"
	// Gaussian never reaches zero; every unit keeps some weight.
	Gaussian Kernel = "gaussian"
)

// adaptiveEps widens an adaptive bandwidth a hair past the k-th neighbor so
// that neighbor keeps a non-zero bisquare weight.
const adaptiveEps = 1.0000001

// ParseKernel validates a kernel name. Empty means Bisquare.
func ParseKernel(s string) (Kernel, error) {
	switch Kernel(strings.ToLower(s)) {
	case "", Bisquare:
		return Bisquare, nil
	case Gaussian:
		return Gaussian, nil
	default:
		return "", eris.Errorf("gwr: unknown kernel %q", s)
	}
}

// weight returns the kernel weight at distance d for bandwidth b.
func (k Kernel) weight(d, b float64) float64 {
	if b <= 0 {
		if d == 0 {
			return 1
		}
		return 0
	}
	u := d / b
	if k == Gaussian {
		return math.Exp(-0.5 * u * u)
	}
	if u >= 1 {
		return 0
	}
	v := 1 - u*u
	return v * v
}

// bandwidths resolves the per-target bandwidth distances. A fixed bandwidth
// is shared by every target; an adaptive one is the distance to the k-th
// nearest unit, counting the target itself.
func bandwidths(dist [][]float64, bw float64, adaptive bool) []float64 {
	n := len(dist)
	out := make([]float64, n)
	if !adaptive {
		for i := range out {
			out[i] = bw
		}
		return out
	}
	k := int(math.Round(bw))
	k = max(1, min(k, n))
	row := make([]float64, n)
	for i := range dist {
		copy(row, dist[i])
		sort.Float64s(row)
		out[i] = row[k-1] * adaptiveEps
	}
	return out
}
