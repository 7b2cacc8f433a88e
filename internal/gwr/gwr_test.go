package gwr

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/utri-cli/internal/failure"
	"github.com/sells-group/utri-cli/internal/spatial"
)

// lattice builds side×side units on a unit grid with y = f(x, row, col) + noise.
func lattice(side int, seed uint64, f func(x []float64, col, row int) float64) Data {
	r := rand.New(rand.NewPCG(seed, 1))
	var d Data
	d.Names = []string{"x1", "x2"}
	for row := 0; row < side; row++ {
		for col := 0; col < side; col++ {
			x := []float64{r.Float64()*2 - 1, r.Float64()*2 - 1}
			d.GEOIDs = append(d.GEOIDs, fmt.Sprintf("u%02d%02d", row, col))
			d.Points = append(d.Points, orb.Point{float64(col), float64(row)})
			d.X = append(d.X, x)
			d.Y = append(d.Y, f(x, col, row)+0.05*r.NormFloat64())
		}
	}
	return d
}

func planarOptions() Options {
	opts := DefaultOptions()
	opts.Coordinates = spatial.Projected
	return opts
}

func TestFit_HugeBandwidthReproducesOLS(t *testing.T) {
	data := lattice(6, 3, func(x []float64, _, _ int) float64 { return 1 + 2*x[0] - 3*x[1] })

	for _, kernel := range []Kernel{Bisquare, Gaussian} {
		opts := planarOptions()
		opts.Kernel = kernel
		opts.Adaptive = false
		opts.Standardize = false
		opts.Bandwidth = 1e9

		res, err := Fit(context.Background(), data, opts)
		require.NoError(t, err)
		require.Len(t, res.Global.Coefficients, 3)
		assert.InDelta(t, 1.0, res.Global.Coefficients[0], 0.1)
		assert.InDelta(t, 2.0, res.Global.Coefficients[1], 0.1)
		assert.InDelta(t, -3.0, res.Global.Coefficients[2], 0.1)

		for _, l := range res.Local {
			require.False(t, l.Failed, l.GEOID)
			for k, b := range l.Coefficients {
				assert.InDelta(t, res.Global.Coefficients[k], b, 1e-6, "%s %s coef %d", kernel, l.GEOID, k)
			}
		}
		assert.InDelta(t, 3.0, res.TraceS, 1e-6)
	}
}

func TestFit_SearchFindsLocalVariation(t *testing.T) {
	// The effect of x1 grows from west to east.
	data := lattice(7, 11, func(x []float64, col, _ int) float64 {
		return float64(col)*x[0] + 0.5*x[1]
	})

	res, err := Fit(context.Background(), data, planarOptions())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, res.Bandwidth, 5.0)
	assert.LessOrEqual(t, res.Bandwidth, 49.0)
	assert.NotEmpty(t, res.Searched)
	assert.False(t, math.IsInf(res.AICc, 0))
	assert.Less(t, res.AICc, res.Global.AICc)
	assert.Equal(t, []string{"intercept", "x1", "x2"}, res.Names)

	west, east := res.Local[0], res.Local[6]
	require.False(t, west.Failed)
	require.False(t, east.Failed)
	assert.Greater(t, east.Coefficients[1], west.Coefficients[1])
	for _, l := range res.Local {
		assert.LessOrEqual(t, l.LocalR2, 1.0)
	}
}

func TestFit_SingularUnitIsFlagged(t *testing.T) {
	data := lattice(5, 5, func(x []float64, _, _ int) float64 { return 2 + x[0] })
	data.Names = data.Names[:1]
	for i := range data.X {
		data.X[i] = data.X[i][:1]
	}
	data.GEOIDs = append(data.GEOIDs, "far")
	data.Points = append(data.Points, orb.Point{100, 100})
	data.X = append(data.X, []float64{0.3})
	data.Y = append(data.Y, 2.3)

	opts := planarOptions()
	opts.Adaptive = false
	opts.Bandwidth = 2.5

	res, err := Fit(context.Background(), data, opts)
	require.NoError(t, err)

	failed := res.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "far", failed[0].GEOID)
	assert.NotEmpty(t, failed[0].Reason)
	assert.Nil(t, failed[0].Coefficients)

	for _, l := range res.Local[:25] {
		assert.False(t, l.Failed, l.GEOID)
		assert.Len(t, l.Coefficients, 2)
	}
}

func TestFit_DeterministicAcrossWorkers(t *testing.T) {
	data := lattice(5, 9, func(x []float64, col, row int) float64 {
		return float64(row)*x[0] - x[1]
	})
	one := planarOptions()
	one.Workers = 1
	many := planarOptions()
	many.Workers = 8

	a, err := Fit(context.Background(), data, one)
	require.NoError(t, err)
	b, err := Fit(context.Background(), data, many)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestFit_InputErrors(t *testing.T) {
	good := lattice(4, 1, func(x []float64, _, _ int) float64 { return x[0] })

	misaligned := good
	misaligned.Y = good.Y[:3]
	_, err := Fit(context.Background(), misaligned, planarOptions())
	assert.True(t, failure.IsKind(err, failure.Configuration))

	constant := lattice(4, 1, func(x []float64, _, _ int) float64 { return x[0] })
	for i := range constant.X {
		constant.X[i][1] = 7
	}
	_, err = Fit(context.Background(), constant, planarOptions())
	assert.True(t, failure.IsKind(err, failure.DataQuality))

	nan := lattice(4, 1, func(x []float64, _, _ int) float64 { return x[0] })
	nan.Y[5] = math.NaN()
	_, err = Fit(context.Background(), nan, planarOptions())
	assert.True(t, failure.IsKind(err, failure.DataQuality))
	assert.Equal(t, nan.GEOIDs[5], failure.UnitOf(err))

	tiny := lattice(2, 1, func(x []float64, _, _ int) float64 { return x[0] })
	_, err = Fit(context.Background(), tiny, planarOptions())
	assert.True(t, failure.IsKind(err, failure.DataQuality))

	opts := planarOptions()
	opts.Kernel = "triangle"
	_, err = Fit(context.Background(), good, opts)
	assert.True(t, failure.IsKind(err, failure.Configuration))
}

func TestFit_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	data := lattice(4, 1, func(x []float64, _, _ int) float64 { return x[0] + x[1] })
	_, err := Fit(ctx, data, planarOptions())
	assert.Error(t, err)
}

func TestKernelWeight(t *testing.T) {
	assert.Equal(t, 1.0, Bisquare.weight(0, 2))
	assert.InDelta(t, 0.5625, Bisquare.weight(1, 2), 1e-12)
	assert.Zero(t, Bisquare.weight(2, 2))
	assert.Zero(t, Bisquare.weight(3, 2))
	assert.InDelta(t, math.Exp(-0.125), Gaussian.weight(1, 2), 1e-12)
	assert.GreaterOrEqual(t, Gaussian.weight(100, 2), 0.0)
}

func TestBandwidths_Adaptive(t *testing.T) {
	dist := spatial.DistanceMatrix([]orb.Point{{0, 0}, {1, 0}, {3, 0}, {6, 0}}, spatial.Projected)
	b := bandwidths(dist, 2, true)
	// The second nearest unit, counting the target itself.
	assert.InDelta(t, 1*adaptiveEps, b[0], 1e-12)
	assert.InDelta(t, 1*adaptiveEps, b[1], 1e-12)
	assert.InDelta(t, 2*adaptiveEps, b[2], 1e-12)
	assert.InDelta(t, 3*adaptiveEps, b[3], 1e-12)

	fixed := bandwidths(dist, 2.5, false)
	assert.Equal(t, []float64{2.5, 2.5, 2.5, 2.5}, fixed)
}

func TestAICc_Invalid(t *testing.T) {
	assert.True(t, math.IsInf(aicc(10, 1, 8), 1))
	assert.True(t, math.IsInf(aicc(10, 0, 2), 1))
	assert.False(t, math.IsInf(aicc(10, 1, 3), 0))
}

func TestParseKernel(t *testing.T) {
	k, err := ParseKernel("")
	require.NoError(t, err)
	assert.Equal(t, Bisquare, k)

	k, err = ParseKernel("Gaussian")
	require.NoError(t, err)
	assert.Equal(t, Gaussian, k)

	_, err = ParseKernel("epanechnikov")
	assert.Error(t, err)
}
