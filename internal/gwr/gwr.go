// Package gwr fits Geographically Weighted Regression: one weighted
// least-squares model per spatial unit, with observation weights decaying
// with distance from the unit's centroid.
//
// The design matrix and distance table are built once and shared read-only
// by every local fit. Local fits run concurrently and write disjoint slots of
// a preallocated result slice.
package gwr

import (
	"context"
	"math"
	"time"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/utri-cli/internal/failure"
	"github.com/sells-group/utri-cli/internal/spatial"
)

// Options controls the regression.
type Options struct {
	Kernel Kernel
	// Adaptive bandwidths count neighbors; fixed ones are distances.
	Adaptive bool
	// Bandwidth, when positive, skips the search and fits at this value.
	Bandwidth float64
	// Standardize z-scores y and every explanatory column before fitting.
	Standardize bool
	Coordinates spatial.Coordinates
	// MaxCondition rejects local designs whose condition number exceeds it.
	MaxCondition float64
	Workers      int
	// Tolerance and MaxIter bound the golden-section search.
	Tolerance float64
	MaxIter   int
}

// DefaultOptions returns an adaptive bisquare search on standardized data.
func DefaultOptions() Options {
	return Options{
		Kernel:       Bisquare,
		Adaptive:     true,
		Standardize:  true,
		Coordinates:  spatial.Geographic,
		MaxCondition: 1e10,
		Workers:      4,
		Tolerance:    1e-5,
		MaxIter:      200,
	}
}

// Data is the regression input. Rows of X, Y, GEOIDs and Points are aligned.
type Data struct {
	GEOIDs []string
	Names  []string // explanatory variable names, one per column of X
	Y      []float64
	X      [][]float64
	Points []orb.Point
}

// Local is the fit at one unit. Coefficients start with the intercept. A
// failed unit carries only its GEOID and Reason.
type Local struct {
	GEOID        string    `json:"geoid"`
	Coefficients []float64 `json:"coefficients,omitempty"`
	LocalR2      float64   `json:"local_r2"`
	Fitted       float64   `json:"fitted"`
	Residual     float64   `json:"residual"`
	Influence    float64   `json:"influence"`
	Failed       bool      `json:"failed,omitempty"`
	Reason       string    `json:"reason,omitempty"`
}

// Result is a fitted GWR surface with its global diagnostics.
type Result struct {
	// Names labels Coefficients: "intercept" then the explanatory names.
	Names        []string `json:"names"`
	Kernel       Kernel   `json:"kernel"`
	Adaptive     bool     `json:"adaptive"`
	Standardized bool     `json:"standardized"`
	Bandwidth    float64  `json:"bandwidth"`
	AICc         float64  `json:"aicc"`
	TraceS       float64  `json:"trace_s"`
	RSS          float64  `json:"rss"`
	R2           float64  `json:"r2"`
	// Searched records every bandwidth scored during selection.
	Searched []Candidate `json:"searched,omitempty"`
	Local    []Local     `json:"local"`
	Global   *OLS        `json:"global"`
}

// Candidate is one scored bandwidth.
type Candidate struct {
	Bandwidth float64 `json:"bandwidth"`
	AICc      float64 `json:"aicc"`
}

// Failed returns the units whose local design could not be solved.
func (r *Result) Failed() []Local {
	var out []Local
	for _, l := range r.Local {
		if l.Failed {
			out = append(out, l)
		}
	}
	return out
}

// problem is the prepared, immutable regression shared by every local fit.
type problem struct {
	n, p   int
	x      [][]float64 // n × p, leading column of ones
	y      []float64
	dist   [][]float64
	kernel Kernel
	opts   Options
}

// Fit selects a bandwidth (unless one is given) and fits the local models.
// Input problems are DataQuality or Configuration errors; when no candidate
// bandwidth yields solvable local designs the error is NumericDegeneracy.
// A unit whose local design is singular at the final bandwidth is flagged in
// its Local entry and left out of the diagnostics.
func Fit(ctx context.Context, data Data, opts Options) (*Result, error) {
	pr, err := prepare(data, opts)
	if err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("component", "gwr"), zap.Int("units", pr.n), zap.Int("params", pr.p))
	start := time.Now()

	res := &Result{
		Names:        append([]string{"intercept"}, data.Names...),
		Kernel:       pr.kernel,
		Adaptive:     opts.Adaptive,
		Standardized: opts.Standardize,
	}
	res.Global, err = fitOLS(pr.x, pr.y)
	if err != nil {
		return nil, err
	}

	bw := opts.Bandwidth
	if bw <= 0 {
		bw, res.Searched, err = pr.search(ctx)
		if err != nil {
			return nil, err
		}
	}
	res.Bandwidth = bw

	locals, diag, err := pr.fitAll(ctx, bw, true)
	if err != nil {
		return nil, err
	}
	for i := range locals {
		locals[i].GEOID = data.GEOIDs[i]
	}
	res.Local = locals
	res.AICc, res.TraceS, res.RSS, res.R2 = diag.aicc, diag.traceS, diag.rss, diag.r2

	if failed := len(res.Failed()); failed > 0 {
		log.Warn("gwr: local fits failed", zap.Int("failed", failed))
	}
	log.Info("gwr: fit complete",
		zap.Float64("bandwidth", bw),
		zap.Float64("aicc", res.AICc),
		zap.Float64("r2", res.R2),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

func prepare(data Data, opts Options) (*problem, error) {
	n := len(data.Y)
	if len(data.X) != n || len(data.Points) != n || len(data.GEOIDs) != n {
		return nil, failure.New(failure.Configuration,
			"gwr: misaligned input (y=%d x=%d points=%d ids=%d)", n, len(data.X), len(data.Points), len(data.GEOIDs))
	}
	k := len(data.Names)
	if k == 0 {
		return nil, failure.New(failure.Configuration, "gwr: no explanatory variables")
	}
	p := k + 1
	if n < p+2 {
		return nil, failure.New(failure.DataQuality, "gwr: %d units cannot support %d parameters", n, p)
	}
	if opts.Kernel == "" {
		opts.Kernel = Bisquare
	}
	if opts.Kernel != Bisquare && opts.Kernel != Gaussian {
		return nil, failure.New(failure.Configuration, "gwr: unknown kernel %q", opts.Kernel)
	}
	if opts.MaxCondition <= 0 {
		opts.MaxCondition = 1e10
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = 1e-5
	}
	if opts.MaxIter <= 0 {
		opts.MaxIter = 200
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Adaptive && opts.Bandwidth > 0 && int(math.Round(opts.Bandwidth)) < p {
		return nil, failure.New(failure.Configuration,
			"gwr: adaptive bandwidth %g is below the %d parameters", opts.Bandwidth, p)
	}

	y := make([]float64, n)
	copy(y, data.Y)
	cols := make([][]float64, k)
	for j := range cols {
		cols[j] = make([]float64, n)
		for i, row := range data.X {
			if len(row) != k {
				return nil, failure.New(failure.Configuration, "gwr: row %d has %d columns, want %d", i, len(row), k)
			}
			cols[j][i] = row[j]
		}
	}
	for i := 0; i < n; i++ {
		if !finite(y[i]) {
			return nil, failure.ForUnit(failure.DataQuality, data.GEOIDs[i], "gwr: dependent value is not finite")
		}
		for j := range cols {
			if !finite(cols[j][i]) {
				return nil, failure.ForUnit(failure.DataQuality, data.GEOIDs[i], "gwr: %s is not finite", data.Names[j])
			}
		}
	}
	for j, c := range cols {
		if _, sd := stat.MeanStdDev(c, nil); sd == 0 {
			return nil, failure.New(failure.DataQuality, "gwr: %s does not vary across units", data.Names[j])
		}
	}
	if opts.Standardize {
		standardize(y)
		for _, c := range cols {
			standardize(c)
		}
	}

	x := make([][]float64, n)
	for i := range x {
		x[i] = make([]float64, p)
		x[i][0] = 1
		for j := range cols {
			x[i][j+1] = cols[j][i]
		}
	}

	return &problem{
		n:      n,
		p:      p,
		x:      x,
		y:      y,
		dist:   spatial.DistanceMatrix(data.Points, opts.Coordinates),
		kernel: opts.Kernel,
		opts:   opts,
	}, nil
}

// diagnostics summarizes a full set of local fits.
type diagnostics struct {
	aicc, traceS, rss, r2 float64
	failed                int
}

// fitAll fits every unit at bandwidth bw. With detail unset only the values
// needed to score the bandwidth are computed.
func (pr *problem) fitAll(ctx context.Context, bw float64, detail bool) ([]Local, diagnostics, error) {
	bands := bandwidths(pr.dist, bw, pr.opts.Adaptive)
	locals := make([]Local, pr.n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pr.opts.Workers)
	for i := 0; i < pr.n; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			locals[i] = pr.fitLocal(i, bands[i], detail)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, diagnostics{}, eris.Wrap(err, "gwr: local fits")
	}

	var d diagnostics
	var ok []float64
	for _, l := range locals {
		if l.Failed {
			d.failed++
			continue
		}
		d.rss += l.Residual * l.Residual
		d.traceS += l.Influence
		ok = append(ok, l.Fitted+l.Residual)
	}
	m := float64(pr.n - d.failed)
	if m > 0 {
		ybar := stat.Mean(ok, nil)
		var tss float64
		for _, v := range ok {
			tss += (v - ybar) * (v - ybar)
		}
		if tss > 0 {
			d.r2 = 1 - d.rss/tss
		}
	}
	d.aicc = aicc(m, d.rss, d.traceS)
	return locals, d, nil
}

// fitLocal solves the weighted least-squares problem centered on unit i.
func (pr *problem) fitLocal(i int, band float64, detail bool) Local {
	p := pr.p
	w := make([]float64, pr.n)
	xtwx := mat.NewSymDense(p, nil)
	xtwy := mat.NewVecDense(p, nil)
	for j := 0; j < pr.n; j++ {
		wj := pr.kernel.weight(pr.dist[i][j], band)
		if wj == 0 {
			continue
		}
		w[j] = wj
		xj := pr.x[j]
		for a := 0; a < p; a++ {
			xtwy.SetVec(a, xtwy.AtVec(a)+wj*xj[a]*pr.y[j])
			for b := a; b < p; b++ {
				xtwx.SetSym(a, b, xtwx.At(a, b)+wj*xj[a]*xj[b])
			}
		}
	}

	var chol mat.Cholesky
	if !chol.Factorize(xtwx) {
		return Local{Failed: true, Reason: "local design is singular"}
	}
	if c := chol.Cond(); math.IsInf(c, 0) || c > pr.opts.MaxCondition {
		return Local{Failed: true, Reason: "local design is ill-conditioned"}
	}

	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, xtwy); err != nil {
		return Local{Failed: true, Reason: "local design is ill-conditioned"}
	}
	xi := mat.NewVecDense(p, pr.x[i])
	var h mat.VecDense
	if err := chol.SolveVecTo(&h, xi); err != nil {
		return Local{Failed: true, Reason: "local design is ill-conditioned"}
	}

	fitted := mat.Dot(xi, &beta)
	l := Local{
		Fitted:    fitted,
		Residual:  pr.y[i] - fitted,
		Influence: mat.Dot(xi, &h) * w[i],
	}
	if !detail {
		return l
	}

	l.Coefficients = make([]float64, p)
	for a := range l.Coefficients {
		l.Coefficients[a] = beta.AtVec(a)
	}
	l.LocalR2 = pr.localR2(w, &beta)
	return l
}

// localR2 is the weighted coefficient of determination of the local model.
func (pr *problem) localR2(w []float64, beta *mat.VecDense) float64 {
	ybar := stat.Mean(pr.y, w)
	var tss, rss float64
	for j := 0; j < pr.n; j++ {
		if w[j] == 0 {
			continue
		}
		var yhat float64
		for a, v := range pr.x[j] {
			yhat += v * beta.AtVec(a)
		}
		tss += w[j] * (pr.y[j] - ybar) * (pr.y[j] - ybar)
		rss += w[j] * (pr.y[j] - yhat) * (pr.y[j] - yhat)
	}
	if tss == 0 {
		return 0
	}
	return 1 - rss/tss
}

// aicc is the corrected Akaike criterion of a fit with n observations,
// residual sum of squares rss and effective parameter count traceS. It is
// +Inf when the correction term is undefined.
func aicc(n, rss, traceS float64) float64 {
	if n <= 0 || rss <= 0 || n-2-traceS <= 0 {
		return math.Inf(1)
	}
	sigma := math.Sqrt(rss / n)
	return 2*n*math.Log(sigma) + n*math.Log(2*math.Pi) + n*(n+traceS)/(n-2-traceS)
}

func standardize(v []float64) {
	mean, sd := stat.MeanStdDev(v, nil)
	for i := range v {
		if sd == 0 {
			v[i] = 0
			continue
		}
		v[i] = (v[i] - mean) / sd
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
