package gwr

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/utri-cli/internal/failure"
)

// OLS is the global ordinary least-squares model on the same design.
type OLS struct {
	Coefficients []float64 `json:"coefficients"`
	R2           float64   `json:"r2"`
	AdjR2        float64   `json:"adj_r2"`
	RSS          float64   `json:"rss"`
	AICc         float64   `json:"aicc"`
}

func fitOLS(x [][]float64, y []float64) (*OLS, error) {
	n, p := len(x), len(x[0])
	design := mat.NewDense(n, p, nil)
	for i, row := range x {
		design.SetRow(i, row)
	}

	var beta mat.VecDense
	if err := beta.SolveVec(design, mat.NewVecDense(n, y)); err != nil {
		return nil, failure.Wrap(failure.NumericDegeneracy, err)
	}

	out := &OLS{Coefficients: make([]float64, p)}
	for j := range out.Coefficients {
		out.Coefficients[j] = beta.AtVec(j)
	}

	ybar := stat.Mean(y, nil)
	var tss float64
	for i, row := range x {
		var yhat float64
		for j, v := range row {
			yhat += v * out.Coefficients[j]
		}
		r := y[i] - yhat
		out.RSS += r * r
		tss += (y[i] - ybar) * (y[i] - ybar)
	}
	if tss > 0 {
		out.R2 = 1 - out.RSS/tss
		out.AdjR2 = 1 - (1-out.R2)*float64(n-1)/float64(n-p)
	}
	out.AICc = aicc(float64(n), out.RSS, float64(p))
	if math.IsNaN(out.R2) {
		out.R2 = 0
	}
	return out, nil
}
