package metrics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/utri-cli/internal/streetgraph"
)

// AverageClustering returns the mean local clustering coefficient over nodes
// of degree two or more. Nodes of degree zero or one are left out of the
// average rather than counted as zero. A graph with no such node scores 0.
func AverageClustering(g *streetgraph.Graph) float64 {
	var sum float64
	var count int
	for i := 0; i < g.NumNodes(); i++ {
		nb := g.Neighbors(i)
		k := len(nb)
		if k < 2 {
			continue
		}
		var links int
		for a := 0; a < k; a++ {
			for b := a + 1; b < k; b++ {
				if connected(g, nb[a], nb[b]) {
					links++
				}
			}
		}
		sum += 2 * float64(links) / float64(k*(k-1))
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func connected(g *streetgraph.Graph, u, v int) bool {
	nb := g.Neighbors(u)
	i := sort.SearchInts(nb, v)
	return i < len(nb) && nb[i] == v
}

// DegreeAssortativity returns the Pearson correlation between the degrees at
// either end of every edge, counting each edge in both orientations. It is 0
// when the endpoint degrees do not vary.
func DegreeAssortativity(g *streetgraph.Graph) float64 {
	m := g.NumEdges()
	if m == 0 {
		return 0
	}
	x := make([]float64, 0, 2*m)
	y := make([]float64, 0, 2*m)
	for i := 0; i < m; i++ {
		e := g.Edge(i)
		du, dv := float64(g.Degree(e.U)), float64(g.Degree(e.V))
		x = append(x, du, dv)
		y = append(y, dv, du)
	}
	if stat.Variance(x, nil) == 0 {
		return 0
	}
	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return r
}
