package metrics

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/network"
	"gonum.org/v1/gonum/graph/path"

	"github.com/sells-group/utri-cli/internal/streetgraph"
)

// EdgeBetweenness returns the length-weighted betweenness centrality of every
// edge of g, indexed like g.Edge. Edges that no shortest path crosses score 0.
func EdgeBetweenness(g *streetgraph.Graph) []float64 {
	wg := g.Weighted()
	return edgeBetweenness(g, wg, path.DijkstraAllPaths(wg))
}

func edgeBetweenness(g *streetgraph.Graph, wg graph.Weighted, paths path.AllShortest) []float64 {
	cb := network.EdgeBetweennessWeighted(wg, paths)
	out := make([]float64, g.NumEdges())
	for i := range out {
		e := g.Edge(i)
		// Edges are stored with U < V, matching gonum's key order for
		// undirected graphs.
		out[i] = cb[[2]int64{int64(e.U), int64(e.V)}]
	}
	return out
}

// EdgeBetweennessGini returns the Gini coefficient of the edge betweenness
// distribution: 0 when through-traffic is spread evenly, approaching 1 when
// it is concentrated on a few segments. A single edge scores 0.
func EdgeBetweennessGini(g *streetgraph.Graph) float64 {
	if g.NumEdges() <= 1 {
		return 0
	}
	return Gini(EdgeBetweenness(g))
}

// Gini returns the Gini coefficient of values. Negative inputs are shifted so
// the minimum is zero. Fewer than two values, or an all-zero distribution,
// score 0. values is not modified.
func Gini(values []float64) float64 {
	n := len(values)
	if n <= 1 {
		return 0
	}
	x := make([]float64, n)
	copy(x, values)
	if lo := floats.Min(x); lo < 0 {
		floats.AddConst(-lo, x)
	}
	total := floats.Sum(x)
	if total == 0 {
		return 0
	}
	sort.Float64s(x)

	var acc float64
	for i, v := range x {
		acc += float64(2*(i+1)-n-1) * v
	}
	return clamp01(acc / (float64(n) * total))
}
