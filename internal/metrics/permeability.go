package metrics

import (
	"math"

	"gonum.org/v1/gonum/graph/path"

	"github.com/sells-group/utri-cli/internal/spatial"
	"github.com/sells-group/utri-cli/internal/streetgraph"
)

// GlobalPermeability returns the length-weighted global efficiency of g,
// normalized by the efficiency of the ideal network in which every node pair
// is joined by a straight segment. Disconnected pairs contribute nothing.
// Pairs of co-located nodes are skipped since they have no ideal distance.
//
// The result is clamped to [0,1]. Without node positions the hop-count
// efficiency is returned instead.
func GlobalPermeability(g *streetgraph.Graph, coords spatial.Coordinates) float64 {
	if !g.HasPositions() {
		return HopEfficiency(g)
	}
	return weightedEfficiency(g, path.DijkstraAllPaths(g.Weighted()), coords)
}

func weightedEfficiency(g *streetgraph.Graph, paths path.AllShortest, coords spatial.Coordinates) float64 {
	n := g.NumNodes()
	var actual, ideal float64
	for i := 0; i < n; i++ {
		pi := g.Node(i).Position
		for j := i + 1; j < n; j++ {
			euclid := coords.Distance(pi, g.Node(j).Position)
			if euclid <= 0 {
				continue
			}
			ideal += 1 / euclid

			d := paths.Weight(int64(i), int64(j))
			if math.IsInf(d, 0) || math.IsNaN(d) {
				continue
			}
			// A street cannot be shorter than the straight line; lengths that
			// say otherwise come from rounding in the source data.
			actual += 1 / math.Max(d, euclid)
		}
	}
	if ideal == 0 {
		return 0
	}
	return clamp01(actual / ideal)
}

// HopEfficiency returns the unweighted global efficiency of g: the mean of
// 1/h over all unordered node pairs, where h is the hop distance. A complete
// graph scores 1.
func HopEfficiency(g *streetgraph.Graph) float64 {
	n := g.NumNodes()
	if n < 2 {
		return 0
	}
	// The unweighted view has uniform edge cost, so path weights are hops.
	paths := path.DijkstraAllPaths(g.Unweighted())
	var sum float64
	for s := 0; s < n; s++ {
		for t := s + 1; t < n; t++ {
			h := paths.Weight(int64(s), int64(t))
			if math.IsInf(h, 0) || math.IsNaN(h) || h <= 0 {
				continue
			}
			sum += 1 / h
		}
	}
	return clamp01(2 * sum / float64(n*(n-1)))
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
