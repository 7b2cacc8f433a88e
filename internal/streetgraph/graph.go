// Package streetgraph holds the immutable street-network graph of one spatial
// unit: intersections as nodes, street segments as length-weighted edges.
//
// A Graph is built once through a Builder and never mutated afterwards, so it
// can be shared freely across goroutines. Algorithms that need gonum's graph
// interfaces obtain fresh views through Weighted and Unweighted.
package streetgraph

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Node is a street intersection.
type Node struct {
	ID       string
	Position orb.Point
}

// Edge is an undirected street segment between two node indexes.
type Edge struct {
	U, V      int
	Length    float64
	RoadClass string
}

// Graph is an undirected street graph over an index arena. Node indexes run
// from 0 to NumNodes()-1; each unordered node pair carries at most one edge.
type Graph struct {
	geoid        string
	nodes        []Node
	edges        []Edge
	adj          [][]int
	hasPositions bool
}

// GEOID returns the identifier of the spatial unit that owns the graph.
func (g *Graph) GEOID() string { return g.geoid }

// NumNodes returns the number of intersections.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// NumEdges returns the number of street segments.
func (g *Graph) NumEdges() int { return len(g.edges) }

// Node returns the node at index i.
func (g *Graph) Node(i int) Node { return g.nodes[i] }

// Edge returns the edge at index i.
func (g *Graph) Edge(i int) Edge { return g.edges[i] }

// Neighbors returns the sorted neighbor indexes of node i. The slice is shared
// and must not be modified.
func (g *Graph) Neighbors(i int) []int { return g.adj[i] }

// Degree returns the number of distinct neighbors of node i.
func (g *Graph) Degree(i int) int { return len(g.adj[i]) }

// HasPositions reports whether every node carries a coordinate.
func (g *Graph) HasPositions() bool { return g.hasPositions }

// TotalLength returns the summed length of all edges.
func (g *Graph) TotalLength() float64 {
	var total float64
	for _, e := range g.edges {
		total += e.Length
	}
	return total
}

// Weighted returns a gonum view of the graph with node IDs equal to arena
// indexes and edge weights equal to segment lengths.
func (g *Graph) Weighted() *simple.WeightedUndirectedGraph {
	wg := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	for i := range g.nodes {
		wg.AddNode(simple.Node(int64(i)))
	}
	for _, e := range g.edges {
		wg.SetWeightedEdge(simple.WeightedEdge{
			F: simple.Node(int64(e.U)),
			T: simple.Node(int64(e.V)),
			W: e.Length,
		})
	}
	return wg
}

// Unweighted returns a gonum view of the graph that ignores segment lengths.
func (g *Graph) Unweighted() *simple.UndirectedGraph {
	ug := simple.NewUndirectedGraph()
	for i := range g.nodes {
		ug.AddNode(simple.Node(int64(i)))
	}
	for _, e := range g.edges {
		ug.SetEdge(simple.Edge{F: simple.Node(int64(e.U)), T: simple.Node(int64(e.V))})
	}
	return ug
}

// Components returns the connected components as sorted node index lists,
// largest first. Ties are broken by the smallest node index.
func (g *Graph) Components() [][]int {
	raw := topo.ConnectedComponents(g.Unweighted())
	comps := make([][]int, 0, len(raw))
	for _, c := range raw {
		idx := make([]int, len(c))
		for i, n := range c {
			idx[i] = int(n.ID())
		}
		sort.Ints(idx)
		comps = append(comps, idx)
	}
	sort.SliceStable(comps, func(i, j int) bool {
		if len(comps[i]) != len(comps[j]) {
			return len(comps[i]) > len(comps[j])
		}
		return comps[i][0] < comps[j][0]
	})
	return comps
}

// LargestComponent returns the subgraph induced by the largest connected
// component. A connected graph is returned unchanged.
func (g *Graph) LargestComponent() *Graph {
	if len(g.nodes) == 0 {
		return g
	}
	comps := g.Components()
	if len(comps) <= 1 {
		return g
	}
	return g.Induced(comps[0])
}

// Induced returns the subgraph induced by the given node indexes.
func (g *Graph) Induced(keep []int) *Graph {
	remap := make(map[int]int, len(keep))
	b := NewBuilder(g.geoid)
	for _, i := range keep {
		n := g.nodes[i]
		remap[i] = len(b.nodes)
		if g.hasPositions {
			b.AddNode(n.ID, n.Position)
		} else {
			b.AddBareNode(n.ID)
		}
	}
	for _, e := range g.edges {
		if _, ok := remap[e.U]; !ok {
			continue
		}
		if _, ok := remap[e.V]; !ok {
			continue
		}
		// Edges copied from a valid graph cannot fail validation.
		_ = b.AddEdge(g.nodes[e.U].ID, g.nodes[e.V].ID, e.Length, e.RoadClass)
	}
	sub, _ := b.Build()
	return sub
}

// Builder accumulates nodes and edges for one unit's graph.
type Builder struct {
	geoid     string
	index     map[string]int
	nodes     []Node
	edges     []Edge
	pairs     map[[2]int]int
	bareIDs   map[string]bool
	bare      int
	selfLoops int
	parallel  int
}

// NewBuilder creates a builder for the graph of the given unit.
func NewBuilder(geoid string) *Builder {
	return &Builder{
		geoid:   geoid,
		index:   make(map[string]int),
		pairs:   make(map[[2]int]int),
		bareIDs: make(map[string]bool),
	}
}

// AddNode adds a positioned intersection. Re-adding an ID is a no-op.
func (b *Builder) AddNode(id string, p orb.Point) int {
	if i, ok := b.index[id]; ok {
		return i
	}
	i := len(b.nodes)
	b.index[id] = i
	b.nodes = append(b.nodes, Node{ID: id, Position: p})
	return i
}

// AddBareNode adds an intersection without a coordinate.
func (b *Builder) AddBareNode(id string) int {
	if i, ok := b.index[id]; ok {
		return i
	}
	b.bare++
	b.bareIDs[id] = true
	return b.AddNode(id, orb.Point{})
}

// Position returns the coordinate of a positioned node.
func (b *Builder) Position(id string) (orb.Point, bool) {
	i, ok := b.index[id]
	if !ok || b.bareIDs[id] {
		return orb.Point{}, false
	}
	return b.nodes[i].Position, true
}

// HasNode reports whether the node ID has been added.
func (b *Builder) HasNode(id string) bool {
	_, ok := b.index[id]
	return ok
}

// AddEdge adds a street segment between two known nodes. Self-loops are
// dropped; a repeated node pair keeps the shorter length.
func (b *Builder) AddEdge(u, v string, length float64, roadClass string) error {
	ui, ok := b.index[u]
	if !ok {
		return eris.Errorf("streetgraph: edge references unknown node %q", u)
	}
	vi, ok := b.index[v]
	if !ok {
		return eris.Errorf("streetgraph: edge references unknown node %q", v)
	}
	if math.IsNaN(length) || math.IsInf(length, 0) {
		return eris.Errorf("streetgraph: edge %s-%s has non-finite length", u, v)
	}
	if length < 0 {
		return eris.Errorf("streetgraph: edge %s-%s has negative length %g", u, v, length)
	}
	if ui == vi {
		b.selfLoops++
		return nil
	}

	key := [2]int{min(ui, vi), max(ui, vi)}
	if ei, ok := b.pairs[key]; ok {
		b.parallel++
		if length < b.edges[ei].Length {
			b.edges[ei].Length = length
			b.edges[ei].RoadClass = roadClass
		}
		return nil
	}
	b.pairs[key] = len(b.edges)
	b.edges = append(b.edges, Edge{U: key[0], V: key[1], Length: length, RoadClass: roadClass})
	return nil
}

// Dropped returns the number of self-loops and parallel segments collapsed
// while building.
func (b *Builder) Dropped() (selfLoops, parallel int) {
	return b.selfLoops, b.parallel
}

// Build freezes the accumulated nodes and edges into a Graph.
func (b *Builder) Build() (*Graph, error) {
	g := &Graph{
		geoid:        b.geoid,
		nodes:        make([]Node, len(b.nodes)),
		edges:        make([]Edge, len(b.edges)),
		adj:          make([][]int, len(b.nodes)),
		hasPositions: len(b.nodes) > 0 && b.bare == 0,
	}
	copy(g.nodes, b.nodes)
	copy(g.edges, b.edges)

	for _, e := range g.edges {
		g.adj[e.U] = append(g.adj[e.U], e.V)
		g.adj[e.V] = append(g.adj[e.V], e.U)
	}
	for i := range g.adj {
		sort.Ints(g.adj[i])
	}
	return g, nil
}
