package spatial

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/quadtree"
	"github.com/rotisserie/eris"

	"github.com/sells-group/utri-cli/internal/failure"
)

// Policy names an adjacency definition.
type Policy string

const (
	// Queen contiguity: units sharing at least one boundary vertex.
	Queen Policy = "queen"
	// Rook contiguity: units sharing at least one boundary segment.
	Rook Policy = "rook"
	// KNN: the k nearest centroids, symmetrized.
	KNN Policy = "knn"
)

// ParsePolicy validates an adjacency policy name. Empty means Queen.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(s)) {
	case "", Queen:
		return Queen, nil
	case Rook:
		return Rook, nil
	case KNN:
		return KNN, nil
	default:
		return "", eris.Errorf("spatial: unknown adjacency policy %q", s)
	}
}

// Adjacency is a symmetric neighbor relation over unit indexes 0..Len()-1.
type Adjacency struct {
	neighbors [][]int
}

// NewAdjacency builds a symmetric relation from possibly asymmetric neighbor
// lists. Self references and duplicates are removed; out-of-range indexes
// are an error.
func NewAdjacency(lists [][]int) (*Adjacency, error) {
	n := len(lists)
	sets := make([]map[int]struct{}, n)
	for i := range sets {
		sets[i] = make(map[int]struct{})
	}
	for i, list := range lists {
		for _, j := range list {
			if j < 0 || j >= n {
				return nil, eris.Errorf("spatial: neighbor index %d out of range for unit %d", j, i)
			}
			if j == i {
				continue
			}
			sets[i][j] = struct{}{}
			sets[j][i] = struct{}{}
		}
	}

	a := &Adjacency{neighbors: make([][]int, n)}
	for i, s := range sets {
		nb := make([]int, 0, len(s))
		for j := range s {
			nb = append(nb, j)
		}
		sort.Ints(nb)
		a.neighbors[i] = nb
	}
	return a, nil
}

// Len returns the number of units.
func (a *Adjacency) Len() int { return len(a.neighbors) }

// Neighbors returns the sorted neighbors of unit i.
func (a *Adjacency) Neighbors(i int) []int { return a.neighbors[i] }

// Links returns the number of undirected neighbor pairs.
func (a *Adjacency) Links() int {
	var total int
	for _, nb := range a.neighbors {
		total += len(nb)
	}
	return total / 2
}

// Islands returns the units with no neighbors.
func (a *Adjacency) Islands() []int {
	var out []int
	for i, nb := range a.neighbors {
		if len(nb) == 0 {
			out = append(out, i)
		}
	}
	return out
}

// Validate returns a Configuration error naming any island units. ids maps
// unit indexes to identifiers for the message and may be nil.
func (a *Adjacency) Validate(ids []string) error {
	islands := a.Islands()
	if len(islands) == 0 {
		return nil
	}
	names := make([]string, len(islands))
	for k, i := range islands {
		if i < len(ids) {
			names[k] = ids[i]
		} else {
			names[k] = fmt.Sprintf("#%d", i)
		}
	}
	return failure.New(failure.Configuration,
		"adjacency leaves %d unit(s) without neighbors: %s", len(islands), strings.Join(names, ", "))
}

// Subset restricts the relation to the given units, re-indexed in order.
func (a *Adjacency) Subset(keep []int) *Adjacency {
	pos := make(map[int]int, len(keep))
	for k, i := range keep {
		pos[i] = k
	}
	out := &Adjacency{neighbors: make([][]int, len(keep))}
	for k, i := range keep {
		var nb []int
		for _, j := range a.neighbors[i] {
			if p, ok := pos[j]; ok {
				nb = append(nb, p)
			}
		}
		sort.Ints(nb)
		out.neighbors[k] = nb
	}
	return out
}

// vertexKey snaps a coordinate to an integer grid so that shared boundary
// vertices written with float noise still match.
type vertexKey [2]int64

func snap(p orb.Point, precision float64) vertexKey {
	return vertexKey{int64(math.Round(p[0] / precision)), int64(math.Round(p[1] / precision))}
}

// Contiguity builds a queen or rook adjacency from unit boundaries. precision
// is the snapping grid for vertex matching (default 1e-7).
func Contiguity(geoms []orb.MultiPolygon, policy Policy, precision float64) (*Adjacency, error) {
	if precision <= 0 {
		precision = 1e-7
	}
	if policy != Queen && policy != Rook {
		return nil, eris.Errorf("spatial: %q is not a contiguity policy", policy)
	}

	owners := make(map[any][]int)
	add := func(key any, unit int) {
		list := owners[key]
		if len(list) > 0 && list[len(list)-1] == unit {
			return
		}
		owners[key] = append(list, unit)
	}

	for u, mp := range geoms {
		for _, poly := range mp {
			for _, ring := range poly {
				for k := range ring {
					a := snap(ring[k], precision)
					if policy == Queen {
						add(a, u)
						continue
					}
					if k+1 >= len(ring) {
						continue
					}
					b := snap(ring[k+1], precision)
					if a == b {
						continue
					}
					if b[0] < a[0] || (b[0] == a[0] && b[1] < a[1]) {
						a, b = b, a
					}
					add([2]vertexKey{a, b}, u)
				}
			}
		}
	}

	lists := make([][]int, len(geoms))
	for _, units := range owners {
		if len(units) < 2 {
			continue
		}
		for x := 0; x < len(units); x++ {
			for y := x + 1; y < len(units); y++ {
				if units[x] == units[y] {
					continue
				}
				lists[units[x]] = append(lists[units[x]], units[y])
			}
		}
	}
	return NewAdjacency(lists)
}

type indexedPoint struct {
	p orb.Point
	i int
}

func (ip indexedPoint) Point() orb.Point { return ip.p }

// KNearest builds a symmetrized k-nearest-neighbor adjacency over points.
// Candidates come from a planar quadtree and are re-ranked by the
// coordinate-aware distance.
func KNearest(points []orb.Point, k int, coords Coordinates) (*Adjacency, error) {
	n := len(points)
	if k <= 0 {
		return nil, failure.New(failure.Configuration, "knn adjacency requires k > 0, got %d", k)
	}
	if n == 0 {
		return &Adjacency{}, nil
	}
	if k > n-1 {
		k = n - 1
	}

	var bound orb.Bound
	for i, p := range points {
		if i == 0 {
			bound = orb.Bound{Min: p, Max: p}
			continue
		}
		bound = bound.Extend(p)
	}
	bound = bound.Pad(1e-6)

	qt := quadtree.New(bound)
	for i, p := range points {
		if err := qt.Add(indexedPoint{p: p, i: i}); err != nil {
			return nil, eris.Wrapf(err, "spatial: index centroid %d", i)
		}
	}

	want := min(n, 2*(k+1))
	lists := make([][]int, n)
	buf := make([]orb.Pointer, 0, want)
	for i, p := range points {
		buf = qt.KNearest(buf[:0], p, want)

		type cand struct {
			j int
			d float64
		}
		cands := make([]cand, 0, len(buf))
		for _, c := range buf {
			j := c.(indexedPoint).i
			if j == i {
				continue
			}
			cands = append(cands, cand{j: j, d: coords.Distance(p, points[j])})
		}
		sort.SliceStable(cands, func(a, b int) bool {
			if cands[a].d != cands[b].d {
				return cands[a].d < cands[b].d
			}
			return cands[a].j < cands[b].j
		})
		for _, c := range cands[:min(k, len(cands))] {
			lists[i] = append(lists[i], c.j)
		}
	}
	return NewAdjacency(lists)
}

// Build constructs the adjacency for the given policy. geoms are required for
// contiguity policies, points for KNN.
func Build(policy Policy, geoms []orb.MultiPolygon, points []orb.Point, k int, coords Coordinates) (*Adjacency, error) {
	switch policy {
	case Queen, Rook:
		return Contiguity(geoms, policy, 0)
	case KNN:
		return KNearest(points, k, coords)
	default:
		return nil, failure.New(failure.Configuration, "unknown adjacency policy %q", policy)
	}
}
