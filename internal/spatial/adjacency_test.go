package spatial

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/utri-cli/internal/failure"
)

// cell returns a unit square polygon with its lower-left corner at (x, y).
func cell(x, y float64) orb.MultiPolygon {
	return orb.MultiPolygon{{{
		{x, y}, {x + 1, y}, {x + 1, y + 1}, {x, y + 1}, {x, y},
	}}}
}

// grid2x2 lays out four cells:
//
//	2 3
//	0 1
func grid2x2() []orb.MultiPolygon {
	return []orb.MultiPolygon{cell(0, 0), cell(1, 0), cell(0, 1), cell(1, 1)}
}

func TestContiguity_Queen(t *testing.T) {
	adj, err := Contiguity(grid2x2(), Queen, 0)
	require.NoError(t, err)

	// Every cell touches every other cell at least at the center vertex.
	for i := 0; i < 4; i++ {
		assert.Len(t, adj.Neighbors(i), 3, "unit %d", i)
	}
	assert.Equal(t, 6, adj.Links())
	assert.NoError(t, adj.Validate(nil))
}

func TestContiguity_Rook(t *testing.T) {
	adj, err := Contiguity(grid2x2(), Rook, 0)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2}, adj.Neighbors(0))
	assert.Equal(t, []int{0, 3}, adj.Neighbors(1))
	assert.Equal(t, []int{0, 3}, adj.Neighbors(2))
	assert.Equal(t, []int{1, 2}, adj.Neighbors(3))
}

func TestContiguity_SnapsFloatNoise(t *testing.T) {
	a := cell(0, 0)
	b := orb.MultiPolygon{{{
		{1 + 1e-10, 0}, {2, 0}, {2, 1}, {1 - 1e-10, 1}, {1 + 1e-10, 0},
	}}}
	adj, err := Contiguity([]orb.MultiPolygon{a, b}, Rook, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, adj.Neighbors(0))
}

func TestContiguity_Island(t *testing.T) {
	geoms := append(grid2x2(), cell(10, 10))
	adj, err := Contiguity(geoms, Queen, 0)
	require.NoError(t, err)

	assert.Equal(t, []int{4}, adj.Islands())
	err = adj.Validate([]string{"a", "b", "c", "d", "lonely"})
	require.Error(t, err)
	assert.True(t, failure.IsKind(err, failure.Configuration))
	assert.Contains(t, err.Error(), "lonely")
}

func TestKNearest_Symmetric(t *testing.T) {
	points := []orb.Point{{0, 0}, {1, 0}, {10, 0}, {11, 0}}
	adj, err := KNearest(points, 1, Projected)
	require.NoError(t, err)

	assert.Equal(t, []int{1}, adj.Neighbors(0))
	assert.Equal(t, []int{0}, adj.Neighbors(1))
	assert.Equal(t, []int{3}, adj.Neighbors(2))
	assert.Equal(t, []int{2}, adj.Neighbors(3))
}

func TestKNearest_UnionMakesSymmetric(t *testing.T) {
	// 2's nearest is 1, but 1's nearest is 0: the union links 1 and 2 both ways.
	points := []orb.Point{{0, 0}, {1, 0}, {2.5, 0}}
	adj, err := KNearest(points, 1, Projected)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 2}, adj.Neighbors(1))
	assert.Equal(t, []int{1}, adj.Neighbors(2))
}

func TestKNearest_InvalidK(t *testing.T) {
	_, err := KNearest([]orb.Point{{0, 0}}, 0, Projected)
	require.Error(t, err)
	assert.True(t, failure.IsKind(err, failure.Configuration))
}

func TestSubset(t *testing.T) {
	adj, err := Contiguity(grid2x2(), Rook, 0)
	require.NoError(t, err)

	sub := adj.Subset([]int{0, 1, 3})
	assert.Equal(t, 3, sub.Len())
	assert.Equal(t, []int{1}, sub.Neighbors(0))
	assert.Equal(t, []int{0, 2}, sub.Neighbors(1))
	assert.Equal(t, []int{1}, sub.Neighbors(2))
}

func TestNewAdjacency_OutOfRange(t *testing.T) {
	_, err := NewAdjacency([][]int{{1}, {5}})
	require.Error(t, err)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, Queen, p)

	p, err = ParsePolicy("KNN")
	require.NoError(t, err)
	assert.Equal(t, KNN, p)

	_, err = ParsePolicy("hexagon")
	assert.Error(t, err)
}

func TestBuild_Dispatch(t *testing.T) {
	adj, err := Build(Rook, grid2x2(), nil, 0, Projected)
	require.NoError(t, err)
	assert.Equal(t, 4, adj.Links())

	adj, err = Build(KNN, nil, []orb.Point{{0, 0}, {1, 0}, {3, 0}}, 1, Projected)
	require.NoError(t, err)
	assert.Equal(t, 2, adj.Links())
}
