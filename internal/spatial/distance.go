// Package spatial provides the geometric plumbing shared by the spatial
// statistics: coordinate-aware distances, unit centroids and the adjacency
// model between spatial units.
package spatial

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
	"github.com/rotisserie/eris"
)

// Coordinates declares how point coordinates are interpreted.
type Coordinates string

const (
	// Geographic coordinates are longitude/latitude degrees; distances are
	// great-circle meters.
	Geographic Coordinates = "geographic"
	// Projected coordinates are planar; distances are Euclidean in map units.
	Projected Coordinates = "projected"
)

// ParseCoordinates validates a coordinate mode name. Empty means Geographic.
func ParseCoordinates(s string) (Coordinates, error) {
	switch Coordinates(s) {
	case "", Geographic:
		return Geographic, nil
	case Projected:
		return Projected, nil
	default:
		return "", eris.Errorf("spatial: unknown coordinate mode %q", s)
	}
}

// Distance returns the distance between two points under the given mode.
func (c Coordinates) Distance(a, b orb.Point) float64 {
	if c == Projected {
		return planar.Distance(a, b)
	}
	return geo.DistanceHaversine(a, b)
}

// Centroid returns the area-weighted centroid of a polygonal geometry. For
// degenerate (zero-area) input the bound center is used.
func Centroid(mp orb.MultiPolygon) orb.Point {
	if len(mp) == 0 {
		return orb.Point{}
	}
	c, area := planar.CentroidArea(mp)
	if area == 0 {
		return mp.Bound().Center()
	}
	return c
}

// DistanceMatrix returns the symmetric pairwise distance matrix of points.
func DistanceMatrix(points []orb.Point, coords Coordinates) [][]float64 {
	n := len(points)
	d := make([][]float64, n)
	for i := range d {
		d[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			v := coords.Distance(points[i], points[j])
			d[i][j] = v
			d[j][i] = v
		}
	}
	return d
}
