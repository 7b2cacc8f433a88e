package model

import (
	"github.com/paulmach/orb"

	"github.com/sells-group/utri-cli/internal/streetgraph"
)

// SpatialUnit is one census tract as joined from the external inputs. It is
// built once per run and never mutated; derived scores live in the result
// tables.
type SpatialUnit struct {
	GEOID    string             `json:"geoid"`
	Name     string             `json:"name,omitempty"`
	Geometry orb.MultiPolygon   `json:"-"`
	Centroid orb.Point          `json:"centroid"`
	MHI      *float64           `json:"mhi,omitempty"` // nil when missing or suppressed
	LST      *float64           `json:"lst,omitempty"` // mean land surface temperature, °C
	Graph    *streetgraph.Graph `json:"-"`
}

// HasMHI reports whether the unit carries a usable income value.
func (u SpatialUnit) HasMHI() bool { return u.MHI != nil }

// Indicator names one of the four raw network indicators.
type Indicator string

const (
	GlobalPermeability  Indicator = "global_permeability"
	AvgClustering       Indicator = "avg_clustering"
	DegreeAssortativity Indicator = "degree_assortativity"
	GiniEdgeBetweenness Indicator = "gini_edge_betweenness"
)

// Indicators lists the indicators in their canonical column order.
var Indicators = []Indicator{GlobalPermeability, AvgClustering, DegreeAssortativity, GiniEdgeBetweenness}

// Inverted reports whether a higher raw value means lower resilience.
// Clustering marks enclosed, redundant blocks and a high Gini marks traffic
// concentrated on a few corridors.
func (i Indicator) Inverted() bool {
	return i == AvgClustering || i == GiniEdgeBetweenness
}

// ParseIndicator resolves an indicator by its column name.
func ParseIndicator(s string) (Indicator, bool) {
	for _, ind := range Indicators {
		if string(ind) == s {
			return ind, true
		}
	}
	return "", false
}

// IndicatorRow holds the four raw indicators of one unit.
type IndicatorRow struct {
	GEOID               string  `json:"geoid"`
	GlobalPermeability  float64 `json:"global_permeability"`
	AvgClustering       float64 `json:"avg_clustering"`
	DegreeAssortativity float64 `json:"degree_assortativity"`
	GiniEdgeBetweenness float64 `json:"gini_edge_betweenness"`
	Nodes               int     `json:"nodes"`
	Edges               int     `json:"edges"`
}

// Value returns the raw value of the given indicator.
func (r IndicatorRow) Value(i Indicator) float64 {
	switch i {
	case GlobalPermeability:
		return r.GlobalPermeability
	case AvgClustering:
		return r.AvgClustering
	case DegreeAssortativity:
		return r.DegreeAssortativity
	case GiniEdgeBetweenness:
		return r.GiniEdgeBetweenness
	}
	return 0
}

// SetValue sets the raw value of the given indicator.
func (r *IndicatorRow) SetValue(i Indicator, v float64) {
	switch i {
	case GlobalPermeability:
		r.GlobalPermeability = v
	case AvgClustering:
		r.AvgClustering = v
	case DegreeAssortativity:
		r.DegreeAssortativity = v
	case GiniEdgeBetweenness:
		r.GiniEdgeBetweenness = v
	}
}

// Values returns the indicators in canonical order.
func (r IndicatorRow) Values() []float64 {
	out := make([]float64, len(Indicators))
	for k, ind := range Indicators {
		out[k] = r.Value(ind)
	}
	return out
}
