package api

import (
	"github.com/paulmach/orb/geojson"

	"github.com/sells-group/utri-cli/internal/model"
)

// ScoresGeoJSON converts unit scores into a FeatureCollection with one
// feature per tract. Units stored without geometry are omitted; missing
// values become null properties.
func ScoresGeoJSON(scores []model.UnitScore) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, s := range scores {
		if len(s.Geometry) == 0 {
			continue
		}
		f := geojson.NewFeature(s.Geometry)
		f.ID = s.GEOID
		f.Properties["geoid"] = s.GEOID
		if s.Name != "" {
			f.Properties["name"] = s.Name
		}
		f.Properties[string(model.GlobalPermeability)] = s.GlobalPermeability
		f.Properties[string(model.AvgClustering)] = s.AvgClustering
		f.Properties[string(model.DegreeAssortativity)] = s.DegreeAssortativity
		f.Properties[string(model.GiniEdgeBetweenness)] = s.GiniEdgeBetweenness
		f.Properties["utri"] = s.UTRI
		f.Properties["trvi"] = s.TRVI
		f.Properties["mhi"] = s.MHI
		f.Properties["lst"] = s.LST
		if s.LocalR2 != nil {
			f.Properties["local_r2"] = *s.LocalR2
		}
		if s.Residual != nil {
			f.Properties["residual"] = *s.Residual
		}
		for name, b := range s.Coefficients {
			f.Properties["b_"+name] = b
		}
		fc.Append(f)
	}
	return fc
}
