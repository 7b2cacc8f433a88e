// Package boundary loads spatial unit polygons from TIGER/Line shapefiles or
// GeoJSON feature collections.
package boundary

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/utri-cli/internal/failure"
	"github.com/sells-group/utri-cli/internal/spatial"
	"github.com/sells-group/utri-cli/internal/tiger"
)

// Feature is one spatial unit boundary with its derived centroid.
type Feature struct {
	GEOID    string
	Name     string
	Geometry orb.MultiPolygon
	Centroid orb.Point
}

// Options names the identifier and label attributes.
type Options struct {
	GEOIDField string
	NameField  string
}

// Read loads boundaries by extension: .shp or .zip through the TIGER reader,
// .geojson or .json as a FeatureCollection. Duplicate identifiers are a
// DataQuality error.
func Read(path string, opts Options) ([]Feature, error) {
	if opts.GEOIDField == "" {
		opts.GEOIDField = "GEOID"
	}
	log := zap.L().With(zap.String("component", "boundary"))

	var (
		features []Feature
		err      error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp", ".zip":
		features, err = readShapefile(path, opts)
	case ".geojson", ".json":
		features, err = readGeoJSON(path, opts)
	default:
		return nil, failure.New(failure.Configuration, "boundary: unsupported file type %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	if len(features) == 0 {
		return nil, failure.New(failure.DataQuality, "boundary: %s has no polygon features", path)
	}

	seen := make(map[string]bool, len(features))
	for i := range features {
		f := &features[i]
		if seen[f.GEOID] {
			return nil, failure.ForUnit(failure.DataQuality, f.GEOID, "boundary: duplicate GEOID in %s", path)
		}
		seen[f.GEOID] = true
		f.Centroid = spatial.Centroid(f.Geometry)
	}

	log.Info("boundaries loaded", zap.String("path", path), zap.Int("units", len(features)))
	return features, nil
}

func readShapefile(path string, opts Options) ([]Feature, error) {
	fields := tiger.DefaultFields()
	fields.GEOID = opts.GEOIDField
	if opts.NameField != "" {
		fields.Name = opts.NameField
	}
	tracts, err := tiger.ReadTracts(path, fields)
	if err != nil {
		return nil, err
	}
	out := make([]Feature, len(tracts))
	for i, t := range tracts {
		out[i] = Feature{GEOID: t.GEOID, Name: t.Name, Geometry: t.Geometry}
	}
	return out, nil
}

func readGeoJSON(path string, opts Options) ([]Feature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "boundary: read %s", path)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, eris.Wrapf(err, "boundary: parse %s", path)
	}

	var out []Feature
	var skipped int
	for _, f := range fc.Features {
		geoid := property(f.Properties, opts.GEOIDField)
		var mp orb.MultiPolygon
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			mp = orb.MultiPolygon{g}
		case orb.MultiPolygon:
			mp = g
		}
		if geoid == "" || len(mp) == 0 {
			skipped++
			continue
		}
		feat := Feature{GEOID: geoid, Geometry: mp}
		if opts.NameField != "" {
			feat.Name = property(f.Properties, opts.NameField)
		}
		out = append(out, feat)
	}
	if skipped > 0 {
		zap.L().Debug("boundary: skipped features without GEOID or polygon",
			zap.String("path", path), zap.Int("skipped", skipped))
	}
	return out, nil
}

// property reads a string or numeric property as text. Numeric GEOIDs lose
// leading zeros in some exports; those are not repaired here.
func property(props geojson.Properties, key string) string {
	v, ok := props[key]
	if !ok {
		for k, pv := range props {
			if strings.EqualFold(k, key) {
				v = pv
				break
			}
		}
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}

// Geometries returns the polygons of features in order.
func Geometries(features []Feature) []orb.MultiPolygon {
	out := make([]orb.MultiPolygon, len(features))
	for i, f := range features {
		out[i] = f.Geometry
	}
	return out
}

// Centroids returns the centroids of features in order.
func Centroids(features []Feature) []orb.Point {
	out := make([]orb.Point, len(features))
	for i, f := range features {
		out[i] = f.Centroid
	}
	return out
}
