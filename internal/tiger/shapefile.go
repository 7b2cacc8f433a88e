// Package tiger reads Census TIGER/Line tract boundaries and encodes tract
// geometry for storage.
package tiger

import (
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Tract is one boundary record.
type Tract struct {
	GEOID    string
	Name     string
	Geometry orb.MultiPolygon
}

// Fields names the DBF attributes holding the tract identifier and label.
type Fields struct {
	GEOID string
	Name  string
}

// DefaultFields matches the TIGER/Line tract product (tl_YYYY_SS_tract).
func DefaultFields() Fields {
	return Fields{GEOID: "GEOID", Name: "NAMELSAD"}
}

// ReadTracts reads every polygon record of a shapefile, given either as the
// .shp path or as a TIGER/Line .zip archive. Records with no
// identifier or no polygon geometry are skipped and counted in the debug log.
func ReadTracts(shpPath string, fields Fields) ([]Tract, error) {
	if fields.GEOID == "" {
		fields.GEOID = DefaultFields().GEOID
	}

	reader, err := open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "tiger: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	// Build field name → index map.
	fieldIdx := make(map[string]int)
	for i, f := range reader.Fields() {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(name)] = i
	}
	geoidIdx, ok := fieldIdx[strings.ToLower(fields.GEOID)]
	if !ok {
		return nil, eris.Errorf("tiger: %s has no %q attribute", shpPath, fields.GEOID)
	}
	nameIdx, hasName := fieldIdx[strings.ToLower(fields.Name)]

	var tracts []Tract
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()

		geoid := attribute(reader, geoidIdx)
		poly, isPoly := shape.(*shp.Polygon)
		if geoid == "" || !isPoly {
			skipped++
			continue
		}
		mp := PolygonToMultiPolygon(poly)
		if len(mp) == 0 {
			skipped++
			continue
		}

		t := Tract{GEOID: geoid, Geometry: mp}
		if hasName {
			t.Name = attribute(reader, nameIdx)
		}
		tracts = append(tracts, t)
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(err, "tiger: read shapefile %s", shpPath)
	}

	if skipped > 0 {
		zap.L().Debug("tiger: skipped shapefile records",
			zap.String("path", shpPath),
			zap.Int("skipped", skipped),
		)
	}
	return tracts, nil
}

// shapeReader is the record cursor shared by shp.Reader and shp.ZipReader.
type shapeReader interface {
	Fields() []shp.Field
	Next() bool
	Shape() (int, shp.Shape)
	Attribute(n int) string
	Err() error
	Close() error
}

// open reads a .shp directly or the single shapefile inside a TIGER .zip.
func open(path string) (shapeReader, error) {
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		return shp.OpenZip(path)
	}
	return shp.Open(path)
}

func attribute(r shapeReader, idx int) string {
	return strings.TrimSpace(strings.TrimRight(r.Attribute(idx), "\x00"))
}

// PolygonToMultiPolygon converts a shapefile polygon into polygons with holes.
// Shapefile outer rings are clockwise and holes counter-clockwise; a hole
// with no preceding outer ring is promoted to an outer ring.
func PolygonToMultiPolygon(p *shp.Polygon) orb.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	var mp orb.MultiPolygon
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		var end int32
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		} else {
			end = int32(len(p.Points))
		}
		if end-start < 3 {
			zap.L().Debug("tiger: skipping malformed polygon ring", zap.Int32("part", i))
			continue
		}

		ring := make(orb.Ring, 0, end-start+1)
		for j := start; j < end; j++ {
			ring = append(ring, orb.Point{p.Points[j].X, p.Points[j].Y})
		}
		if !ring.Closed() {
			ring = append(ring, ring[0])
		}

		switch ring.Orientation() {
		case orb.CW:
			mp = append(mp, orb.Polygon{ring})
		case orb.CCW:
			if len(mp) == 0 {
				ring.Reverse()
				mp = append(mp, orb.Polygon{ring})
				continue
			}
			last := len(mp) - 1
			mp[last] = append(mp[last], ring)
		default:
			zap.L().Debug("tiger: skipping zero-area polygon ring", zap.Int32("part", i))
		}
	}
	return mp
}
