package tiger

import (
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

// SRID tags stored tract geometry as longitude/latitude.
const SRID = 4326

// EncodeWKB converts a tract geometry to EWKB bytes with SRID 4326.
// Returns nil, nil for an empty geometry.
func EncodeWKB(mp orb.MultiPolygon) ([]byte, error) {
	if len(mp) == 0 {
		return nil, nil
	}

	coords := make([][][]geom.Coord, 0, len(mp))
	for _, poly := range mp {
		rings := make([][]geom.Coord, 0, len(poly))
		for _, ring := range poly {
			rc := make([]geom.Coord, 0, len(ring))
			for _, pt := range ring {
				rc = append(rc, geom.Coord{pt[0], pt[1]})
			}
			rings = append(rings, rc)
		}
		coords = append(coords, rings)
	}

	g, err := geom.NewMultiPolygon(geom.XY).SetCoords(coords)
	if err != nil {
		return nil, eris.Wrap(err, "tiger: build multipolygon")
	}

	data, err := ewkb.Marshal(g.SetSRID(SRID), ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "tiger: encode WKB")
	}
	return data, nil
}

// DecodeWKB parses EWKB written by EncodeWKB. A single polygon is returned as
// a one-member multipolygon.
func DecodeWKB(data []byte) (orb.MultiPolygon, error) {
	if len(data) == 0 {
		return nil, nil
	}
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "tiger: decode WKB")
	}

	var polys [][][]geom.Coord
	switch t := g.(type) {
	case *geom.MultiPolygon:
		polys = t.Coords()
	case *geom.Polygon:
		polys = [][][]geom.Coord{t.Coords()}
	default:
		return nil, eris.Errorf("tiger: unsupported geometry %T", g)
	}

	mp := make(orb.MultiPolygon, 0, len(polys))
	for _, rings := range polys {
		poly := make(orb.Polygon, 0, len(rings))
		for _, rc := range rings {
			ring := make(orb.Ring, 0, len(rc))
			for _, c := range rc {
				ring = append(ring, orb.Point{c.X(), c.Y()})
			}
			poly = append(poly, ring)
		}
		mp = append(mp, poly)
	}
	return mp, nil
}
