package ingest

import (
	"context"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"go.uber.org/zap"

	"github.com/sells-group/utri-cli/internal/boundary"
	"github.com/sells-group/utri-cli/internal/failure"
	"github.com/sells-group/utri-cli/internal/model"
	"github.com/sells-group/utri-cli/internal/spatial"
	"github.com/sells-group/utri-cli/internal/streetgraph"
	"github.com/sells-group/utri-cli/internal/tabular"
)

// NetworkSpec locates the node and edge tables of the street network.
//
// Nodes: geoid (optional), node_id, x, y. Edges: geoid (optional), u, v,
// length (optional), highway (optional). Without a node geoid column the
// network is citywide and nodes are clipped into units by point-in-polygon;
// edges whose endpoints land in different units are dropped.
type NetworkSpec struct {
	Nodes       string
	Edges       string
	Coordinates spatial.Coordinates
}

var (
	nodeIDColumns = []string{"node_id", "osmid", "id"}
	xColumns      = []string{"x", "lon", "lng", "longitude"}
	yColumns      = []string{"y", "lat", "latitude"}
)

func firstColumn(tbl *tabular.Table, names []string) (int, bool) {
	for _, n := range names {
		if i, ok := tbl.Column(n); ok {
			return i, true
		}
	}
	return 0, false
}

// locator assigns points to units by polygon containment.
type locator struct {
	features []boundary.Feature
	bounds   []orb.Bound
}

func newLocator(features []boundary.Feature) *locator {
	l := &locator{features: features, bounds: make([]orb.Bound, len(features))}
	for i, f := range features {
		l.bounds[i] = f.Geometry.Bound()
	}
	return l
}

// locate returns the GEOID of the first unit containing p, or "".
func (l *locator) locate(p orb.Point) string {
	for i, b := range l.bounds {
		if !b.Contains(p) {
			continue
		}
		if planar.MultiPolygonContains(l.features[i].Geometry, p) {
			return l.features[i].GEOID
		}
	}
	return ""
}

// LoadNetwork builds one street graph per unit. Units whose graph cannot be
// built are returned as ingest exclusions; units with no nodes are absent from
// the map.
func LoadNetwork(ctx context.Context, spec NetworkSpec, features []boundary.Feature) (map[string]*streetgraph.Graph, []model.Exclusion, error) {
	log := zap.L().With(zap.String("component", "ingest"), zap.String("table", "network"))

	nodes, err := tabular.Read(ctx, spec.Nodes, tabular.Options{})
	if err != nil {
		return nil, nil, err
	}
	edges, err := tabular.Read(ctx, spec.Edges, tabular.Options{})
	if err != nil {
		return nil, nil, err
	}

	idIdx, ok := firstColumn(nodes, nodeIDColumns)
	if !ok {
		return nil, nil, failure.New(failure.Configuration, "ingest: %s has no node id column", spec.Nodes)
	}
	xIdx, hasX := firstColumn(nodes, xColumns)
	yIdx, hasY := firstColumn(nodes, yColumns)
	positioned := hasX && hasY
	nodeGeoidIdx, perUnit := nodes.Column("geoid")
	if !perUnit && !positioned {
		return nil, nil, failure.New(failure.Configuration,
			"ingest: %s needs a geoid column or x/y coordinates to clip into units", spec.Nodes)
	}

	known := make(map[string]bool, len(features))
	for _, f := range features {
		known[f.GEOID] = true
	}
	var loc *locator
	if !perUnit {
		loc = newLocator(features)
	}

	builders := make(map[string]*streetgraph.Builder)
	failed := make(map[string]error)
	nodeUnit := make(map[string]string, len(nodes.Rows))
	var outside int

	for r := range nodes.Rows {
		id := nodes.Cell(r, idIdx)
		if id == "" {
			continue
		}
		p, hasPoint := nodePoint(nodes, r, xIdx, yIdx, positioned)

		var geoid string
		switch {
		case perUnit:
			geoid = NormalizeGEOID(nodes.Cell(r, nodeGeoidIdx))
		case hasPoint:
			geoid = loc.locate(p)
		}
		if geoid == "" || !known[geoid] {
			outside++
			continue
		}

		b, ok := builders[geoid]
		if !ok {
			b = streetgraph.NewBuilder(geoid)
			builders[geoid] = b
		}
		if hasPoint {
			b.AddNode(id, p)
		} else {
			b.AddBareNode(id)
		}
		nodeUnit[id] = geoid
	}

	cols, err := edges.RequireColumns("u", "v")
	if err != nil {
		return nil, nil, failure.Wrap(failure.Configuration, err)
	}
	lengthIdx, hasLength := edges.Column("length")
	classIdx, hasClass := edges.Column("highway")
	edgeGeoidIdx, edgePerUnit := edges.Column("geoid")

	var dropped, missingLength int
	for r := range edges.Rows {
		u, v := edges.Cell(r, cols[0]), edges.Cell(r, cols[1])
		var geoid string
		if edgePerUnit {
			geoid = NormalizeGEOID(edges.Cell(r, edgeGeoidIdx))
		} else if nodeUnit[u] == nodeUnit[v] {
			geoid = nodeUnit[u]
		}
		b, ok := builders[geoid]
		if !ok || !b.HasNode(u) || !b.HasNode(v) {
			dropped++
			continue
		}
		if _, bad := failed[geoid]; bad {
			continue
		}

		var length float64
		ok = false
		if hasLength {
			length, ok, err = edges.Float(r, lengthIdx)
			if err != nil {
				failed[geoid] = err
				continue
			}
		}
		if !ok {
			length, ok = straightLength(b, u, v, spec.Coordinates)
			if !ok {
				missingLength++
				continue
			}
		}
		var class string
		if hasClass {
			class = edges.Cell(r, classIdx)
		}
		if err := b.AddEdge(u, v, length, class); err != nil {
			failed[geoid] = err
		}
	}

	graphs := make(map[string]*streetgraph.Graph, len(builders))
	var exclusions []model.Exclusion
	for geoid, b := range builders {
		if err, bad := failed[geoid]; bad {
			exclusions = append(exclusions, model.ExclusionFromError(model.StageIngest, geoid,
				failure.ForUnit(failure.DataQuality, geoid, "street network: %v", err)))
			log.Warn("unit network rejected", zap.String("geoid", geoid), zap.Error(err))
			continue
		}
		g, err := b.Build()
		if err != nil {
			exclusions = append(exclusions, model.ExclusionFromError(model.StageIngest, geoid, err))
			continue
		}
		if selfLoops, parallel := b.Dropped(); selfLoops+parallel > 0 {
			log.Debug("collapsed segments", zap.String("geoid", geoid),
				zap.Int("self_loops", selfLoops), zap.Int("parallel", parallel))
		}
		graphs[geoid] = g
	}
	sort.Slice(exclusions, func(i, j int) bool { return exclusions[i].GEOID < exclusions[j].GEOID })

	log.Info("street network loaded",
		zap.Int("units", len(graphs)),
		zap.Int("nodes_outside_units", outside),
		zap.Int("edges_dropped", dropped),
		zap.Int("edges_without_length", missingLength),
		zap.Bool("clipped", !perUnit),
	)
	return graphs, exclusions, nil
}

func nodePoint(nodes *tabular.Table, r, xIdx, yIdx int, positioned bool) (orb.Point, bool) {
	if !positioned {
		return orb.Point{}, false
	}
	x, okX, errX := nodes.Float(r, xIdx)
	y, okY, errY := nodes.Float(r, yIdx)
	if errX != nil || errY != nil || !okX || !okY {
		return orb.Point{}, false
	}
	return orb.Point{x, y}, true
}

// straightLength measures an edge between two positioned nodes when the
// table carries no length.
func straightLength(b *streetgraph.Builder, u, v string, coords spatial.Coordinates) (float64, bool) {
	pu, okU := b.Position(u)
	pv, okV := b.Position(v)
	if !okU || !okV {
		return 0, false
	}
	return coords.Distance(pu, pv), true
}
