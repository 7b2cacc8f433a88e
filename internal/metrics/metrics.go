// Package metrics extracts the four raw network indicators of a spatial
// unit's street graph: global permeability, average clustering, degree
// assortativity and the Gini coefficient of edge betweenness.
//
// Every function here is a pure function of an immutable streetgraph.Graph,
// so units can be measured concurrently.
package metrics

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/graph/path"

	"github.com/sells-group/utri-cli/internal/failure"
	"github.com/sells-group/utri-cli/internal/model"
	"github.com/sells-group/utri-cli/internal/spatial"
	"github.com/sells-group/utri-cli/internal/streetgraph"
)

// PermeabilityMode selects how path lengths are measured for permeability.
type PermeabilityMode string

const (
	// PermeabilityLength weights paths by segment length (default).
	PermeabilityLength PermeabilityMode = "length"
	// PermeabilityHops counts segments and ignores geometry.
	PermeabilityHops PermeabilityMode = "hops"
)

// ParsePermeabilityMode validates a mode name. Empty means PermeabilityLength.
func ParsePermeabilityMode(s string) (PermeabilityMode, error) {
	switch PermeabilityMode(s) {
	case "", PermeabilityLength:
		return PermeabilityLength, nil
	case PermeabilityHops:
		return PermeabilityHops, nil
	default:
		return "", eris.Errorf("metrics: unknown permeability mode %q", s)
	}
}

// Options controls indicator extraction.
type Options struct {
	Permeability PermeabilityMode
	// Coordinates interprets node positions for straight-line distances.
	Coordinates spatial.Coordinates
	// LargestComponent measures only the largest connected component.
	LargestComponent bool
	// MinNodes excludes graphs with fewer nodes than this. Zero disables it.
	MinNodes int
}

// DefaultOptions mirrors the defaults in config.Load.
func DefaultOptions() Options {
	return Options{
		Permeability:     PermeabilityLength,
		Coordinates:      spatial.Geographic,
		LargestComponent: true,
		MinNodes:         3,
	}
}

// Extract computes the indicator row for one unit's graph. A graph without
// edges, or one that falls below MinNodes, is a DataQuality error.
func Extract(g *streetgraph.Graph, opts Options) (model.IndicatorRow, error) {
	if g == nil {
		return model.IndicatorRow{}, failure.New(failure.DataQuality, "no street graph")
	}
	geoid := g.GEOID()
	if opts.LargestComponent {
		g = g.LargestComponent()
	}
	if g.NumEdges() == 0 {
		return model.IndicatorRow{}, failure.ForUnit(failure.DataQuality, geoid,
			"street graph has no edges (%d nodes)", g.NumNodes())
	}
	if opts.MinNodes > 0 && g.NumNodes() < opts.MinNodes {
		return model.IndicatorRow{}, failure.ForUnit(failure.DataQuality, geoid,
			"street graph has %d nodes, below minimum %d", g.NumNodes(), opts.MinNodes)
	}
	for i := 0; i < g.NumEdges(); i++ {
		if l := g.Edge(i).Length; l < 0 || math.IsNaN(l) {
			return model.IndicatorRow{}, failure.ForUnit(failure.DataQuality, geoid,
				"edge %d has invalid length %g", i, l)
		}
	}

	// One all-pairs run serves both permeability and betweenness.
	wg := g.Weighted()
	paths := path.DijkstraAllPaths(wg)

	row := model.IndicatorRow{
		GEOID:               geoid,
		AvgClustering:       AverageClustering(g),
		DegreeAssortativity: DegreeAssortativity(g),
		Nodes:               g.NumNodes(),
		Edges:               g.NumEdges(),
	}
	if opts.Permeability == PermeabilityHops || !g.HasPositions() {
		row.GlobalPermeability = HopEfficiency(g)
	} else {
		row.GlobalPermeability = weightedEfficiency(g, paths, opts.Coordinates)
	}
	if g.NumEdges() > 1 {
		row.GiniEdgeBetweenness = Gini(edgeBetweenness(g, wg, paths))
	}
	return row, nil
}

// ExtractAll measures every unit on a bounded worker pool. Rows come back in
// input order for the units that succeeded; per-unit failures become
// exclusions and never abort the batch. The error is non-nil only when ctx
// is cancelled.
func ExtractAll(ctx context.Context, units []model.SpatialUnit, opts Options, workers int) ([]model.IndicatorRow, []model.Exclusion, error) {
	if workers <= 0 {
		workers = 1
	}
	log := zap.L().With(zap.String("component", "metrics"), zap.Int("units", len(units)))
	start := time.Now()

	rows := make([]model.IndicatorRow, len(units))
	ok := make([]bool, len(units))

	var mu sync.Mutex
	var excluded []model.Exclusion

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range units {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			u := units[i]
			row, err := Extract(u.Graph, opts)
			if err != nil {
				log.Warn("metrics: unit excluded", zap.String("geoid", u.GEOID), zap.Error(err))
				mu.Lock()
				excluded = append(excluded, model.ExclusionFromError(model.StageMetrics, u.GEOID, err))
				mu.Unlock()
				return nil
			}
			row.GEOID = u.GEOID
			rows[i] = row
			ok[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, eris.Wrap(err, "metrics: extract all")
	}

	out := make([]model.IndicatorRow, 0, len(units))
	for i, row := range rows {
		if ok[i] {
			out = append(out, row)
		}
	}
	sortExclusions(excluded, units)

	log.Info("metrics: extraction complete",
		zap.Int("measured", len(out)),
		zap.Int("excluded", len(excluded)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return out, excluded, nil
}

// sortExclusions orders exclusions by the input position of their unit so
// reports are stable across runs.
func sortExclusions(ex []model.Exclusion, units []model.SpatialUnit) {
	pos := make(map[string]int, len(units))
	for i, u := range units {
		pos[u.GEOID] = i
	}
	sort.SliceStable(ex, func(i, j int) bool {
		return pos[ex[i].GEOID] < pos[ex[j].GEOID]
	})
}
