package ingest

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/utri-cli/internal/boundary"
	"github.com/sells-group/utri-cli/internal/failure"
	"github.com/sells-group/utri-cli/internal/model"
)

// Options locates every input of a pipeline run.
type Options struct {
	Boundaries      string
	BoundaryOptions boundary.Options
	MHI             TableSpec
	LST             TableSpec
	Network         NetworkSpec
}

// Inputs are the joined spatial units plus the units rejected while loading.
// Units keep boundary file order; a unit without a usable street graph has a
// nil Graph and a matching exclusion.
type Inputs struct {
	Units      []model.SpatialUnit
	Exclusions []model.Exclusion
}

// WithGraphs returns the units that carry a street graph.
func (in *Inputs) WithGraphs() []model.SpatialUnit {
	out := make([]model.SpatialUnit, 0, len(in.Units))
	for _, u := range in.Units {
		if u.Graph != nil {
			out = append(out, u)
		}
	}
	return out
}

// Load reads all inputs and joins them on GEOID. Boundaries define the
// cohort; table rows for unknown GEOIDs are ignored. The income and
// temperature tables are skipped when their path is empty.
func Load(ctx context.Context, opts Options) (*Inputs, error) {
	log := zap.L().With(zap.String("component", "ingest"))

	if opts.Boundaries == "" {
		return nil, failure.New(failure.Configuration, "ingest: boundaries path is empty")
	}
	features, err := boundary.Read(opts.Boundaries, opts.BoundaryOptions)
	if err != nil {
		return nil, err
	}

	var mhi map[string]*float64
	if opts.MHI.Path != "" {
		if mhi, err = LoadMHI(ctx, opts.MHI); err != nil {
			return nil, err
		}
	}
	var lst map[string]float64
	if opts.LST.Path != "" {
		if lst, err = LoadLST(ctx, opts.LST); err != nil {
			return nil, err
		}
	}
	graphs, exclusions, err := LoadNetwork(ctx, opts.Network, features)
	if err != nil {
		return nil, err
	}

	rejected := make(map[string]bool, len(exclusions))
	for _, ex := range exclusions {
		rejected[ex.GEOID] = true
	}

	in := &Inputs{Units: make([]model.SpatialUnit, len(features))}
	var noIncome, noTemp int
	for i, f := range features {
		u := model.SpatialUnit{
			GEOID:    f.GEOID,
			Name:     f.Name,
			Geometry: f.Geometry,
			Centroid: f.Centroid,
			MHI:      mhi[f.GEOID],
			Graph:    graphs[f.GEOID],
		}
		if u.MHI == nil {
			noIncome++
		}
		if v, ok := lst[f.GEOID]; ok {
			u.LST = &v
		} else {
			noTemp++
		}
		if u.Graph == nil && !rejected[f.GEOID] {
			exclusions = append(exclusions, model.ExclusionFromError(model.StageIngest, f.GEOID,
				failure.ForUnit(failure.DataQuality, f.GEOID, "no street network nodes inside the unit")))
		}
		in.Units[i] = u
	}
	order := make(map[string]int, len(features))
	for i, f := range features {
		order[f.GEOID] = i
	}
	sort.SliceStable(exclusions, func(i, j int) bool { return order[exclusions[i].GEOID] < order[exclusions[j].GEOID] })
	in.Exclusions = exclusions

	log.Info("inputs joined",
		zap.Int("units", len(in.Units)),
		zap.Int("with_graph", len(graphs)),
		zap.Int("missing_mhi", noIncome),
		zap.Int("missing_lst", noTemp),
		zap.Int("excluded", len(exclusions)),
	)
	return in, nil
}
