package pipeline

import (
	"github.com/sells-group/utri-cli/internal/boundary"
	"github.com/sells-group/utri-cli/internal/config"
	"github.com/sells-group/utri-cli/internal/failure"
	"github.com/sells-group/utri-cli/internal/gwr"
	"github.com/sells-group/utri-cli/internal/ingest"
	"github.com/sells-group/utri-cli/internal/metrics"
	"github.com/sells-group/utri-cli/internal/moran"
	"github.com/sells-group/utri-cli/internal/spatial"
	"github.com/sells-group/utri-cli/internal/trvi"
)

// UTRIVariable names the composite index as a GWR explanatory variable.
const UTRIVariable = "utri"

// Options are the resolved analysis policies of one run.
type Options struct {
	Metrics metrics.Options
	Rule    trvi.Rule

	Adjacency   spatial.Policy
	K           int
	Coordinates spatial.Coordinates
	Moran       moran.Options

	GWREnabled   bool
	GWR          gwr.Options
	GWRVariables []string

	Workers int
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		Metrics:      metrics.DefaultOptions(),
		Rule:         trvi.RuleProduct,
		Adjacency:    spatial.Queen,
		K:            6,
		Coordinates:  spatial.Geographic,
		Moran:        moran.DefaultOptions(),
		GWREnabled:   true,
		GWR:          gwr.DefaultOptions(),
		GWRVariables: []string{"global_permeability", "avg_clustering", "degree_assortativity", "gini_edge_betweenness"},
		Workers:      4,
	}
}

// FromConfig resolves the string policies of cfg. Every parse failure is a
// Configuration error.
func FromConfig(cfg *config.Config) (Options, error) {
	opts := Options{
		K:            cfg.Spatial.K,
		GWREnabled:   cfg.GWR.Enabled,
		GWRVariables: cfg.GWR.Variables,
		Workers:      cfg.Pipeline.Workers,
	}

	mode, err := metrics.ParsePermeabilityMode(cfg.Graph.Permeability)
	if err != nil {
		return opts, failure.Wrap(failure.Configuration, err)
	}
	graphCoords, err := spatial.ParseCoordinates(cfg.Graph.Coordinates)
	if err != nil {
		return opts, failure.Wrap(failure.Configuration, err)
	}
	opts.Metrics = metrics.Options{
		Permeability:     mode,
		Coordinates:      graphCoords,
		LargestComponent: cfg.Graph.LargestComponent,
		MinNodes:         cfg.Graph.MinNodes,
	}

	if opts.Rule, err = trvi.ParseRule(cfg.TRVI.Rule); err != nil {
		return opts, failure.Wrap(failure.Configuration, err)
	}
	if opts.Adjacency, err = spatial.ParsePolicy(cfg.Spatial.Adjacency); err != nil {
		return opts, failure.Wrap(failure.Configuration, err)
	}
	if opts.Coordinates, err = spatial.ParseCoordinates(cfg.Spatial.Coordinates); err != nil {
		return opts, failure.Wrap(failure.Configuration, err)
	}

	opts.Moran = moran.Options{
		Permutations: cfg.Moran.Permutations,
		Alpha:        cfg.Moran.Alpha,
		Seed:         cfg.Moran.Seed,
		Workers:      cfg.Pipeline.Workers,
	}
	if err := opts.Moran.Validate(); err != nil {
		return opts, err
	}

	kernel, err := gwr.ParseKernel(cfg.GWR.Kernel)
	if err != nil {
		return opts, failure.Wrap(failure.Configuration, err)
	}
	opts.GWR = gwr.DefaultOptions()
	opts.GWR.Kernel = kernel
	opts.GWR.Adaptive = cfg.GWR.Adaptive
	opts.GWR.Bandwidth = cfg.GWR.Bandwidth
	opts.GWR.Standardize = cfg.GWR.Standardize
	opts.GWR.Coordinates = opts.Coordinates
	opts.GWR.MaxCondition = cfg.GWR.MaxCondition
	opts.GWR.Workers = cfg.Pipeline.Workers
	return opts, nil
}

// IngestOptions maps the inputs section onto loader settings.
func IngestOptions(cfg *config.Config) (ingest.Options, error) {
	coords, err := spatial.ParseCoordinates(cfg.Graph.Coordinates)
	if err != nil {
		return ingest.Options{}, failure.Wrap(failure.Configuration, err)
	}
	in := cfg.Inputs
	return ingest.Options{
		Boundaries:      in.Boundaries,
		BoundaryOptions: boundary.Options{GEOIDField: in.GEOIDField, NameField: in.NameField},
		MHI: ingest.TableSpec{
			Path:        in.MHI,
			Sheet:       in.MHISheet,
			GEOIDColumn: in.GEOIDColumn,
			ValueColumn: in.MHIColumn,
			YearColumn:  in.MHIYearColumn,
			Year:        in.MHIYear,
		},
		LST: ingest.TableSpec{
			Path:        in.LST,
			Sheet:       in.LSTSheet,
			GEOIDColumn: in.GEOIDColumn,
			ValueColumn: in.LSTColumn,
		},
		Network: ingest.NetworkSpec{Nodes: in.Nodes, Edges: in.Edges, Coordinates: coords},
	}, nil
}
