//go:build !integration

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/utri-cli/internal/config"
)

// inputs are the file paths of a generated study area.
type inputs struct {
	Boundaries string
	Nodes      string
	Edges      string
	MHI        string
	LST        string
}

// writeGrid lays out a 4x4 block of unit-square tracts t00..t15, each with
// a ladder-shaped street network, plus income and temperature tables. Tract
// t05 has no income and t10 has no temperature.
func writeGrid(t *testing.T, dir string) inputs {
	t.Helper()
	var features []string
	nodes := []string{"node_id,x,y"}
	edges := []string{"u,v,length,highway"}
	mhi := []string{"GEOID,Median_Household_Income"}
	lst := []string{"GEOID,LST_C_mean"}

	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			i := r*4 + c
			geoid := fmt.Sprintf("t%02d", i)
			x, y := float64(c), float64(r)
			features = append(features, fmt.Sprintf(
				`{"type":"Feature","properties":{"GEOID":%q,"NAMELSAD":"Tract %s"},"geometry":{"type":"Polygon","coordinates":[[[%g,%g],[%g,%g],[%g,%g],[%g,%g],[%g,%g]]]}}`,
				geoid, geoid, x, y, x+1, y, x+1, y+1, x, y+1, x, y))

			rungs := 2 + i%4
			for k := 0; k < rungs; k++ {
				ky := y + 0.1 + 0.8*float64(k)/float64(rungs-1)
				nodes = append(nodes,
					fmt.Sprintf("%s-l%d,%g,%g", geoid, k, x+0.2, ky),
					fmt.Sprintf("%s-r%d,%g,%g", geoid, k, x+0.8, ky))
				edges = append(edges, fmt.Sprintf("%s-l%d,%s-r%d,,residential", geoid, k, geoid, k))
				if k > 0 {
					edges = append(edges,
						fmt.Sprintf("%s-l%d,%s-l%d,,residential", geoid, k-1, geoid, k),
						fmt.Sprintf("%s-r%d,%s-r%d,,residential", geoid, k-1, geoid, k))
				}
			}
			if i%3 == 0 {
				edges = append(edges, fmt.Sprintf("%s-l0,%s-r1,,residential", geoid, geoid))
			}

			if i != 5 {
				mhi = append(mhi, fmt.Sprintf("%s,%g", geoid, 30000+4000*float64((i*7)%16)))
			}
			if i != 10 {
				lst = append(lst, fmt.Sprintf("%s,%g", geoid, 30+0.4*x+0.3*y+0.1*float64(i%3)))
			}
		}
	}

	write := func(name string, lines []string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
		return path
	}
	return inputs{
		Boundaries: write("tracts.geojson", []string{`{"type":"FeatureCollection","features":[` + strings.Join(features, ",") + `]}`}),
		Nodes:      write("nodes.csv", nodes),
		Edges:      write("edges.csv", edges),
		MHI:        write("mhi.csv", mhi),
		LST:        write("lst.csv", lst),
	}
}

// testConfig mirrors the configuration defaults with planar coordinates, a
// short permutation test and a SQLite store in dir.
func testConfig(dir string, in inputs) *config.Config {
	return &config.Config{
		Inputs: config.InputsConfig{
			Boundaries:    in.Boundaries,
			GEOIDField:    "GEOID",
			NameField:     "NAMELSAD",
			Nodes:         in.Nodes,
			Edges:         in.Edges,
			MHI:           in.MHI,
			MHIColumn:     "Median_Household_Income",
			MHIYearColumn: "Year",
			LST:           in.LST,
			LSTColumn:     "LST_C_mean",
			GEOIDColumn:   "GEOID",
		},
		Graph: config.GraphConfig{
			Permeability:     "length",
			Coordinates:      "projected",
			LargestComponent: true,
			MinNodes:         3,
		},
		TRVI:    config.TRVIConfig{Rule: "product"},
		Spatial: config.SpatialConfig{Adjacency: "queen", K: 6, Coordinates: "projected"},
		Moran:   config.MoranConfig{Permutations: 99, Alpha: 0.05, Seed: 20240601},
		GWR: config.GWRConfig{
			Enabled:      true,
			Kernel:       "bisquare",
			Adaptive:     true,
			Standardize:  true,
			Variables:    []string{"utri"},
			MaxCondition: 1e10,
		},
		Pipeline: config.PipelineConfig{Workers: 2},
		Output:   config.OutputConfig{Dir: filepath.Join(dir, "out"), Format: "json", TopN: 5},
		Store:    config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(dir, "utri.db")},
		Server:   config.ServerConfig{Port: 8080, AllowedOrigins: []string{"*"}, CacheEntries: 8},
		Log:      config.LogConfig{Level: "info", Format: "json"},
	}
}
