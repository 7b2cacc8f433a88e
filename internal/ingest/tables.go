// Package ingest joins the pipeline's external inputs (boundaries, income,
// surface temperature and street networks) into spatial units.
package ingest

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/utri-cli/internal/failure"
	"github.com/sells-group/utri-cli/internal/tabular"
)

// TableSpec locates a GEOID-keyed value column in a CSV, TSV or XLSX file.
type TableSpec struct {
	Path        string
	Sheet       string
	GEOIDColumn string
	ValueColumn string
	// YearColumn and Year select one vintage of a multi-year table. With
	// Year zero the latest year per GEOID is kept.
	YearColumn string
	Year       int
}

// NormalizeGEOID strips a Census summary-level prefix such as "1400000US".
func NormalizeGEOID(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "US"); i >= 0 {
		return s[i+2:]
	}
	return s
}

type keyedValue struct {
	geoid string
	year  int
	value float64
	ok    bool
}

// readKeyed reads (GEOID, year, value) triples and resolves multi-year
// tables to one row per GEOID. When the GEOID column is absent, Census API
// state, county and tract columns are concatenated instead.
func readKeyed(ctx context.Context, spec TableSpec, log *zap.Logger) (map[string]keyedValue, error) {
	if spec.Path == "" {
		return nil, failure.New(failure.Configuration, "ingest: table path is empty")
	}
	tbl, err := tabular.Read(ctx, spec.Path, tabular.Options{Sheet: spec.Sheet})
	if err != nil {
		return nil, err
	}

	geoidCol := spec.GEOIDColumn
	if geoidCol == "" {
		geoidCol = "GEOID"
	}
	geoid, err := geoidResolver(tbl, geoidCol)
	if err != nil {
		return nil, failure.Wrap(failure.Configuration, err)
	}
	valueIdx, err := tbl.RequireColumns(spec.ValueColumn)
	if err != nil {
		return nil, failure.Wrap(failure.Configuration, err)
	}

	yearCol := spec.YearColumn
	if yearCol == "" {
		yearCol = "Year"
	}
	yearIdx, hasYear := tbl.Column(yearCol)
	if spec.Year != 0 && !hasYear {
		return nil, failure.New(failure.Configuration, "ingest: %s has no %q column to filter year %d", spec.Path, yearCol, spec.Year)
	}

	out := make(map[string]keyedValue, len(tbl.Rows))
	var invalid int
	for r := range tbl.Rows {
		id := geoid(r)
		if id == "" {
			continue
		}
		kv := keyedValue{geoid: id}
		if hasYear {
			kv.year, _ = strconv.Atoi(tbl.Cell(r, yearIdx))
			if spec.Year != 0 && kv.year != spec.Year {
				continue
			}
		}
		v, ok, err := tbl.Float(r, valueIdx[0])
		if err != nil {
			invalid++
			log.Debug("unparseable value treated as missing", zap.String("geoid", id), zap.Error(err))
		}
		kv.value, kv.ok = v, ok && err == nil

		prev, dup := out[id]
		switch {
		case !dup, kv.year > prev.year:
			out[id] = kv
		case kv.year == prev.year:
			return nil, failure.ForUnit(failure.DataQuality, id, "ingest: duplicate row in %s", spec.Path)
		}
	}
	if invalid > 0 {
		log.Warn("unparseable values treated as missing", zap.String("path", spec.Path), zap.Int("rows", invalid))
	}
	return out, nil
}

func geoidResolver(tbl *tabular.Table, geoidCol string) (func(r int) string, error) {
	if i, ok := tbl.Column(geoidCol); ok {
		return func(r int) string { return NormalizeGEOID(tbl.Cell(r, i)) }, nil
	}
	cols, err := tbl.RequireColumns("state", "county", "tract")
	if err != nil {
		return nil, err
	}
	return func(r int) string {
		return tbl.Cell(r, cols[0]) + tbl.Cell(r, cols[1]) + tbl.Cell(r, cols[2])
	}, nil
}

// LoadMHI reads median household income per GEOID. Blank cells and negative
// ACS annotation sentinels (-666666666 and friends) load as nil.
func LoadMHI(ctx context.Context, spec TableSpec) (map[string]*float64, error) {
	if spec.ValueColumn == "" {
		spec.ValueColumn = "Median_Household_Income"
	}
	log := zap.L().With(zap.String("component", "ingest"), zap.String("table", "mhi"))
	rows, err := readKeyed(ctx, spec, log)
	if err != nil {
		return nil, err
	}

	out := make(map[string]*float64, len(rows))
	var suppressed int
	for id, kv := range rows {
		if !kv.ok || kv.value < 0 {
			suppressed++
			out[id] = nil
			continue
		}
		v := kv.value
		out[id] = &v
	}
	log.Info("income table loaded", zap.Int("units", len(out)), zap.Int("missing", suppressed))
	return out, nil
}

// LoadLST reads mean land-surface temperature per GEOID. Blank cells are
// left out of the map.
func LoadLST(ctx context.Context, spec TableSpec) (map[string]float64, error) {
	if spec.ValueColumn == "" {
		spec.ValueColumn = "LST_C_mean"
	}
	log := zap.L().With(zap.String("component", "ingest"), zap.String("table", "lst"))
	rows, err := readKeyed(ctx, spec, log)
	if err != nil {
		return nil, err
	}

	out := make(map[string]float64, len(rows))
	for id, kv := range rows {
		if kv.ok {
			out[id] = kv.value
		}
	}
	log.Info("temperature table loaded", zap.Int("units", len(out)), zap.Int("missing", len(rows)-len(out)))
	return out, nil
}
