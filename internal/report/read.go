package report

import (
	"context"
	"math"

	"github.com/sells-group/utri-cli/internal/failure"
	"github.com/sells-group/utri-cli/internal/model"
	"github.com/sells-group/utri-cli/internal/tabular"
)

// ReadIndicators loads an indicator table written by WriteIndicators (or
// any CSV/XLSX with a geoid column and the four indicator columns). A blank
// or unparseable indicator is a DataQuality error naming the unit.
func ReadIndicators(ctx context.Context, path string) ([]model.IndicatorRow, error) {
	tbl, err := tabular.Read(ctx, path, tabular.Options{})
	if err != nil {
		return nil, err
	}
	names := []string{"geoid"}
	for _, ind := range model.Indicators {
		names = append(names, string(ind))
	}
	cols, err := tbl.RequireColumns(names...)
	if err != nil {
		return nil, failure.Wrap(failure.Configuration, err)
	}

	rows := make([]model.IndicatorRow, 0, len(tbl.Rows))
	for r := range tbl.Rows {
		row := model.IndicatorRow{GEOID: tbl.Cell(r, cols[0])}
		if row.GEOID == "" {
			continue
		}
		for k, ind := range model.Indicators {
			v, ok, err := tbl.Float(r, cols[k+1])
			if err != nil {
				return nil, failure.ForUnit(failure.DataQuality, row.GEOID, "%v", err)
			}
			if !ok {
				return nil, failure.ForUnit(failure.DataQuality, row.GEOID, "blank %s", ind)
			}
			row.SetValue(ind, v)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ReadColumns loads GEOID-keyed numeric columns. Blank cells read as NaN.
// values[k] holds column k aligned with geoids.
func ReadColumns(ctx context.Context, path, geoidColumn string, columns []string) (geoids []string, values [][]float64, err error) {
	tbl, err := tabular.Read(ctx, path, tabular.Options{})
	if err != nil {
		return nil, nil, err
	}
	cols, err := tbl.RequireColumns(append([]string{geoidColumn}, columns...)...)
	if err != nil {
		return nil, nil, failure.Wrap(failure.Configuration, err)
	}

	values = make([][]float64, len(columns))
	seen := make(map[string]bool, len(tbl.Rows))
	for r := range tbl.Rows {
		id := tbl.Cell(r, cols[0])
		if id == "" {
			continue
		}
		if seen[id] {
			return nil, nil, failure.ForUnit(failure.DataQuality, id, "duplicate row in %s", path)
		}
		seen[id] = true
		geoids = append(geoids, id)
		for k := range columns {
			v, ok, err := tbl.Float(r, cols[k+1])
			if err != nil {
				return nil, nil, failure.ForUnit(failure.DataQuality, id, "%v", err)
			}
			if !ok {
				v = math.NaN()
			}
			values[k] = append(values[k], v)
		}
	}
	return geoids, values, nil
}
