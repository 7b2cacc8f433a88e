package tabular

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Table is a header row plus data rows. Short rows read as empty cells.
type Table struct {
	Header []string
	Rows   [][]string
	index  map[string]int
}

// NewTable builds a table over a header and rows. Column lookups are
// case-insensitive.
func NewTable(header []string, rows [][]string) *Table {
	t := &Table{Header: header, Rows: rows, index: make(map[string]int, len(header))}
	for i, h := range header {
		key := strings.ToLower(h)
		if _, dup := t.index[key]; !dup {
			t.index[key] = i
		}
	}
	return t
}

// Column returns the index of the named column.
func (t *Table) Column(name string) (int, bool) {
	i, ok := t.index[strings.ToLower(name)]
	return i, ok
}

// RequireColumns resolves every name or reports the missing ones.
func (t *Table) RequireColumns(names ...string) ([]int, error) {
	out := make([]int, len(names))
	var missing []string
	for k, name := range names {
		i, ok := t.Column(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		out[k] = i
	}
	if len(missing) > 0 {
		return nil, eris.Errorf("tabular: missing column(s) %s (have %s)",
			strings.Join(missing, ", "), strings.Join(t.Header, ", "))
	}
	return out, nil
}

// Cell returns the value at row r, column c, or "" when the row is short.
func (t *Table) Cell(r, c int) string {
	row := t.Rows[r]
	if c < 0 || c >= len(row) {
		return ""
	}
	return row[c]
}

// Float parses the cell at row r, column c. ok is false for blank cells.
func (t *Table) Float(r, c int) (v float64, ok bool, err error) {
	s := strings.ReplaceAll(t.Cell(r, c), ",", "")
	if s == "" || strings.EqualFold(s, "na") || strings.EqualFold(s, "nan") || strings.EqualFold(s, "null") {
		return 0, false, nil
	}
	v, err = strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, eris.Wrapf(err, "tabular: row %d column %q", r+1, t.Header[c])
	}
	return v, true, nil
}

// Options configures Read.
type Options struct {
	Delimiter rune
	Sheet     string
}

// Read loads a CSV, TSV or XLSX file by extension. The first row is the
// header.
func Read(ctx context.Context, path string, opts Options) (*Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		rows, err := ReadXLSX(path, XLSXOptions{SheetName: opts.Sheet})
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, eris.Errorf("tabular: %s is empty", path)
		}
		return NewTable(rows[0], rows[1:]), nil
	case ".tsv":
		if opts.Delimiter == 0 {
			opts.Delimiter = '\t'
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "tabular: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	headerCh := make(chan []string, 1)
	rowCh, errCh := StreamCSV(ctx, f, CSVOptions{Delimiter: opts.Delimiter, HasHeader: true, HeaderCh: headerCh})

	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	for err := range errCh {
		if err != nil {
			return nil, eris.Wrapf(err, "tabular: read %s", path)
		}
	}

	select {
	case header := <-headerCh:
		return NewTable(header, rows), nil
	default:
		return nil, eris.Errorf("tabular: %s is empty", path)
	}
}
