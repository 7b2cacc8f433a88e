// Package tabular reads the pipeline's tabular inputs (CSV and XLSX) into
// header-addressed tables.
package tabular

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter rune // default ','
	Comment   rune // 0 = none
	// HasHeader routes the first row to HeaderCh instead of the row channel.
	HasHeader bool
	HeaderCh  chan<- []string
}

// StreamCSV reads CSV records and sends them to the returned channel with
// fields trimmed of surrounding space and any UTF-8 byte order mark removed.
// Both channels are closed when the input is exhausted or an error occurs.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		if opts.Comment != 0 {
			reader.Comment = opts.Comment
		}
		reader.FieldsPerRecord = -1

		first := true
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}
			for i, field := range record {
				record[i] = strings.TrimSpace(field)
			}

			if first {
				first = false
				if len(record) > 0 {
					record[0] = strings.TrimPrefix(record[0], "\ufeff")
				}
				if opts.HasHeader {
					if opts.HeaderCh != nil {
						select {
						case opts.HeaderCh <- record:
						case <-ctx.Done():
							errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled sending header")
							return
						}
					}
					continue
				}
			}

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}
