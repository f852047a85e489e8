package events

import (
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"
)

// LoadCSV reads comma-separated rows from r and converts them to a point
// set. The first row is the header; opts.XColumn and opts.YColumn must name
// two of its columns. Output is order-preserving and the same length as the
// data rows.
func LoadCSV(r io.Reader, opts Options) (*Set, error) {
	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	if opts.Comment != 0 {
		reader.Comment = opts.Comment
	}
	reader.FieldsPerRecord = -1 // short rows surface as missing coordinates

	header, err := reader.Read()
	if err == io.EOF {
		return nil, eris.Wrap(ErrMalformedInput, "empty input")
	}
	if err != nil {
		return nil, eris.Wrap(err, "events: read header")
	}

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "events: read row")
		}
		rows = append(rows, record)
	}

	return fromRows(header, rows, opts)
}
