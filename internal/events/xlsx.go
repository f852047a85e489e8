package events

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// LoadXLSX reads a spreadsheet and converts one sheet to a point set. The
// sheet is selected by opts.Sheet (name) or opts.SheetIndex; its first row
// is the header. Shares row conversion with LoadCSV.
func LoadXLSX(path string, opts Options) (*Set, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "events: open xlsx")
	}

	sheet, err := selectSheet(f, opts)
	if err != nil {
		return nil, err
	}

	if len(sheet.Rows) == 0 {
		return nil, eris.Wrap(ErrMalformedInput, "empty sheet")
	}

	header := rowStrings(sheet.Rows[0])
	rows := make([][]string, 0, len(sheet.Rows)-1)
	for _, row := range sheet.Rows[1:] {
		rows = append(rows, rowStrings(row))
	}

	return fromRows(header, rows, opts)
}

func selectSheet(f *xlsx.File, opts Options) (*xlsx.Sheet, error) {
	if opts.Sheet != "" {
		sheet, ok := f.Sheet[opts.Sheet]
		if !ok {
			return nil, eris.Errorf("events: sheet %q not found", opts.Sheet)
		}
		return sheet, nil
	}
	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("events: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}
	return f.Sheets[opts.SheetIndex], nil
}

func rowStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for i, cell := range row.Cells {
		cells[i] = cell.String()
	}
	return cells
}
