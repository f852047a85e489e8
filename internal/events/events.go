// Package events loads point events from tabular input (CSV, XLSX) into
// ordered geometry sets tagged with a coordinate reference system.
package events

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/meridian-analytics/georate/internal/crs"
)

// ErrMalformedInput is returned when a row is missing a coordinate column or
// a coordinate value is non-numeric. Check with eris.Is.
var ErrMalformedInput = eris.New("events: malformed input")

// Point is one event location. X and Y are in the set's reference system;
// Attrs carries every non-coordinate column unchanged.
type Point struct {
	X     float64
	Y     float64
	Attrs map[string]string
}

// Set is an ordered collection of points sharing one reference system.
type Set struct {
	CRS    crs.CRS
	Points []Point
}

// Options selects the coordinate columns and the declared reference system
// of the input.
type Options struct {
	// XColumn and YColumn name the coordinate columns in the header row.
	XColumn string
	YColumn string

	// CRS is the reference system the coordinates are expressed in.
	CRS crs.CRS

	// Delimiter overrides the CSV field separator (default ',').
	Delimiter rune

	// Comment sets the CSV comment character (0 = none).
	Comment rune

	// Sheet selects the XLSX sheet by name; empty means SheetIndex.
	Sheet string

	// SheetIndex selects the XLSX sheet by position (default 0).
	SheetIndex int
}

// fromRows converts header + data rows to a Set. Row numbers in errors are
// 1-based and count the header.
func fromRows(header []string, rows [][]string, opts Options) (*Set, error) {
	if !crs.Valid(opts.CRS) {
		return nil, eris.Wrapf(crs.ErrUnknown, "EPSG:%d", int(opts.CRS))
	}

	xIdx, yIdx := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(name) {
		case opts.XColumn:
			xIdx = i
		case opts.YColumn:
			yIdx = i
		}
	}
	if xIdx < 0 {
		return nil, eris.Wrapf(ErrMalformedInput, "coordinate column %q not in header", opts.XColumn)
	}
	if yIdx < 0 {
		return nil, eris.Wrapf(ErrMalformedInput, "coordinate column %q not in header", opts.YColumn)
	}

	set := &Set{CRS: opts.CRS, Points: make([]Point, 0, len(rows))}
	for n, row := range rows {
		rowNum := n + 2 // 1-based, after the header

		x, err := parseCoord(row, xIdx)
		if err != nil {
			return nil, eris.Wrapf(ErrMalformedInput, "row %d column %q: %v", rowNum, opts.XColumn, err)
		}
		y, err := parseCoord(row, yIdx)
		if err != nil {
			return nil, eris.Wrapf(ErrMalformedInput, "row %d column %q: %v", rowNum, opts.YColumn, err)
		}

		attrs := make(map[string]string, len(header))
		for i, name := range header {
			if i == xIdx || i == yIdx || i >= len(row) {
				continue
			}
			attrs[strings.TrimSpace(name)] = row[i]
		}

		set.Points = append(set.Points, Point{X: x, Y: y, Attrs: attrs})
	}

	return set, nil
}

func parseCoord(row []string, idx int) (float64, error) {
	if idx >= len(row) {
		return 0, eris.New("missing")
	}
	raw := strings.TrimSpace(row[idx])
	if raw == "" {
		return 0, eris.New("empty")
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, eris.Errorf("non-numeric value %q", raw)
	}
	return v, nil
}
