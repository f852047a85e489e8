// Package aggregate groups joined events by region and computes normalized
// rates against an external per-region denominator.
package aggregate

import (
	"sort"

	"github.com/meridian-analytics/georate/internal/spatial"
)

// UnassignedKey is the sentinel region key for points outside every region.
const UnassignedKey = "unassigned"

// Row is the aggregate for one region key. Denominator and Rate are nil
// when the denominator mapping has no entry (or the key is the unassigned
// sentinel); Rate is additionally nil when the denominator is zero. A rate
// is never computed by dividing by zero.
type Row struct {
	Key         string
	Count       int
	Denominator *float64
	Rate        *float64
}

// Options controls aggregation.
type Options struct {
	// Scale multiplies the count/denominator ratio (e.g. 1000 for a
	// per-thousand rate). Zero means 1.
	Scale float64

	// KeepUnassigned retains points outside every region under the
	// UnassignedKey sentinel instead of discarding them.
	KeepUnassigned bool
}

// Rates aggregates assignments into per-region rows. Semantics are a left
// outer join anchored on the denominator mapping: every denominator key
// produces a row, count 0 and rate 0 when it saw no events and its
// denominator is positive. Regions with events but no denominator entry
// are kept with nil denominator and nil rate so data-quality gaps stay
// visible. Output is sorted by key, with the unassigned sentinel last.
func Rates(assignments []spatial.Assignment, denominators map[string]float64, opts Options) []Row {
	scale := opts.Scale
	if scale == 0 {
		scale = 1
	}

	counts := make(map[string]int)
	unassigned := 0
	for _, a := range assignments {
		if a.GEOID == "" {
			unassigned++
			continue
		}
		counts[a.GEOID]++
	}

	keys := make(map[string]bool, len(denominators)+len(counts))
	for k := range denominators {
		keys[k] = true
	}
	for k := range counts {
		keys[k] = true
	}

	rows := make([]Row, 0, len(keys)+1)
	for key := range keys {
		row := Row{Key: key, Count: counts[key]}
		if denom, ok := denominators[key]; ok {
			d := denom
			row.Denominator = &d
			if d != 0 {
				rate := float64(row.Count) / d * scale
				row.Rate = &rate
			}
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Key < rows[j].Key })

	if opts.KeepUnassigned {
		rows = append(rows, Row{Key: UnassignedKey, Count: unassigned})
	}

	return rows
}

// Summary holds the run-level counts derived from a set of rows.
type Summary struct {
	Regions        int // rows with a denominator entry
	Events         int // total counted events, unassigned included
	Unassigned     int
	MissingDenom   int // regions with events but no denominator
	ZeroDenom      int // regions whose denominator is zero
	RegionsNoEvent int // denominator regions that saw no events
}

// Summarize computes run-level counts from aggregate rows.
func Summarize(rows []Row) Summary {
	var s Summary
	for _, r := range rows {
		if r.Key == UnassignedKey {
			s.Unassigned = r.Count
			s.Events += r.Count
			continue
		}
		s.Events += r.Count
		if r.Denominator == nil {
			s.MissingDenom++
			continue
		}
		s.Regions++
		if *r.Denominator == 0 {
			s.ZeroDenom++
		}
		if r.Count == 0 {
			s.RegionsNoEvent++
		}
	}
	return s
}
