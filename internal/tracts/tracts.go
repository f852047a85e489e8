// Package tracts supplies census-tract boundary polygons from TIGER/Line
// shapefiles, with a disk-backed cache so the network is hit at most once
// per (year, state, county) query.
package tracts

import (
	"context"
	"sort"

	"github.com/twpayne/go-geom"

	"github.com/meridian-analytics/georate/internal/crs"
)

// Region is one census tract: a GEOID key, descriptive attributes, and the
// boundary geometry. Treated as read-only once loaded.
type Region struct {
	// GEOID is the 11-digit tract identifier (state + county + tract).
	GEOID string
	// Name is the human-readable tract label (NAMELSAD).
	Name string
	// ALand and AWater are land and water area in square meters.
	ALand  int64
	AWater int64
	// Geom is the tract boundary. SRID is flagged on the geometry; the
	// declared reference system lives on the Set.
	Geom *geom.MultiPolygon
}

// Set is an ordered collection of regions sharing one reference system.
// Regions are sorted by GEOID so downstream behavior is deterministic.
type Set struct {
	CRS     crs.CRS
	Regions []Region
}

// sortRegions orders regions by GEOID in place.
func sortRegions(regions []Region) {
	sort.Slice(regions, func(i, j int) bool {
		return regions[i].GEOID < regions[j].GEOID
	})
}

// Query identifies one boundary fetch: the TIGER vintage, a state, and an
// optional county filter.
type Query struct {
	// Year is the TIGER/Line vintage, e.g. 2023.
	Year int
	// StateFIPS is the 2-digit state code, e.g. "42".
	StateFIPS string
	// CountyFIPS optionally restricts the result to these 3-digit county
	// codes within the state. Empty means the whole state.
	CountyFIPS []string
}

// Source supplies tract boundaries for a query. Implementations may be
// slow and network-bound; callers invoke a Source at most once per
// pipeline run and treat the result as immutable.
type Source interface {
	Tracts(ctx context.Context, q Query) (*Set, error)
}
