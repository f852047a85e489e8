package tracts

import (
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"

	"github.com/meridian-analytics/georate/internal/crs"
)

// ParseShapefile reads a TIGER tract shapefile and returns a region set.
// DBF text attributes are decoded from Latin-1 (the TIGER encoding). An
// optional county filter keeps only records whose COUNTYFP matches.
// Records with missing or malformed geometry are skipped and counted, not
// fatal: TIGER files occasionally carry degenerate rings.
func ParseShapefile(shpPath string, counties []string) (*Set, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "tracts: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	fieldIdx := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToUpper(name)] = i
	}

	countyFilter := make(map[string]bool, len(counties))
	for _, c := range counties {
		countyFilter[c] = true
	}

	var regions []Region
	var skipped int

	for reader.Next() {
		_, shape := reader.Shape()

		if len(countyFilter) > 0 {
			county := attribute(reader, fieldIdx, "COUNTYFP")
			if !countyFilter[county] {
				continue
			}
		}

		poly, ok := shape.(*shp.Polygon)
		if !ok || poly == nil {
			skipped++
			continue
		}
		mp := polygonToMultiPolygon(poly)
		if mp == nil {
			skipped++
			continue
		}

		regions = append(regions, Region{
			GEOID:  attribute(reader, fieldIdx, "GEOID"),
			Name:   attribute(reader, fieldIdx, "NAMELSAD"),
			ALand:  attributeInt(reader, fieldIdx, "ALAND"),
			AWater: attributeInt(reader, fieldIdx, "AWATER"),
			Geom:   mp,
		})
	}

	if skipped > 0 {
		zap.L().Debug("tracts: skipped shapefile records",
			zap.String("path", shpPath),
			zap.Int("skipped", skipped),
		)
	}

	sortRegions(regions)
	// TIGER ships tract boundaries in NAD 83.
	return &Set{CRS: crs.NAD83, Regions: regions}, nil
}

// attribute reads a named DBF field, decoding Latin-1 text.
func attribute(reader *shp.Reader, fieldIdx map[string]int, name string) string {
	idx, ok := fieldIdx[name]
	if !ok {
		return ""
	}
	raw := strings.TrimRight(reader.Attribute(idx), "\x00")
	decoded, err := charmap.ISO8859_1.NewDecoder().String(raw)
	if err != nil {
		decoded = raw
	}
	return strings.TrimSpace(decoded)
}

func attributeInt(reader *shp.Reader, fieldIdx map[string]int, name string) int64 {
	v, err := strconv.ParseInt(attribute(reader, fieldIdx, name), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// polygonToMultiPolygon converts a shapefile Polygon to a geom.MultiPolygon.
// Shapefile parts wind clockwise for shells and counterclockwise for holes;
// each hole is attached to the most recent shell, which matches the TIGER
// part ordering.
func polygonToMultiPolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	var current *geom.Polygon

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		var end int32
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		} else {
			end = int32(len(p.Points))
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}
		ring := geom.NewLinearRingFlat(geom.XY, flat)

		if current == nil || clockwise(ring) {
			if current != nil {
				if err := mp.Push(current); err != nil {
					zap.L().Debug("tracts: skipping malformed polygon", zap.Error(err))
				}
			}
			current = geom.NewPolygon(geom.XY)
			if err := current.Push(ring); err != nil {
				zap.L().Debug("tracts: skipping malformed shell", zap.Int32("part", i), zap.Error(err))
				current = nil
			}
			continue
		}

		if err := current.Push(ring); err != nil {
			zap.L().Debug("tracts: skipping malformed hole", zap.Int32("part", i), zap.Error(err))
		}
	}
	if current != nil {
		if err := mp.Push(current); err != nil {
			zap.L().Debug("tracts: skipping malformed polygon", zap.Error(err))
		}
	}

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

// clockwise reports whether a ring's signed area is negative (shapefile
// shell winding).
func clockwise(ring *geom.LinearRing) bool {
	flat := ring.FlatCoords()
	var sum float64
	for i := 0; i+3 < len(flat); i += 2 {
		sum += (flat[i+2] - flat[i]) * (flat[i+3] + flat[i+1])
	}
	return sum > 0
}
