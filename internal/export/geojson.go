// Package export writes aggregate rows to the formats downstream renderers
// consume: GeoJSON, CSV, and a PostGIS table.
package export

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/meridian-analytics/georate/internal/aggregate"
	"github.com/meridian-analytics/georate/internal/tracts"
)

// WriteGeoJSON writes rows as a FeatureCollection, one feature per row
// with a matching region geometry. Rows without geometry (the unassigned
// sentinel, denominator keys outside the fetched boundary set) have
// nothing to draw, so they are skipped here and logged; the CSV export
// carries every row.
func WriteGeoJSON(w io.Writer, rows []aggregate.Row, regions *tracts.Set) error {
	byGEOID := make(map[string]*tracts.Region, len(regions.Regions))
	for i := range regions.Regions {
		byGEOID[regions.Regions[i].GEOID] = &regions.Regions[i]
	}

	fc := geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(rows))}
	skipped := 0
	for _, row := range rows {
		region, ok := byGEOID[row.Key]
		if !ok {
			skipped++
			continue
		}

		props := map[string]any{
			"geoid":       row.Key,
			"name":        region.Name,
			"event_count": row.Count,
			"denominator": nil,
			"rate":        nil,
		}
		if row.Denominator != nil {
			props["denominator"] = *row.Denominator
		}
		if row.Rate != nil {
			props["rate"] = *row.Rate
		}

		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         row.Key,
			Geometry:   region.Geom,
			Properties: props,
		})
	}

	if skipped > 0 {
		zap.L().Debug("export: rows without geometry skipped in GeoJSON",
			zap.Int("skipped", skipped),
		)
	}

	enc := json.NewEncoder(w)
	if err := enc.Encode(&fc); err != nil {
		return eris.Wrap(err, "export: encode geojson")
	}
	return nil
}
