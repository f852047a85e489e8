package tracts

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/meridian-analytics/georate/internal/crs"
)

// CacheStore persists boundary payloads keyed by query. Payloads are opaque
// bytes; the codec lives here.
type CacheStore interface {
	GetBoundary(ctx context.Context, key string) ([]byte, bool, error)
	PutBoundary(ctx context.Context, key string, payload []byte) error
}

// CachedSource wraps a Source with a time-unbounded boundary cache: tract
// boundaries are static reference data for a given vintage, so entries
// never expire. Refresh forces a bypass.
type CachedSource struct {
	src     Source
	store   CacheStore
	Refresh bool
}

// NewCachedSource wraps src with the given cache store.
func NewCachedSource(src Source, store CacheStore) *CachedSource {
	return &CachedSource{src: src, store: store}
}

// CacheKey returns the deterministic cache key for a query.
func CacheKey(q Query) string {
	return fmt.Sprintf("tract:%d:%s:%s", q.Year, q.StateFIPS, strings.Join(q.CountyFIPS, "+"))
}

// Tracts implements Source. A cache hit decodes the stored payload; a miss
// delegates to the wrapped source and stores the result. Cache write
// failures are logged, not fatal: the fetched data is still good.
func (c *CachedSource) Tracts(ctx context.Context, q Query) (*Set, error) {
	key := CacheKey(q)
	log := zap.L().With(zap.String("component", "tracts.cache"), zap.String("key", key))

	if !c.Refresh {
		payload, ok, err := c.store.GetBoundary(ctx, key)
		if err != nil {
			return nil, eris.Wrap(err, "tracts: read cache")
		}
		if ok {
			set, err := decodeSet(payload)
			if err != nil {
				return nil, eris.Wrap(err, "tracts: decode cached boundaries")
			}
			log.Debug("boundary cache hit", zap.Int("regions", len(set.Regions)))
			return set, nil
		}
	}

	set, err := c.src.Tracts(ctx, q)
	if err != nil {
		return nil, err
	}

	payload, err := encodeSet(set)
	if err != nil {
		return nil, eris.Wrap(err, "tracts: encode boundaries")
	}
	if err := c.store.PutBoundary(ctx, key, payload); err != nil {
		log.Warn("boundary cache write failed", zap.Error(err))
	}

	return set, nil
}

// encodeSet serializes a region set as a GeoJSON FeatureCollection.
func encodeSet(set *Set) ([]byte, error) {
	fc := geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(set.Regions))}
	for i := range set.Regions {
		r := &set.Regions[i]
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:       r.GEOID,
			Geometry: r.Geom,
			Properties: map[string]any{
				"geoid":  r.GEOID,
				"name":   r.Name,
				"aland":  r.ALand,
				"awater": r.AWater,
				"crs":    set.CRS.String(),
			},
		})
	}
	return json.Marshal(&fc)
}

// decodeSet parses a cached FeatureCollection back into a region set.
func decodeSet(payload []byte) (*Set, error) {
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(payload, &fc); err != nil {
		return nil, eris.Wrap(err, "unmarshal feature collection")
	}

	set := &Set{CRS: crs.NAD83, Regions: make([]Region, 0, len(fc.Features))}
	for _, f := range fc.Features {
		mp, ok := f.Geometry.(*geom.MultiPolygon)
		if !ok {
			return nil, eris.Errorf("feature %v: geometry is %T, want MultiPolygon", f.ID, f.Geometry)
		}
		r := Region{Geom: mp}
		if s, ok := f.Properties["geoid"].(string); ok {
			r.GEOID = s
		}
		if s, ok := f.Properties["name"].(string); ok {
			r.Name = s
		}
		if v, ok := f.Properties["aland"].(float64); ok {
			r.ALand = int64(v)
		}
		if v, ok := f.Properties["awater"].(float64); ok {
			r.AWater = int64(v)
		}
		if s, ok := f.Properties["crs"].(string); ok {
			if parsed, err := crs.Parse(s); err == nil {
				set.CRS = parsed
			}
		}
		set.Regions = append(set.Regions, r)
	}

	sortRegions(set.Regions)
	return set, nil
}
