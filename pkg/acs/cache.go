package acs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CacheStore persists estimate payloads keyed by query.
type CacheStore interface {
	GetEstimate(ctx context.Context, key string) ([]byte, bool, error)
	PutEstimate(ctx context.Context, key string, payload []byte) error
}

// CachedClient wraps a Client with a time-unbounded estimate cache: a
// published ACS release never changes, so entries do not expire. Refresh
// forces a bypass.
type CachedClient struct {
	client  Client
	store   CacheStore
	Refresh bool
}

// NewCachedClient wraps client with the given cache store.
func NewCachedClient(client Client, store CacheStore) *CachedClient {
	return &CachedClient{client: client, store: store}
}

// CacheKey returns the deterministic cache key for a query.
func CacheKey(q Query) string {
	return fmt.Sprintf("%s:%d:%s:%s:%s",
		q.Dataset, q.Year, q.Variable, q.StateFIPS, strings.Join(q.CountyFIPS, "+"))
}

// TractEstimates implements Client with read-through caching. Cache write
// failures are logged, not fatal.
func (c *CachedClient) TractEstimates(ctx context.Context, q Query) (map[string]float64, error) {
	key := CacheKey(q)
	log := zap.L().With(zap.String("component", "acs.cache"), zap.String("key", key))

	if !c.Refresh {
		payload, ok, err := c.store.GetEstimate(ctx, key)
		if err != nil {
			return nil, eris.Wrap(err, "acs: read cache")
		}
		if ok {
			var estimates map[string]float64
			if err := json.Unmarshal(payload, &estimates); err != nil {
				return nil, eris.Wrap(err, "acs: decode cached estimates")
			}
			log.Debug("estimate cache hit", zap.Int("tracts", len(estimates)))
			return estimates, nil
		}
	}

	estimates, err := c.client.TractEstimates(ctx, q)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(estimates)
	if err != nil {
		return nil, eris.Wrap(err, "acs: encode estimates")
	}
	if err := c.store.PutEstimate(ctx, key, payload); err != nil {
		log.Warn("estimate cache write failed", zap.Error(err))
	}

	return estimates, nil
}
