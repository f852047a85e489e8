package acs

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	data map[string][]byte
	puts int
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[string][]byte{}}
}

func (s *fakeStore) GetEstimate(ctx context.Context, key string) ([]byte, bool, error) {
	p, ok := s.data[key]
	return p, ok, nil
}

func (s *fakeStore) PutEstimate(ctx context.Context, key string, payload []byte) error {
	s.puts++
	s.data[key] = payload
	return nil
}

type fakeClient struct {
	calls     int
	estimates map[string]float64
	err       error
}

func (c *fakeClient) TractEstimates(ctx context.Context, q Query) (map[string]float64, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.estimates, nil
}

func TestCachedClient_MissFetchesAndStores(t *testing.T) {
	inner := &fakeClient{estimates: map[string]float64{"42101000100": 4963}}
	store := newFakeStore()
	c := NewCachedClient(inner, store)

	got, err := c.TractEstimates(context.Background(), testQuery())
	require.NoError(t, err)
	assert.Equal(t, inner.estimates, got)
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, 1, store.puts)

	// Second call hits the cache.
	got, err = c.TractEstimates(context.Background(), testQuery())
	require.NoError(t, err)
	assert.Equal(t, inner.estimates, got)
	assert.Equal(t, 1, inner.calls)
}

func TestCachedClient_RefreshBypassesCache(t *testing.T) {
	inner := &fakeClient{estimates: map[string]float64{"42101000100": 1}}
	store := newFakeStore()
	c := NewCachedClient(inner, store)

	_, err := c.TractEstimates(context.Background(), testQuery())
	require.NoError(t, err)

	c.Refresh = true
	inner.estimates = map[string]float64{"42101000100": 2}
	got, err := c.TractEstimates(context.Background(), testQuery())
	require.NoError(t, err)
	assert.Equal(t, 2.0, got["42101000100"])
	assert.Equal(t, 2, inner.calls)
}

func TestCachedClient_FetchErrorPropagates(t *testing.T) {
	inner := &fakeClient{err: eris.New("api down")}
	c := NewCachedClient(inner, newFakeStore())

	_, err := c.TractEstimates(context.Background(), testQuery())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api down")
}

func TestCacheKey_Deterministic(t *testing.T) {
	q := testQuery()
	assert.Equal(t, "acs/acs5:2022:B01003_001E:42:101", CacheKey(q))

	q.CountyFIPS = []string{"101", "045"}
	assert.Equal(t, "acs/acs5:2022:B01003_001E:42:101+045", CacheKey(q))
}
