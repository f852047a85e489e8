package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/meridian-analytics/georate/internal/aggregate"
	"github.com/meridian-analytics/georate/internal/crs"
	"github.com/meridian-analytics/georate/internal/store"
	"github.com/meridian-analytics/georate/internal/tracts"
	"github.com/meridian-analytics/georate/pkg/acs"
)

type stubTracts struct {
	set   *tracts.Set
	err   error
	calls int
}

func (s *stubTracts) Tracts(ctx context.Context, q tracts.Query) (*tracts.Set, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.set, nil
}

type stubACS struct {
	estimates map[string]float64
	err       error
	calls     int
}

func (s *stubACS) TractEstimates(ctx context.Context, q acs.Query) (map[string]float64, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.estimates, nil
}

func square(x0, y0, x1, y1 float64) *geom.MultiPolygon {
	flat := []float64{x0, y0, x1, y0, x1, y1, x0, y1, x0, y0}
	return geom.NewMultiPolygonFlat(geom.XY, flat, [][]int{{len(flat)}})
}

func testRegions() *tracts.Set {
	return &tracts.Set{
		CRS: crs.WGS84,
		Regions: []tracts.Region{
			{GEOID: "42101000100", Name: "Census Tract 1", Geom: square(0, 0, 1, 1)},
			{GEOID: "42101000200", Name: "Census Tract 2", Geom: square(1, 0, 2, 1)},
		},
	}
}

func writeEventsCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.csv")
	content := "id,lon,lat\n" +
		"1,0.5,0.5\n" + // tract 1
		"2,0.2,0.2\n" + // tract 1
		"3,1.5,0.5\n" + // tract 2
		"4,9.0,9.0\n" // outside
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testParams(input string) Params {
	return Params{
		InputPath: input,
		XColumn:   "lon",
		YColumn:   "lat",
		InputCRS:  crs.WGS84,
		TargetCRS: crs.WGS84,
		Boundary:  tracts.Query{Year: 2023, StateFIPS: "42", CountyFIPS: []string{"101"}},
		Denominator: acs.Query{
			Year: 2022, Dataset: "acs/acs5", Variable: "B01003_001E", StateFIPS: "42",
		},
		Scale:          1000,
		KeepUnassigned: true,
	}
}

func testPipeline() (*Pipeline, *stubTracts, *stubACS) {
	ts := &stubTracts{set: testRegions()}
	as := &stubACS{estimates: map[string]float64{
		"42101000100": 10,
		"42101000200": 20,
	}}
	return &Pipeline{Tracts: ts, ACS: as}, ts, as
}

func rowByKey(t *testing.T, rows []aggregate.Row, key string) aggregate.Row {
	t.Helper()
	for _, r := range rows {
		if r.Key == key {
			return r
		}
	}
	t.Fatalf("no row %q", key)
	return aggregate.Row{}
}

func TestRun_EndToEnd(t *testing.T) {
	p, ts, as := testPipeline()

	result, err := p.Run(context.Background(), testParams(writeEventsCSV(t)))
	require.NoError(t, err)

	// Each external source invoked exactly once.
	assert.Equal(t, 1, ts.calls)
	assert.Equal(t, 1, as.calls)

	r1 := rowByKey(t, result.Rows, "42101000100")
	assert.Equal(t, 2, r1.Count)
	require.NotNil(t, r1.Rate)
	assert.Equal(t, 200.0, *r1.Rate)

	r2 := rowByKey(t, result.Rows, "42101000200")
	assert.Equal(t, 1, r2.Count)
	require.NotNil(t, r2.Rate)
	assert.Equal(t, 50.0, *r2.Rate)

	u := rowByKey(t, result.Rows, aggregate.UnassignedKey)
	assert.Equal(t, 1, u.Count)

	assert.Equal(t, 4, result.Summary.Events)
	assert.Equal(t, 1, result.Summary.Unassigned)

	// Geometry reference travels with the rows.
	region := result.Region("42101000100")
	require.NotNil(t, region)
	assert.Equal(t, "Census Tract 1", region.Name)
	assert.Nil(t, result.Region("nope"))
}

func TestRun_Idempotent(t *testing.T) {
	p, _, _ := testPipeline()
	params := testParams(writeEventsCSV(t))

	first, err := p.Run(context.Background(), params)
	require.NoError(t, err)
	second, err := p.Run(context.Background(), params)
	require.NoError(t, err)

	assert.Equal(t, first.Rows, second.Rows)
}

func TestRun_BoundaryFetchFailureAborts(t *testing.T) {
	p, ts, as := testPipeline()
	ts.err = eris.New("census.gov unreachable")

	_, err := p.Run(context.Background(), testParams(writeEventsCSV(t)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
	assert.Equal(t, 0, as.calls, "denominator fetch should not run after boundary failure")
}

func TestRun_DenominatorFetchFailureAborts(t *testing.T) {
	p, _, as := testPipeline()
	as.err = eris.New("api.census.gov unreachable")

	_, err := p.Run(context.Background(), testParams(writeEventsCSV(t)))
	require.Error(t, err)
}

func TestRun_MalformedInputAborts(t *testing.T) {
	p, ts, _ := testPipeline()

	path := filepath.Join(t.TempDir(), "events.csv")
	require.NoError(t, os.WriteFile(path, []byte("id,lon,lat\n1,bogus,0.5\n"), 0o644))

	_, err := p.Run(context.Background(), testParams(path))
	require.Error(t, err)
	assert.Equal(t, 0, ts.calls, "no fetches after a load failure")
}

func TestRun_UnsupportedFormat(t *testing.T) {
	p, _, _ := testPipeline()
	params := testParams("events.parquet")

	_, err := p.Run(context.Background(), params)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported input format")
}

func TestRun_RecordsHistory(t *testing.T) {
	p, _, _ := testPipeline()

	s, err := store.New(filepath.Join(t.TempDir(), "georate.db"))
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Migrate(context.Background()))
	p.Store = s

	result, err := p.Run(context.Background(), testParams(writeEventsCSV(t)))
	require.NoError(t, err)
	assert.NotEmpty(t, result.RunID)

	runs, err := s.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.RunStatusComplete, runs[0].Status)
	assert.Equal(t, 4, runs[0].Points)
	assert.Equal(t, 3, runs[0].Matched)
	assert.Equal(t, 1, runs[0].Unassigned)
}

func TestRun_RecordsFailure(t *testing.T) {
	p, ts, _ := testPipeline()
	ts.err = eris.New("fetch failed")

	s, err := store.New(filepath.Join(t.TempDir(), "georate.db"))
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Migrate(context.Background()))
	p.Store = s

	_, err = p.Run(context.Background(), testParams(writeEventsCSV(t)))
	require.Error(t, err)

	runs, err := s.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.RunStatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "fetch failed")
}
