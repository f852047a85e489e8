package events

import (
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-analytics/georate/internal/crs"
)

func defaultOpts() Options {
	return Options{XColumn: "longitude", YColumn: "latitude", CRS: crs.WGS84}
}

func TestLoadCSV(t *testing.T) {
	input := strings.Join([]string{
		"id,longitude,latitude,category",
		"1,-75.1652,39.9526,assault",
		"2,-75.1580,39.9496,theft",
		"3,-75.2000,39.9600,theft",
	}, "\n")

	set, err := LoadCSV(strings.NewReader(input), defaultOpts())
	require.NoError(t, err)

	assert.Equal(t, crs.WGS84, set.CRS)
	require.Len(t, set.Points, 3)

	// Order-preserving.
	assert.Equal(t, -75.1652, set.Points[0].X)
	assert.Equal(t, 39.9526, set.Points[0].Y)
	assert.Equal(t, -75.2000, set.Points[2].X)

	// Non-coordinate columns pass through as attributes.
	assert.Equal(t, "1", set.Points[0].Attrs["id"])
	assert.Equal(t, "assault", set.Points[0].Attrs["category"])
	assert.NotContains(t, set.Points[0].Attrs, "longitude")
}

func TestLoadCSV_MissingCoordinateColumn(t *testing.T) {
	input := "id,lon,lat\n1,-75.1,39.9\n"
	_, err := LoadCSV(strings.NewReader(input), defaultOpts())
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrMalformedInput))
	assert.Contains(t, err.Error(), "longitude")
}

func TestLoadCSV_NonNumericCoordinate(t *testing.T) {
	input := "longitude,latitude\n-75.1,39.9\nnope,39.9\n"
	_, err := LoadCSV(strings.NewReader(input), defaultOpts())
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrMalformedInput))
	assert.Contains(t, err.Error(), "row 3")
}

func TestLoadCSV_EmptyCoordinate(t *testing.T) {
	input := "longitude,latitude\n-75.1,\n"
	_, err := LoadCSV(strings.NewReader(input), defaultOpts())
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrMalformedInput))
}

func TestLoadCSV_ShortRow(t *testing.T) {
	input := "id,longitude,latitude\n1,-75.1\n"
	_, err := LoadCSV(strings.NewReader(input), defaultOpts())
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrMalformedInput))
}

func TestLoadCSV_EmptyInput(t *testing.T) {
	_, err := LoadCSV(strings.NewReader(""), defaultOpts())
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrMalformedInput))
}

func TestLoadCSV_OutOfRangeValuesPassThrough(t *testing.T) {
	// Range validation is not the loader's job.
	input := "longitude,latitude\n500.0,-999.0\n"
	set, err := LoadCSV(strings.NewReader(input), defaultOpts())
	require.NoError(t, err)
	require.Len(t, set.Points, 1)
	assert.Equal(t, 500.0, set.Points[0].X)
}

func TestLoadCSV_DelimiterAndComment(t *testing.T) {
	input := "# simulated events\nlongitude;latitude\n-75.1;39.9\n"
	opts := defaultOpts()
	opts.Delimiter = ';'
	opts.Comment = '#'
	set, err := LoadCSV(strings.NewReader(input), opts)
	require.NoError(t, err)
	require.Len(t, set.Points, 1)
}

func TestLoadCSV_UnknownCRS(t *testing.T) {
	opts := defaultOpts()
	opts.CRS = 0
	_, err := LoadCSV(strings.NewReader("longitude,latitude\n-75.1,39.9\n"), opts)
	require.Error(t, err)
	assert.True(t, eris.Is(err, crs.ErrUnknown))
}

func TestLoadXLSX_MissingFile(t *testing.T) {
	_, err := LoadXLSX("testdata/does-not-exist.xlsx", defaultOpts())
	require.Error(t, err)
}
