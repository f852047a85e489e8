package spatial

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/meridian-analytics/georate/internal/crs"
	"github.com/meridian-analytics/georate/internal/events"
	"github.com/meridian-analytics/georate/internal/tracts"
)

// square builds a closed ring MultiPolygon covering [x0,x1] x [y0,y1].
func square(x0, y0, x1, y1 float64) *geom.MultiPolygon {
	flat := []float64{x0, y0, x1, y0, x1, y1, x0, y1, x0, y0}
	return geom.NewMultiPolygonFlat(geom.XY, flat, [][]int{{len(flat)}})
}

// squareWithHole builds a square with a square hole cut out of it.
func squareWithHole(x0, y0, x1, y1, hx0, hy0, hx1, hy1 float64) *geom.MultiPolygon {
	shell := []float64{x0, y0, x1, y0, x1, y1, x0, y1, x0, y0}
	hole := []float64{hx0, hy0, hx1, hy0, hx1, hy1, hx0, hy1, hx0, hy0}
	flat := append(append([]float64{}, shell...), hole...)
	return geom.NewMultiPolygonFlat(geom.XY, flat, [][]int{{len(shell), len(shell) + len(hole)}})
}

func twoTracts() *tracts.Set {
	return &tracts.Set{
		CRS: crs.WGS84,
		Regions: []tracts.Region{
			{GEOID: "42101000100", Name: "Census Tract 1", Geom: square(0, 0, 1, 1)},
			{GEOID: "42101000200", Name: "Census Tract 2", Geom: square(1, 0, 2, 1)},
		},
	}
}

func pointSet(coords ...[2]float64) *events.Set {
	set := &events.Set{CRS: crs.WGS84}
	for _, c := range coords {
		set.Points = append(set.Points, events.Point{X: c[0], Y: c[1]})
	}
	return set
}

func TestJoin_AssignsPointsInOrder(t *testing.T) {
	points := pointSet(
		[2]float64{0.5, 0.5}, // tract 1
		[2]float64{1.5, 0.5}, // tract 2
		[2]float64{0.2, 0.8}, // tract 1
		[2]float64{5.0, 5.0}, // outside
	)

	out, err := Join(context.Background(), points, twoTracts(), crs.WGS84, Options{})
	require.NoError(t, err)
	require.Len(t, out, 4)

	assert.Equal(t, "42101000100", out[0].GEOID)
	assert.Equal(t, "42101000200", out[1].GEOID)
	assert.Equal(t, "42101000100", out[2].GEOID)
	assert.Equal(t, "", out[3].GEOID)

	// Input order preserved.
	assert.Equal(t, 0.5, out[0].Point.X)
	assert.Equal(t, 5.0, out[3].Point.X)
}

func TestJoin_BoundaryIsInclusive(t *testing.T) {
	points := pointSet(
		[2]float64{0, 0},     // corner
		[2]float64{0.5, 0},   // bottom edge
		[2]float64{0, 0.5},   // left edge
		[2]float64{0.5, 1.0}, // top edge
	)
	regions := &tracts.Set{
		CRS:     crs.WGS84,
		Regions: []tracts.Region{{GEOID: "A", Geom: square(0, 0, 1, 1)}},
	}

	out, err := Join(context.Background(), points, regions, crs.WGS84, Options{})
	require.NoError(t, err)
	for i, a := range out {
		assert.Equal(t, "A", a.GEOID, "point %d should be contained", i)
	}
}

func TestJoin_SharedEdgeFirstMatchWins(t *testing.T) {
	// x=1 is the shared edge of both tracts; the first region in input
	// order claims it.
	points := pointSet([2]float64{1.0, 0.5})
	out, err := Join(context.Background(), points, twoTracts(), crs.WGS84, Options{})
	require.NoError(t, err)
	assert.Equal(t, "42101000100", out[0].GEOID)
}

func TestJoin_HoleExcluded(t *testing.T) {
	regions := &tracts.Set{
		CRS: crs.WGS84,
		Regions: []tracts.Region{
			{GEOID: "H", Geom: squareWithHole(0, 0, 4, 4, 1, 1, 2, 2)},
		},
	}
	points := pointSet(
		[2]float64{0.5, 0.5}, // in shell, outside hole
		[2]float64{1.5, 1.5}, // strictly inside hole
		[2]float64{1.0, 1.5}, // on hole edge: inclusive, contained
	)

	out, err := Join(context.Background(), points, regions, crs.WGS84, Options{})
	require.NoError(t, err)
	assert.Equal(t, "H", out[0].GEOID)
	assert.Equal(t, "", out[1].GEOID)
	assert.Equal(t, "H", out[2].GEOID)
}

func TestJoin_StrictModeDetectsOverlap(t *testing.T) {
	regions := &tracts.Set{
		CRS: crs.WGS84,
		Regions: []tracts.Region{
			{GEOID: "A", Geom: square(0, 0, 2, 2)},
			{GEOID: "B", Geom: square(1, 1, 3, 3)}, // overlaps A
		},
	}
	points := pointSet([2]float64{1.5, 1.5})

	_, err := Join(context.Background(), points, regions, crs.WGS84, Options{Strict: true})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrAmbiguous))
	assert.Contains(t, err.Error(), "A")
	assert.Contains(t, err.Error(), "B")
}

func TestJoin_NonStrictOverlapFirstMatch(t *testing.T) {
	regions := &tracts.Set{
		CRS: crs.WGS84,
		Regions: []tracts.Region{
			{GEOID: "A", Geom: square(0, 0, 2, 2)},
			{GEOID: "B", Geom: square(1, 1, 3, 3)},
		},
	}
	points := pointSet([2]float64{1.5, 1.5})

	out, err := Join(context.Background(), points, regions, crs.WGS84, Options{})
	require.NoError(t, err)
	assert.Equal(t, "A", out[0].GEOID)
}

func TestJoin_IndexMatchesLinearScan(t *testing.T) {
	points := pointSet(
		[2]float64{0.5, 0.5}, [2]float64{1.5, 0.5}, [2]float64{1.0, 0.5}, [2]float64{2.0, 1.0}, [2]float64{-1, -1}, [2]float64{0.99, 0.01},
	)
	regions := twoTracts()

	plain, err := Join(context.Background(), points, regions, crs.WGS84, Options{})
	require.NoError(t, err)
	indexed, err := Join(context.Background(), points, regions, crs.WGS84, Options{UseIndex: true})
	require.NoError(t, err)

	assert.Equal(t, plain, indexed)
}

func TestJoin_WorkersPreserveOrder(t *testing.T) {
	var coords [][2]float64
	for i := 0; i < 200; i++ {
		coords = append(coords, [2]float64{float64(i%20) / 10.0, 0.5})
	}
	points := pointSet(coords...)
	regions := twoTracts()

	serial, err := Join(context.Background(), points, regions, crs.WGS84, Options{})
	require.NoError(t, err)
	parallel, err := Join(context.Background(), points, regions, crs.WGS84, Options{Workers: 8})
	require.NoError(t, err)

	assert.Equal(t, serial, parallel)
}

func TestJoin_ReprojectsPointsToTarget(t *testing.T) {
	// Points in Web Mercator, regions in WGS 84, joined in WGS 84.
	mx, my, err := crs.Transform(0.5, 0.5, crs.WGS84, crs.WebMercator)
	require.NoError(t, err)

	points := &events.Set{
		CRS:    crs.WebMercator,
		Points: []events.Point{{X: mx, Y: my}},
	}

	out, err := Join(context.Background(), points, twoTracts(), crs.WGS84, Options{})
	require.NoError(t, err)
	assert.Equal(t, "42101000100", out[0].GEOID)
}

func TestJoin_UnknownTargetCRS(t *testing.T) {
	_, err := Join(context.Background(), pointSet([2]float64{0, 0}), twoTracts(), crs.CRS(12345), Options{})
	require.Error(t, err)
	assert.True(t, eris.Is(err, crs.ErrUnknown))
}

func TestJoin_CountInvariant(t *testing.T) {
	// Assigned + unassigned == total input.
	points := pointSet([2]float64{0.5, 0.5}, [2]float64{1.5, 0.5}, [2]float64{9, 9}, [2]float64{0.1, 0.1}, [2]float64{-3, 0.5})
	out, err := Join(context.Background(), points, twoTracts(), crs.WGS84, Options{})
	require.NoError(t, err)
	require.Len(t, out, len(points.Points))

	assigned := 0
	for _, a := range out {
		if a.GEOID != "" {
			assigned++
		}
	}
	assert.Equal(t, 3, assigned)
	assert.Equal(t, len(points.Points), assigned+2)
}

func TestJoin_EmptyInputs(t *testing.T) {
	out, err := Join(context.Background(), &events.Set{CRS: crs.WGS84}, twoTracts(), crs.WGS84, Options{})
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = Join(context.Background(), pointSet([2]float64{0.5, 0.5}), &tracts.Set{CRS: crs.WGS84}, crs.WGS84, Options{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "", out[0].GEOID)
}
