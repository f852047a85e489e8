// Package spatial assigns point events to the census tract containing them.
// Both geometry sets are reprojected to an explicit target reference system
// before the containment test; nothing is implicit.
package spatial

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-analytics/georate/internal/crs"
	"github.com/meridian-analytics/georate/internal/events"
	"github.com/meridian-analytics/georate/internal/tracts"
)

// ErrAmbiguous is returned in strict mode when overlapping regions claim
// the same point. Check with eris.Is.
var ErrAmbiguous = eris.New("spatial: ambiguous containment")

// Assignment pairs an input point with the key of the region containing
// it. GEOID is empty when no region contains the point. Output order is
// input order.
type Assignment struct {
	Point events.Point
	GEOID string
}

// Options tunes the join. The zero value is a fully synchronous,
// first-match join with a bounding-box prefilter and no index.
type Options struct {
	// UseIndex builds a uniform grid over region bounding boxes. Purely a
	// performance choice: candidate order is region input order either way.
	UseIndex bool

	// Workers parallelizes the per-point containment tests when > 1. Each
	// point's test is independent; results land by index so output order
	// is input order regardless.
	Workers int

	// Strict evaluates every containing region instead of stopping at the
	// first and fails with ErrAmbiguous when a point lies in two or more.
	// Off by default: overlap resolves to the first region in input order,
	// which for tract sets sorted by GEOID is the smallest GEOID.
	Strict bool
}

// Join reprojects both geometry sets to target and assigns each point the
// first region (input order) whose boundary contains it. Boundary edges
// are inclusive. The result has the same length and order as the input
// points; an empty GEOID marks a point outside every region.
func Join(ctx context.Context, points *events.Set, regions *tracts.Set, target crs.CRS, opts Options) ([]Assignment, error) {
	if !crs.Valid(target) {
		return nil, eris.Wrapf(crs.ErrUnknown, "target EPSG:%d", int(target))
	}

	pts, err := reprojectPoints(points, target)
	if err != nil {
		return nil, err
	}
	geoms, err := reprojectRegions(regions, target)
	if err != nil {
		return nil, err
	}

	boxes := make([]bbox, len(geoms))
	for i, g := range geoms {
		boxes[i] = geomBBox(g)
	}

	var index *gridIndex
	if opts.UseIndex {
		index = buildGridIndex(boxes)
	}

	j := &joiner{
		regions: regions.Regions,
		geoms:   geoms,
		boxes:   boxes,
		index:   index,
		strict:  opts.Strict,
	}

	out := make([]Assignment, len(pts))

	if opts.Workers > 1 {
		g, ctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Workers)
		for i := range pts {
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				geoid, err := j.locate(i, pts[i][0], pts[i][1])
				if err != nil {
					return err
				}
				out[i] = Assignment{Point: points.Points[i], GEOID: geoid}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return out, nil
	}

	for i := range pts {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "spatial: join cancelled")
		}
		geoid, err := j.locate(i, pts[i][0], pts[i][1])
		if err != nil {
			return nil, err
		}
		out[i] = Assignment{Point: points.Points[i], GEOID: geoid}
	}
	return out, nil
}

type joiner struct {
	regions []tracts.Region
	geoms   []*geom.MultiPolygon
	boxes   []bbox
	index   *gridIndex
	strict  bool
}

// locate finds the region containing a point. In strict mode every
// candidate is evaluated and multiple hits are an error; otherwise the
// first hit in input order wins.
func (j *joiner) locate(ptIdx int, x, y float64) (string, error) {
	var matches []string

	test := func(ri int) {
		if !j.boxes[ri].contains(x, y) {
			return
		}
		if contains(j.geoms[ri], x, y) {
			matches = append(matches, j.regions[ri].GEOID)
		}
	}

	if j.index != nil {
		for _, ri := range j.index.candidates(x, y) {
			test(ri)
			if !j.strict && len(matches) > 0 {
				return matches[0], nil
			}
		}
	} else {
		for ri := range j.geoms {
			test(ri)
			if !j.strict && len(matches) > 0 {
				return matches[0], nil
			}
		}
	}

	switch {
	case len(matches) == 0:
		return "", nil
	case len(matches) > 1:
		return "", eris.Wrapf(ErrAmbiguous, "point %d in regions %s", ptIdx, strings.Join(matches, ", "))
	}
	return matches[0], nil
}

// reprojectPoints transforms point coordinates to the target system.
// Returns fresh coordinate pairs; the input set is not mutated.
func reprojectPoints(set *events.Set, target crs.CRS) ([][2]float64, error) {
	out := make([][2]float64, len(set.Points))
	for i, p := range set.Points {
		x, y, err := crs.Transform(p.X, p.Y, set.CRS, target)
		if err != nil {
			return nil, eris.Wrapf(err, "spatial: reproject point %d", i)
		}
		out[i] = [2]float64{x, y}
	}
	return out, nil
}

// reprojectRegions transforms region geometries to the target system.
// Geometries are cloned; the input set is not mutated.
func reprojectRegions(set *tracts.Set, target crs.CRS) ([]*geom.MultiPolygon, error) {
	out := make([]*geom.MultiPolygon, len(set.Regions))
	for i := range set.Regions {
		r := &set.Regions[i]
		if set.CRS == target {
			out[i] = r.Geom
			continue
		}
		flat := r.Geom.FlatCoords()
		newFlat := make([]float64, len(flat))
		for c := 0; c+1 < len(flat); c += 2 {
			x, y, err := crs.Transform(flat[c], flat[c+1], set.CRS, target)
			if err != nil {
				return nil, eris.Wrapf(err, "spatial: reproject region %s", r.GEOID)
			}
			newFlat[c], newFlat[c+1] = x, y
		}
		out[i] = geom.NewMultiPolygonFlat(geom.XY, newFlat, r.Geom.Endss())
	}
	return out, nil
}
