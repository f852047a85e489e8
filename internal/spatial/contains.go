package spatial

import (
	"math"

	"github.com/twpayne/go-geom"
)

// onSegmentEps is the tolerance for the exact on-boundary pre-check.
const onSegmentEps = 1e-12

// contains reports whether a point is inside a MultiPolygon. The boundary
// is inclusive: a point exactly on any ring edge, hole edges included,
// counts as contained. Ring 0 of each polygon is the shell; remaining
// rings are holes. A point strictly inside a hole is not contained.
func contains(mp *geom.MultiPolygon, x, y float64) bool {
	for i := 0; i < mp.NumPolygons(); i++ {
		if polygonContains(mp.Polygon(i), x, y) {
			return true
		}
	}
	return false
}

func polygonContains(p *geom.Polygon, x, y float64) bool {
	if p.NumLinearRings() == 0 {
		return false
	}

	shell := p.LinearRing(0)
	onShell, inShell := ringContains(shell, x, y)
	if onShell {
		return true
	}
	if !inShell {
		return false
	}

	for i := 1; i < p.NumLinearRings(); i++ {
		onHole, inHole := ringContains(p.LinearRing(i), x, y)
		if onHole {
			// Hole edges belong to the polygon.
			return true
		}
		if inHole {
			return false
		}
	}
	return true
}

// ringContains runs the even-odd ray cast for one ring, with an exact
// on-segment pre-check. Returns (on boundary, strictly inside).
func ringContains(ring *geom.LinearRing, x, y float64) (onBoundary, inside bool) {
	flat := ring.FlatCoords()
	n := len(flat) / 2
	if n < 3 {
		return false, false
	}

	for i := 0; i < n; i++ {
		j := (i + 1) % n
		x1, y1 := flat[2*i], flat[2*i+1]
		x2, y2 := flat[2*j], flat[2*j+1]

		if onSegment(x, y, x1, y1, x2, y2) {
			return true, false
		}

		// Even-odd rule: rightward horizontal ray.
		if (y1 > y) != (y2 > y) {
			xCross := x1 + (y-y1)/(y2-y1)*(x2-x1)
			if x < xCross {
				inside = !inside
			}
		}
	}
	return false, inside
}

// onSegment reports whether (x, y) lies on the segment (x1,y1)-(x2,y2).
func onSegment(x, y, x1, y1, x2, y2 float64) bool {
	cross := (x2-x1)*(y-y1) - (y2-y1)*(x-x1)
	if math.Abs(cross) > onSegmentEps {
		return false
	}
	return x >= math.Min(x1, x2)-onSegmentEps && x <= math.Max(x1, x2)+onSegmentEps &&
		y >= math.Min(y1, y2)-onSegmentEps && y <= math.Max(y1, y2)+onSegmentEps
}

// bbox is an axis-aligned bounding box.
type bbox struct {
	minX, minY, maxX, maxY float64
}

func (b bbox) contains(x, y float64) bool {
	return x >= b.minX && x <= b.maxX && y >= b.minY && y <= b.maxY
}

func geomBBox(mp *geom.MultiPolygon) bbox {
	b := bbox{
		minX: math.Inf(1), minY: math.Inf(1),
		maxX: math.Inf(-1), maxY: math.Inf(-1),
	}
	flat := mp.FlatCoords()
	for i := 0; i+1 < len(flat); i += 2 {
		b.minX = math.Min(b.minX, flat[i])
		b.maxX = math.Max(b.maxX, flat[i])
		b.minY = math.Min(b.minY, flat[i+1])
		b.maxY = math.Max(b.maxY, flat[i+1])
	}
	return b
}
