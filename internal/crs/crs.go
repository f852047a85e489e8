// Package crs provides coordinate reference system normalization and
// deterministic transforms between the reference systems this pipeline
// touches: WGS 84 (EPSG:4326), NAD 83 (EPSG:4269), and Web Mercator
// (EPSG:3857).
package crs

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrUnknown is returned when a reference system identifier is not in the
// registry. Check with eris.Is.
var ErrUnknown = eris.New("crs: unknown reference system")

// CRS identifies a coordinate reference system by EPSG code.
type CRS int

const (
	// WGS84 is EPSG:4326, geographic lon/lat in degrees.
	WGS84 CRS = 4326
	// NAD83 is EPSG:4269, geographic lon/lat in degrees. At double
	// precision NAD 83 and WGS 84 coordinates are numerically identical
	// for this pipeline's purposes, so transforms between them are the
	// identity.
	NAD83 CRS = 4269
	// WebMercator is EPSG:3857, spherical mercator in meters.
	WebMercator CRS = 3857
)

// earthRadius is the spherical Mercator radius in meters (EPSG:3857).
const earthRadius = 6378137.0

// mercatorMaxLat is the latitude bound of the Web Mercator projection.
const mercatorMaxLat = 85.051129

// aliases maps normalized identifier spellings to EPSG codes.
var aliases = map[string]CRS{
	"4326":      WGS84,
	"epsg:4326": WGS84,
	"wgs84":     WGS84,
	"wgs 84":    WGS84,
	"4269":      NAD83,
	"epsg:4269": NAD83,
	"nad83":     NAD83,
	"nad 83":    NAD83,
	"3857":      WebMercator,
	"epsg:3857": WebMercator,
	"900913":    WebMercator,
}

// Parse resolves a reference system identifier string ("EPSG:4326", "4326",
// "WGS84", ...) to a CRS. Returns ErrUnknown for unrecognized identifiers.
func Parse(id string) (CRS, error) {
	key := strings.ToLower(strings.TrimSpace(id))
	c, ok := aliases[key]
	if !ok {
		return 0, eris.Wrapf(ErrUnknown, "%q", id)
	}
	return c, nil
}

// Valid reports whether c is a registered reference system.
func Valid(c CRS) bool {
	switch c {
	case WGS84, NAD83, WebMercator:
		return true
	}
	return false
}

// String returns the EPSG-prefixed identifier.
func (c CRS) String() string {
	switch c {
	case WGS84:
		return "EPSG:4326"
	case NAD83:
		return "EPSG:4269"
	case WebMercator:
		return "EPSG:3857"
	}
	return "EPSG:0"
}

// Transform converts a coordinate pair from one reference system to another.
// It is a pure function: identical inputs always produce identical outputs.
// Identity transforms (from == to, or NAD83 <-> WGS84) return the input
// unchanged. Returns ErrUnknown if either reference system is unregistered,
// and an error (never NaN) when a latitude falls outside the Web Mercator
// domain.
func Transform(x, y float64, from, to CRS) (float64, float64, error) {
	if !Valid(from) {
		return 0, 0, eris.Wrapf(ErrUnknown, "source EPSG:%d", int(from))
	}
	if !Valid(to) {
		return 0, 0, eris.Wrapf(ErrUnknown, "target EPSG:%d", int(to))
	}

	if from == to || (geographic(from) && geographic(to)) {
		return x, y, nil
	}

	// One side is Web Mercator, the other geographic.
	if from == WebMercator {
		lon, lat := fromMercator(x, y)
		return lon, lat, nil
	}

	if math.Abs(y) > mercatorMaxLat {
		return 0, 0, eris.Errorf("crs: latitude %g outside Web Mercator domain", y)
	}
	mx, my := toMercator(x, y)
	return mx, my, nil
}

func geographic(c CRS) bool {
	return c == WGS84 || c == NAD83
}

func toMercator(lon, lat float64) (float64, float64) {
	x := earthRadius * lon * math.Pi / 180
	y := earthRadius * math.Log(math.Tan(math.Pi/4+lat*math.Pi/360))
	return x, y
}

func fromMercator(x, y float64) (float64, float64) {
	lon := x / earthRadius * 180 / math.Pi
	lat := (2*math.Atan(math.Exp(y/earthRadius)) - math.Pi/2) * 180 / math.Pi
	return lon, lat
}
