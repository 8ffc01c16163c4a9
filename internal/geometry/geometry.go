// Package geometry provides the spherical and planar helpers used to match
// OSM features against a circular search area.
//
// All points are orb.Point values in (lon, lat) order.
package geometry

import (
	"errors"
	"math"

	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
)

// MeanEarthRadiusKm is the mean Earth radius used for great-circle distances.
const MeanEarthRadiusKm = 6371.0088

var (
	// ErrDegenerateRing is returned for rings with fewer than 4 points.
	ErrDegenerateRing = errors.New("ring needs at least 4 points")
	// ErrEmptyLine is returned for lines without points.
	ErrEmptyLine = errors.New("line has no points")
)

// DistanceKm returns the great-circle distance between a and b in kilometers.
func DistanceKm(a, b orb.Point) float64 {
	la := s2.LatLngFromDegrees(a.Lat(), a.Lon())
	lb := s2.LatLngFromDegrees(b.Lat(), b.Lon())
	return MeanEarthRadiusKm * float64(la.Distance(lb))
}

// CloseRing returns coords with the first point appended when the last point
// differs from it. The input slice is never modified.
func CloseRing(coords []orb.Point) orb.Ring {
	if len(coords) == 0 {
		return orb.Ring(coords)
	}
	ring := make(orb.Ring, len(coords), len(coords)+1)
	copy(ring, coords)
	if !ring[0].Equal(ring[len(ring)-1]) {
		ring = append(ring, ring[0])
	}
	return ring
}

// PolygonCentroid returns the area-weighted centroid of a closed ring.
func PolygonCentroid(ring orb.Ring) (orb.Point, error) {
	if len(ring) < 4 {
		return orb.Point{}, ErrDegenerateRing
	}
	c, _ := planar.CentroidArea(ring)
	return c, nil
}

// PolygonAreaSqM returns the spherical area of a closed ring in square meters.
// Winding order does not matter.
func PolygonAreaSqM(ring orb.Ring) float64 {
	if len(ring) < 4 {
		return 0
	}
	return math.Abs(geo.Area(orb.Polygon{ring}))
}

// LineLengthKm returns the cumulative great-circle length of a path.
func LineLengthKm(points []orb.Point) float64 {
	var total float64
	for i := 1; i < len(points); i++ {
		total += DistanceKm(points[i-1], points[i])
	}
	return total
}

// LineMidpoint returns the point halfway along the path, interpolated linearly
// between the two vertices that bound the halfway distance.
func LineMidpoint(points []orb.Point) (orb.Point, error) {
	if len(points) == 0 {
		return orb.Point{}, ErrEmptyLine
	}

	half := LineLengthKm(points) / 2
	if half == 0 {
		return points[0], nil
	}

	var travelled float64
	for i := 1; i < len(points); i++ {
		seg := DistanceKm(points[i-1], points[i])
		if travelled+seg >= half {
			if seg == 0 {
				return points[i], nil
			}
			return interpolate(points[i-1], points[i], (half-travelled)/seg), nil
		}
		travelled += seg
	}

	// Floating point drift: the halfway mark lies at the very end.
	return points[len(points)-1], nil
}

func interpolate(a, b orb.Point, t float64) orb.Point {
	return orb.Point{
		a.Lon() + (b.Lon()-a.Lon())*t,
		a.Lat() + (b.Lat()-a.Lat())*t,
	}
}

// DisplayCoords swaps (lon, lat) points into [lat, lon] pairs for map renderers.
func DisplayCoords(points []orb.Point) [][2]float64 {
	out := make([][2]float64, len(points))
	for i, p := range points {
		out[i] = [2]float64{p.Lat(), p.Lon()}
	}
	return out
}

// FromDisplayCoords is the inverse of DisplayCoords.
func FromDisplayCoords(coords [][2]float64) []orb.Point {
	out := make([]orb.Point, len(coords))
	for i, c := range coords {
		out[i] = orb.Point{c[1], c[0]}
	}
	return out
}
