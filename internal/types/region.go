package types

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// SearchRegion is a circle around a center point in WGS84.
type SearchRegion struct {
	Center       orb.Point // lon, lat
	RadiusMeters float64
}

// NewSearchRegion builds a region from lat/lon order, which is how users type coordinates.
func NewSearchRegion(lat, lon, radiusMeters float64) SearchRegion {
	return SearchRegion{Center: orb.Point{lon, lat}, RadiusMeters: radiusMeters}
}

// Lat returns the latitude of the center.
func (r SearchRegion) Lat() float64 { return r.Center.Lat() }

// Lon returns the longitude of the center.
func (r SearchRegion) Lon() float64 { return r.Center.Lon() }

// RadiusKm returns the radius in kilometers.
func (r SearchRegion) RadiusKm() float64 {
	return r.RadiusMeters / 1000
}

// AreaSqKm returns the area of the full search circle in square kilometers.
func (r SearchRegion) AreaSqKm() float64 {
	km := r.RadiusKm()
	return math.Pi * km * km
}

// AreaSqM returns the area of the full search circle in square meters.
func (r SearchRegion) AreaSqM() float64 {
	return math.Pi * r.RadiusMeters * r.RadiusMeters
}

// Bounds returns a bounding box that encloses the search circle.
func (r SearchRegion) Bounds() BoundingBox {
	b := geo.NewBoundAroundPoint(r.Center, r.RadiusMeters)
	return BoundingBox{
		MinLon: b.Min.Lon(),
		MinLat: b.Min.Lat(),
		MaxLon: b.Max.Lon(),
		MaxLat: b.Max.Lat(),
	}
}

// Validate checks the caller-side preconditions of an analysis.
func (r SearchRegion) Validate() error {
	lat, lon := r.Lat(), r.Lon()
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return ValidationError{
			Code:     CodeInvalidLatitude,
			Message:  fmt.Sprintf("latitude must be between -90 and 90, got %f", lat),
			Guidance: "Ensure latitude is in decimal degrees",
		}
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return ValidationError{
			Code:     CodeInvalidLongitude,
			Message:  fmt.Sprintf("longitude must be between -180 and 180, got %f", lon),
			Guidance: "Ensure longitude is in decimal degrees",
		}
	}
	if math.IsNaN(r.RadiusMeters) || math.IsInf(r.RadiusMeters, 0) || r.RadiusMeters <= 0 {
		return ValidationError{
			Code:     CodeInvalidRadius,
			Message:  fmt.Sprintf("radius must be greater than 0, got %f", r.RadiusMeters),
			Guidance: "Enter a valid radius greater than 0",
		}
	}
	return nil
}

// String returns a human-readable representation of the region
func (r SearchRegion) String() string {
	return fmt.Sprintf("circle(%.6f,%.6f r=%.0fm)", r.Lat(), r.Lon(), r.RadiusMeters)
}

// BoundingBox represents a geographic bounding box in WGS84 (EPSG:4326)
type BoundingBox struct {
	MinLon float64 // Western edge (degrees)
	MinLat float64 // Southern edge (degrees)
	MaxLon float64 // Eastern edge (degrees)
	MaxLat float64 // Northern edge (degrees)
}

// String returns a human-readable representation of the bounding box
func (b BoundingBox) String() string {
	return fmt.Sprintf("bbox(%.6f,%.6f,%.6f,%.6f)", b.MinLat, b.MinLon, b.MaxLat, b.MaxLon)
}

// Center returns the center point of the bounding box
func (b BoundingBox) Center() (lat, lon float64) {
	return (b.MinLat + b.MaxLat) / 2, (b.MinLon + b.MaxLon) / 2
}

// Width returns the width of the bounding box in degrees
func (b BoundingBox) Width() float64 {
	return b.MaxLon - b.MinLon
}

// Height returns the height of the bounding box in degrees
func (b BoundingBox) Height() float64 {
	return b.MaxLat - b.MinLat
}

// ExpandByFraction grows the box on every side by fraction of its width/height.
func (b BoundingBox) ExpandByFraction(fraction float64) BoundingBox {
	if fraction <= 0 {
		return b
	}
	dx := b.Width() * fraction
	dy := b.Height() * fraction
	return BoundingBox{
		MinLon: b.MinLon - dx,
		MinLat: b.MinLat - dy,
		MaxLon: b.MaxLon + dx,
		MaxLat: b.MaxLat + dy,
	}
}

// Bound converts the box to an orb.Bound.
func (b BoundingBox) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.MinLon, b.MinLat},
		Max: orb.Point{b.MaxLon, b.MaxLat},
	}
}
