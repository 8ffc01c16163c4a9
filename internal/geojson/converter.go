package geojson

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/MeKo-Tech/areastats/internal/geometry"
	"github.com/MeKo-Tech/areastats/internal/types"
)

// LayerType names the overlay layers of an analysis
type LayerType string

const (
	LayerBuildings    LayerType = "buildings"
	LayerPavedRoads   LayerType = "paved_roads"
	LayerUnpavedRoads LayerType = "unpaved_roads"
	LayerSearchArea   LayerType = "search_area"
)

// Layers lists the geometry layers in draw order.
var Layers = []LayerType{LayerBuildings, LayerPavedRoads, LayerUnpavedRoads}

// ToGeoJSON converts an analysis to a GeoJSON FeatureCollection.
// Coordinates are swapped back from display order to GeoJSON lon/lat.
// The last feature is the search center carrying radius and metrics.
func ToGeoJSON(a *types.Analysis) (*geojson.FeatureCollection, error) {
	if a == nil {
		return nil, errors.New("nil analysis")
	}
	fc := geojson.NewFeatureCollection()

	for _, layer := range Layers {
		for i, coords := range GetLayerFeatures(a.Features, layer) {
			points := geometry.FromDisplayCoords(coords)

			var g orb.Geometry
			if layer == LayerBuildings {
				g = orb.Polygon{orb.Ring(points)}
			} else {
				g = orb.LineString(points)
			}

			f := geojson.NewFeature(g)
			f.Properties["layer"] = string(layer)
			f.Properties["index"] = i
			fc.Append(f)
		}
	}

	center := geojson.NewFeature(a.Region.Center)
	center.Properties["layer"] = string(LayerSearchArea)
	center.Properties["radius_m"] = a.Region.RadiusMeters
	center.Properties["building_count"] = a.Metrics.BuildingCount
	center.Properties["building_density_per_sq_km"] = a.Metrics.BuildingDensityPerSqKm
	center.Properties["roofed_area_sq_m"] = a.Metrics.RoofedAreaSqM
	center.Properties["paved_road_km"] = a.Metrics.PavedRoadKm
	center.Properties["unpaved_road_km"] = a.Metrics.UnpavedRoadKm
	fc.Append(center)

	return fc, nil
}

// ToGeoJSONBytes converts an analysis to indented GeoJSON bytes
func ToGeoJSONBytes(a *types.Analysis) ([]byte, error) {
	fc, err := ToGeoJSON(a)
	if err != nil {
		return nil, fmt.Errorf("failed to convert to GeoJSON: %w", err)
	}

	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GeoJSON: %w", err)
	}

	return data, nil
}

// GetLayerFeatures returns the display geometries of one layer
func GetLayerFeatures(f types.FeatureGeometries, layer LayerType) [][]types.DisplayCoord {
	switch layer {
	case LayerBuildings:
		return f.Buildings
	case LayerPavedRoads:
		return f.PavedRoads
	case LayerUnpavedRoads:
		return f.UnpavedRoads
	default:
		return nil
	}
}

// LayerCount returns the number of geometries in a layer
func LayerCount(f types.FeatureGeometries, layer LayerType) int {
	return len(GetLayerFeatures(f, layer))
}

// LayerSummary returns a one-line summary of geometries per layer
func LayerSummary(f types.FeatureGeometries) string {
	return fmt.Sprintf("Buildings: %d, Paved roads: %d, Unpaved roads: %d (Total: %d)",
		len(f.Buildings), len(f.PavedRoads), len(f.UnpavedRoads), f.Count())
}
