package types

// MetricsResult holds the aggregate statistics of one analysis at full precision.
type MetricsResult struct {
	BuildingCount          int     `json:"building_count"`
	BuildingDensityPerSqKm float64 `json:"building_density_per_sq_km"`
	RoofedAreaSqM          float64 `json:"roofed_area_sq_m"`
	PavedRoadKm            float64 `json:"paved_road_km"`
	UnpavedRoadKm          float64 `json:"unpaved_road_km"`
}

// DisplayCoord is a [lat, lon] pair, the order map renderers expect.
type DisplayCoord = [2]float64

// FeatureGeometries are the matched geometries in display order.
type FeatureGeometries struct {
	Buildings    [][]DisplayCoord `json:"buildings"`
	PavedRoads   [][]DisplayCoord `json:"paved_roads"`
	UnpavedRoads [][]DisplayCoord `json:"unpaved_roads"`
}

// Count returns the total number of geometries
func (f FeatureGeometries) Count() int {
	return len(f.Buildings) + len(f.PavedRoads) + len(f.UnpavedRoads)
}

// FeatureCounts returns a map of geometry counts by layer
func (f FeatureGeometries) FeatureCounts() map[string]int {
	return map[string]int{
		"buildings":     len(f.Buildings),
		"paved_roads":   len(f.PavedRoads),
		"unpaved_roads": len(f.UnpavedRoads),
		"total":         f.Count(),
	}
}

// Analysis is the output of one analysis call.
type Analysis struct {
	Region   SearchRegion      `json:"-"`
	Metrics  MetricsResult     `json:"metrics"`
	Features FeatureGeometries `json:"features"`
}
