package analysis

import (
	"github.com/MeKo-Tech/areastats/internal/geometry"
	"github.com/MeKo-Tech/areastats/internal/types"
	"github.com/paulmach/orb"
)

// accumulator holds the running sums of one pass. It is never shared
// between calls.
type accumulator struct {
	buildingCount int
	roofedAreaSqM float64
	pavedRoadKm   float64
	unpavedRoadKm float64

	buildings    [][]types.DisplayCoord
	pavedRoads   [][]types.DisplayCoord
	unpavedRoads [][]types.DisplayCoord
}

func newAccumulator() *accumulator {
	return &accumulator{
		buildings:    [][]types.DisplayCoord{},
		pavedRoads:   [][]types.DisplayCoord{},
		unpavedRoads: [][]types.DisplayCoord{},
	}
}

func (a *accumulator) addBuilding(ring orb.Ring) {
	a.buildingCount++
	a.roofedAreaSqM += geometry.PolygonAreaSqM(ring)
	a.buildings = append(a.buildings, geometry.DisplayCoords(ring))
}

// addRelation counts a building relation. Relations have no geometry here,
// so they never add area or display rings.
func (a *accumulator) addRelation() {
	a.buildingCount++
}

func (a *accumulator) addRoad(coords orb.LineString, paved bool) {
	length := geometry.LineLengthKm(coords)
	display := geometry.DisplayCoords(coords)
	if paved {
		a.pavedRoadKm += length
		a.pavedRoads = append(a.pavedRoads, display)
		return
	}
	a.unpavedRoadKm += length
	a.unpavedRoads = append(a.unpavedRoads, display)
}

func (a *accumulator) result(region types.SearchRegion) *types.Analysis {
	return &types.Analysis{
		Region: region,
		Metrics: types.MetricsResult{
			BuildingCount:          a.buildingCount,
			BuildingDensityPerSqKm: float64(a.buildingCount) / region.AreaSqKm(),
			RoofedAreaSqM:          a.roofedAreaSqM,
			PavedRoadKm:            a.pavedRoadKm,
			UnpavedRoadKm:          a.unpavedRoadKm,
		},
		Features: types.FeatureGeometries{
			Buildings:    a.buildings,
			PavedRoads:   a.pavedRoads,
			UnpavedRoads: a.unpavedRoads,
		},
	}
}
