// Package analysis turns raw Overpass elements into area statistics for a
// circular search region.
//
// Matching uses one representative point per feature: the centroid for
// building polygons, the path midpoint for roads and the precomputed center
// for building relations. A feature is inside when that point is within the
// radius; edges crossing the circle do not count.
package analysis

import (
	"errors"
	"fmt"
	"math"

	"github.com/MeKo-Tech/areastats/internal/geometry"
	"github.com/MeKo-Tech/areastats/internal/types"
	"github.com/paulmach/orb"
)

// ErrPrecondition marks a contract violation by the caller.
var ErrPrecondition = errors.New("analysis precondition failed")

// Stats counts what happened to each element during one pass.
type Stats struct {
	Ways              int `json:"ways"`
	Relations         int `json:"relations"`
	UnresolvedWays    int `json:"unresolved_ways"`
	DegenerateRings   int `json:"degenerate_rings"`
	BuildingsOutside  int `json:"buildings_outside"`
	RoadsOutside      int `json:"roads_outside"`
	RelationsNoCenter int `json:"relations_no_center"`
	RelationsOutside  int `json:"relations_outside"`
	DualCounted       int `json:"dual_counted"`
	// Kinds counts resolved ways by their single label.
	Kinds map[Kind]int `json:"kinds"`
}

// Analyze computes metrics and matched geometries for one region.
func Analyze(elements []types.Element, region types.SearchRegion) (*types.Analysis, error) {
	a, _, err := AnalyzeWithStats(elements, region)
	return a, err
}

// AnalyzeWithStats is Analyze plus per-element bookkeeping.
//
// Malformed elements are skipped silently; only nil input or a non-positive
// radius is reported, wrapped in ErrPrecondition.
func AnalyzeWithStats(elements []types.Element, region types.SearchRegion) (*types.Analysis, Stats, error) {
	stats := Stats{Kinds: make(map[Kind]int)}

	if elements == nil {
		return nil, stats, fmt.Errorf("%w: dataset is nil", ErrPrecondition)
	}
	if r := region.RadiusMeters; math.IsNaN(r) || math.IsInf(r, 0) || r <= 0 {
		return nil, stats, fmt.Errorf("%w: radius must be positive, got %v", ErrPrecondition, r)
	}

	idx := BuildIndex(elements)
	center := region.Center
	radiusKm := region.RadiusKm()
	acc := newAccumulator()

	for _, id := range idx.WayOrder {
		way := idx.Ways[id]
		stats.Ways++

		coords := idx.Resolve(way)
		if len(coords) < 2 {
			stats.UnresolvedWays++
			continue
		}

		class := ClassifyWay(way.Tags)
		stats.Kinds[class.Kind()]++
		if class.IsBuilding && class.IsHighway {
			stats.DualCounted++
		}

		if class.IsBuilding {
			ring := geometry.CloseRing(coords)
			if len(ring) < 4 {
				stats.DegenerateRings++
			} else if centroid, err := geometry.PolygonCentroid(ring); err == nil {
				if geometry.DistanceKm(center, centroid) <= radiusKm {
					acc.addBuilding(ring)
				} else {
					stats.BuildingsOutside++
				}
			}
		}

		if class.IsHighway {
			if !roadInside(coords, center, radiusKm) {
				stats.RoadsOutside++
				continue
			}
			acc.addRoad(coords, class.Paved)
		}
	}

	for _, rel := range idx.BuildingRelations {
		stats.Relations++
		if rel.Center == nil {
			stats.RelationsNoCenter++
			continue
		}
		p := orb.Point{rel.Center.Lon, rel.Center.Lat}
		if geometry.DistanceKm(center, p) <= radiusKm {
			acc.addRelation()
		} else {
			stats.RelationsOutside++
		}
	}

	return acc.result(region), stats, nil
}

func roadInside(coords orb.LineString, center orb.Point, radiusKm float64) bool {
	mid, err := geometry.LineMidpoint(coords)
	if err != nil {
		return false
	}
	return geometry.DistanceKm(center, mid) <= radiusKm
}
