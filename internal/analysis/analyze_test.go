package analysis

import (
	"math"
	"testing"

	"github.com/MeKo-Tech/areastats/internal/types"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hannover = orb.Point{9.7320, 52.3759}

// dataset builds Overpass-like element lists for tests.
type dataset struct {
	elements []types.Element
	nextNode int64
	nextWay  int64
	nextRel  int64
}

func (d *dataset) node(p orb.Point) int64 {
	d.nextNode++
	d.elements = append(d.elements, types.Element{Type: types.ElementNode, ID: d.nextNode, Lon: p.Lon(), Lat: p.Lat()})
	return d.nextNode
}

// way adds nodes for pts (in order) and a way referencing them.
func (d *dataset) way(tags map[string]string, pts ...orb.Point) int64 {
	ids := make([]int64, len(pts))
	for i, p := range pts {
		ids[i] = d.node(p)
	}
	return d.wayRefs(tags, ids...)
}

func (d *dataset) wayRefs(tags map[string]string, ids ...int64) int64 {
	d.nextWay++
	d.elements = append(d.elements, types.Element{Type: types.ElementWay, ID: d.nextWay, Nodes: ids, Tags: tags})
	return d.nextWay
}

func (d *dataset) relation(tags map[string]string, center *orb.Point) {
	d.nextRel++
	el := types.Element{Type: types.ElementRelation, ID: d.nextRel, Tags: tags}
	if center != nil {
		el.Center = &types.LatLon{Lat: center.Lat(), Lon: center.Lon()}
	}
	d.elements = append(d.elements, el)
}

// offset moves p by dx meters east and dy meters north (small-distance approximation).
func offset(p orb.Point, dx, dy float64) orb.Point {
	const metersPerDeg = 111320.0
	return orb.Point{
		p.Lon() + dx/(metersPerDeg*math.Cos(p.Lat()*math.Pi/180)),
		p.Lat() + dy/metersPerDeg,
	}
}

// box returns an open rectangle of w×h meters centered dx/dy meters from c.
func box(c orb.Point, dx, dy, w, h float64) []orb.Point {
	return []orb.Point{
		offset(c, dx-w/2, dy-h/2),
		offset(c, dx+w/2, dy-h/2),
		offset(c, dx+w/2, dy+h/2),
		offset(c, dx-w/2, dy+h/2),
	}
}

func building() map[string]string { return map[string]string{"building": "yes"} }

func road(surface string) map[string]string {
	tags := map[string]string{"highway": "residential"}
	if surface != "" {
		tags["surface"] = surface
	}
	return tags
}

func region(radiusMeters float64) types.SearchRegion {
	return types.SearchRegion{Center: hannover, RadiusMeters: radiusMeters}
}

func TestAnalyzeSingleBuildingAtCenter(t *testing.T) {
	var d dataset
	h := 0.0005
	d.way(building(),
		orb.Point{hannover.Lon() - h, hannover.Lat() - h},
		orb.Point{hannover.Lon() + h, hannover.Lat() - h},
		orb.Point{hannover.Lon() + h, hannover.Lat() + h},
		orb.Point{hannover.Lon() - h, hannover.Lat() + h},
	)

	a, err := Analyze(d.elements, region(5000))
	require.NoError(t, err)

	assert.Equal(t, 1, a.Metrics.BuildingCount)
	assert.Greater(t, a.Metrics.RoofedAreaSqM, 0.0)
	assert.Equal(t, 0.0, a.Metrics.PavedRoadKm)
	assert.Equal(t, 0.0, a.Metrics.UnpavedRoadKm)

	require.Len(t, a.Features.Buildings, 1)
	ring := a.Features.Buildings[0]
	require.Len(t, ring, 5, "ring must be closed")
	assert.Equal(t, ring[0], ring[4])
	// Display order is [lat, lon].
	assert.InDelta(t, hannover.Lat()-h, ring[0][0], 1e-12)
	assert.InDelta(t, hannover.Lon()-h, ring[0][1], 1e-12)

	assert.Empty(t, a.Features.PavedRoads)
	assert.Empty(t, a.Features.UnpavedRoads)
}

func TestAnalyzeDensityUsesFullCircle(t *testing.T) {
	var d dataset
	for i := 0; i < 7; i++ {
		d.way(building(), box(hannover, float64(i*30), 0, 10, 10)...)
	}

	for _, r := range []float64{250, 1000, 1234.5, 5000} {
		a, err := Analyze(d.elements, region(r))
		require.NoError(t, err)
		km := r / 1000
		assert.Equal(t, float64(a.Metrics.BuildingCount)/(math.Pi*km*km), a.Metrics.BuildingDensityPerSqKm)
	}
}

func TestAnalyzeBuildingWithoutHighwayAddsNoRoadLength(t *testing.T) {
	var d dataset
	d.way(building(), box(hannover, 0, 0, 20, 20)...)

	a, err := Analyze(d.elements, region(500))
	require.NoError(t, err)

	assert.Equal(t, 1, a.Metrics.BuildingCount)
	assert.Zero(t, a.Metrics.PavedRoadKm)
	assert.Zero(t, a.Metrics.UnpavedRoadKm)
}

func TestAnalyzeDualCountsBuildingHighway(t *testing.T) {
	var d dataset
	tags := map[string]string{"building": "yes", "highway": "residential"}
	d.way(tags, box(hannover, 0, 0, 40, 40)...)

	a, stats, err := AnalyzeWithStats(d.elements, region(500))
	require.NoError(t, err)

	assert.Equal(t, 1, a.Metrics.BuildingCount)
	assert.Greater(t, a.Metrics.RoofedAreaSqM, 0.0)
	// The road uses the open node list: three sides of the box.
	assert.InDelta(t, 0.12, a.Metrics.PavedRoadKm, 0.002)
	assert.Len(t, a.Features.Buildings, 1)
	assert.Len(t, a.Features.PavedRoads, 1)
	assert.Equal(t, 1, stats.DualCounted)
}

func TestAnalyzePavedAndUnpavedRoads(t *testing.T) {
	var d dataset
	d.way(road(""), offset(hannover, -100, 0), offset(hannover, 100, 0))
	d.way(road("asphalt"), offset(hannover, 0, -50), offset(hannover, 0, 50))
	d.way(road("gravel"), offset(hannover, -150, 10), offset(hannover, 150, 10))

	a, err := Analyze(d.elements, region(1000))
	require.NoError(t, err)

	assert.InDelta(t, 0.3, a.Metrics.PavedRoadKm, 0.003)
	assert.InDelta(t, 0.3, a.Metrics.UnpavedRoadKm, 0.003)
	assert.Len(t, a.Features.PavedRoads, 2)
	assert.Len(t, a.Features.UnpavedRoads, 1)
	assert.Zero(t, a.Metrics.BuildingCount)
}

func TestAnalyzeStatsCountsKinds(t *testing.T) {
	var d dataset
	d.way(building(), box(hannover, 0, 0, 20, 20)...)
	d.way(map[string]string{"building": "yes", "highway": "service"}, box(hannover, 50, 0, 20, 20)...)
	d.way(road(""), offset(hannover, -100, 0), offset(hannover, 100, 0))
	d.way(road("gravel"), offset(hannover, -150, 10), offset(hannover, 150, 10))
	d.way(map[string]string{"natural": "water"}, box(hannover, 0, 80, 20, 20)...)
	d.wayRefs(road(""), 9001, 9002)

	_, stats, err := AnalyzeWithStats(d.elements, region(1000))
	require.NoError(t, err)

	assert.Equal(t, map[Kind]int{
		KindBuilding:    2,
		KindPavedRoad:   1,
		KindUnpavedRoad: 1,
		KindIgnored:     1,
	}, stats.Kinds)
	assert.Equal(t, 1, stats.UnresolvedWays)
}

func TestAnalyzeUsesCentroidNotEdges(t *testing.T) {
	var d dataset
	// Edge reaches 50m from center, centroid 200m away: excluded.
	d.way(building(), box(hannover, 200, 0, 300, 300)...)
	// Centroid 90m away, most of the area outside the 100m circle: included.
	d.way(building(), box(hannover, 0, 90, 400, 20)...)

	a, stats, err := AnalyzeWithStats(d.elements, region(100))
	require.NoError(t, err)

	assert.Equal(t, 1, a.Metrics.BuildingCount)
	assert.InDelta(t, 8000, a.Metrics.RoofedAreaSqM, 80)
	assert.Equal(t, 1, stats.BuildingsOutside)
}

func TestAnalyzeUsesRoadMidpoint(t *testing.T) {
	var d dataset
	// Starts at the center, midpoint 150m away: excluded.
	d.way(road(""), hannover, offset(hannover, 300, 0))
	// Crosses the whole circle, midpoint at the center: included in full.
	d.way(road("dirt"), offset(hannover, -250, 0), offset(hannover, 250, 0))

	a, err := Analyze(d.elements, region(100))
	require.NoError(t, err)

	assert.Zero(t, a.Metrics.PavedRoadKm)
	assert.InDelta(t, 0.5, a.Metrics.UnpavedRoadKm, 0.005)
}

func TestAnalyzeSkipsWayWithOneResolvableNode(t *testing.T) {
	var d dataset
	n := d.node(hannover)
	d.wayRefs(building(), n, 9001, 9002, 9003)
	d.wayRefs(road(""), n, 9004)

	a, stats, err := AnalyzeWithStats(d.elements, region(1000))
	require.NoError(t, err)

	assert.Zero(t, a.Metrics.BuildingCount)
	assert.Zero(t, a.Metrics.PavedRoadKm)
	assert.Zero(t, a.Features.Count())
	assert.Equal(t, 2, stats.UnresolvedWays)
}

func TestAnalyzeSkipsDegenerateBuildingRing(t *testing.T) {
	var d dataset
	// Two distinct points close to a 3-point ring, below the 4-point minimum.
	d.way(building(), hannover, offset(hannover, 10, 0))

	a, stats, err := AnalyzeWithStats(d.elements, region(1000))
	require.NoError(t, err)
	assert.Zero(t, a.Metrics.BuildingCount)
	assert.Equal(t, 1, stats.DegenerateRings)
}

func TestAnalyzeBuildingRelations(t *testing.T) {
	inside := offset(hannover, 50, 0)
	outside := offset(hannover, 5000, 0)

	var d dataset
	d.relation(building(), nil)
	d.relation(building(), &inside)
	d.relation(building(), &outside)
	d.relation(map[string]string{"type": "multipolygon"}, &inside)

	a, stats, err := AnalyzeWithStats(d.elements, region(1000))
	require.NoError(t, err)

	assert.Equal(t, 1, a.Metrics.BuildingCount)
	assert.Zero(t, a.Metrics.RoofedAreaSqM, "relations never add area")
	assert.Empty(t, a.Features.Buildings, "relations never add geometry")
	assert.Equal(t, 1, stats.RelationsNoCenter)
	assert.Equal(t, 1, stats.RelationsOutside)
}

func TestAnalyzeRelationWithoutCenterContributesNothing(t *testing.T) {
	var d dataset
	d.relation(building(), nil)

	a, err := Analyze(d.elements, region(5000))
	require.NoError(t, err)
	assert.Zero(t, a.Metrics.BuildingCount)
}

func TestAnalyzeMonotonicInRadius(t *testing.T) {
	var d dataset
	for i := 0; i < 20; i++ {
		dist := float64(i) * 75
		d.way(building(), box(hannover, dist, -dist/2, 15, 12)...)
		d.way(road(""), offset(hannover, -dist, dist), offset(hannover, -dist+40, dist+30))
		d.way(road("gravel"), offset(hannover, dist, dist), offset(hannover, dist+60, dist))
		c := offset(hannover, 0, -dist)
		d.relation(building(), &c)
	}

	var prev types.MetricsResult
	for r := 50.0; r <= 3000; r += 50 {
		a, err := Analyze(d.elements, region(r))
		require.NoError(t, err)
		m := a.Metrics
		require.GreaterOrEqual(t, m.BuildingCount, prev.BuildingCount, "radius %v", r)
		require.GreaterOrEqual(t, m.PavedRoadKm, prev.PavedRoadKm, "radius %v", r)
		require.GreaterOrEqual(t, m.UnpavedRoadKm, prev.UnpavedRoadKm, "radius %v", r)
		prev = m
	}
	assert.Equal(t, 40, prev.BuildingCount)
}

func TestAnalyzePreconditions(t *testing.T) {
	_, err := Analyze(nil, region(100))
	assert.ErrorIs(t, err, ErrPrecondition)

	for _, r := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		_, err := Analyze([]types.Element{}, region(r))
		assert.ErrorIs(t, err, ErrPrecondition, "radius %v", r)
	}
}

func TestAnalyzeEmptyDataset(t *testing.T) {
	a, err := Analyze([]types.Element{}, region(100))
	require.NoError(t, err)

	assert.Equal(t, types.MetricsResult{}, a.Metrics)
	assert.NotNil(t, a.Features.Buildings)
	assert.NotNil(t, a.Features.PavedRoads)
	assert.NotNil(t, a.Features.UnpavedRoads)
}

func TestAnalyzeReturnsFreshResults(t *testing.T) {
	var d dataset
	d.way(building(), box(hannover, 0, 0, 20, 20)...)
	d.way(road(""), offset(hannover, -20, 0), offset(hannover, 20, 0))

	first, err := Analyze(d.elements, region(500))
	require.NoError(t, err)
	second, err := Analyze(d.elements, region(500))
	require.NoError(t, err)

	assert.Equal(t, first, second)

	first.Features.Buildings[0][0] = [2]float64{0, 0}
	first.Features.PavedRoads = append(first.Features.PavedRoads, nil)
	assert.NotEqual(t, first.Features.Buildings[0][0], second.Features.Buildings[0][0])
	assert.Len(t, second.Features.PavedRoads, 1)
}

func TestAnalyzeOrderFollowsInput(t *testing.T) {
	var d dataset
	d.way(road(""), offset(hannover, 0, 0), offset(hannover, 10, 0))
	d.way(road(""), offset(hannover, 0, 20), offset(hannover, 10, 20))
	d.way(road(""), offset(hannover, 0, 40), offset(hannover, 10, 40))

	a, err := Analyze(d.elements, region(500))
	require.NoError(t, err)
	require.Len(t, a.Features.PavedRoads, 3)
	assert.Less(t, a.Features.PavedRoads[0][0][0], a.Features.PavedRoads[1][0][0])
	assert.Less(t, a.Features.PavedRoads[1][0][0], a.Features.PavedRoads[2][0][0])
}
