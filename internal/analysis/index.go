package analysis

import (
	"github.com/MeKo-Tech/areastats/internal/types"
	"github.com/paulmach/orb"
)

// Index holds the lookup structures for one analysis pass.
type Index struct {
	Nodes map[int64]orb.Point
	Ways  map[int64]*types.Element
	// WayOrder lists way ids in first-seen order so output is deterministic.
	WayOrder          []int64
	BuildingRelations []*types.Element
}

// BuildIndex splits a flat element list into node and way lookups plus the
// list of building relations. Elements of unknown type are ignored.
func BuildIndex(elements []types.Element) *Index {
	idx := &Index{
		Nodes: make(map[int64]orb.Point),
		Ways:  make(map[int64]*types.Element),
	}

	for i := range elements {
		el := &elements[i]
		switch el.Type {
		case types.ElementNode:
			idx.Nodes[el.ID] = orb.Point{el.Lon, el.Lat}
		case types.ElementWay:
			if _, seen := idx.Ways[el.ID]; !seen {
				idx.WayOrder = append(idx.WayOrder, el.ID)
			}
			idx.Ways[el.ID] = el
		case types.ElementRelation:
			if el.Tag("building") != "" {
				idx.BuildingRelations = append(idx.BuildingRelations, el)
			}
		}
	}

	return idx
}

// Resolve maps a way's node ids to coordinates, dropping ids that are not in
// the index.
func (idx *Index) Resolve(way *types.Element) orb.LineString {
	coords := make(orb.LineString, 0, len(way.Nodes))
	for _, id := range way.Nodes {
		if p, ok := idx.Nodes[id]; ok {
			coords = append(coords, p)
		}
	}
	return coords
}
