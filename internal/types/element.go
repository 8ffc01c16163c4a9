package types

import (
	"time"
)

// ElementType is the kind of an Overpass element.
type ElementType string

const (
	ElementNode     ElementType = "node"
	ElementWay      ElementType = "way"
	ElementRelation ElementType = "relation"
)

// LatLon is the {lat, lon} object Overpass uses for precomputed centers.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Element is a single map element as returned by the Overpass API.
//
// Only the fields relevant to Type are populated: Lat/Lon for nodes,
// Nodes for ways, Center for relations. Tags may be nil for any kind.
type Element struct {
	ID     int64             `json:"id"`
	Type   ElementType       `json:"type"`
	Lat    float64           `json:"lat,omitempty"`
	Lon    float64           `json:"lon,omitempty"`
	Nodes  []int64           `json:"nodes,omitempty"`
	Tags   map[string]string `json:"tags,omitempty"`
	Center *LatLon           `json:"center,omitempty"`
}

// Tag returns the value of key, or "" when the tag is absent.
func (e *Element) Tag(key string) string {
	if e == nil || e.Tags == nil {
		return ""
	}
	return e.Tags[key]
}

// RegionData is everything fetched for one search region.
type RegionData struct {
	FetchedAt time.Time
	Source    string
	Elements  []Element
	Region    SearchRegion
	Bytes     int64
	Cached    bool
}

// ElementCounts returns the number of elements per type.
func (d *RegionData) ElementCounts() map[string]int {
	counts := map[string]int{
		string(ElementNode):     0,
		string(ElementWay):      0,
		string(ElementRelation): 0,
	}
	for i := range d.Elements {
		counts[string(d.Elements[i].Type)]++
	}
	counts["total"] = len(d.Elements)
	return counts
}
