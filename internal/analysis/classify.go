package analysis

import "strings"

// Kind is the single label used when a way is logged or counted once.
type Kind string

const (
	KindBuilding    Kind = "building"
	KindPavedRoad   Kind = "paved_road"
	KindUnpavedRoad Kind = "unpaved_road"
	KindIgnored     Kind = "ignored"
)

// pavedSurfaces is the closed set of surface values that count as paved.
var pavedSurfaces = map[string]struct{}{
	"asphalt":       {},
	"concrete":      {},
	"paved":         {},
	"sett":          {},
	"paving_stones": {},
	"metal":         {},
	"compacted":     {},
}

// Classification is the result of classifying a way by its tags.
// IsBuilding and IsHighway are independent: a way may be both.
type Classification struct {
	IsBuilding bool
	IsHighway  bool
	// Paved is only meaningful when IsHighway is set.
	Paved bool
}

// Kind returns one label for the way. Buildings win over roads.
func (c Classification) Kind() Kind {
	switch {
	case c.IsBuilding:
		return KindBuilding
	case c.IsHighway && c.Paved:
		return KindPavedRoad
	case c.IsHighway:
		return KindUnpavedRoad
	default:
		return KindIgnored
	}
}

// ClassifyWay decides whether a way is a building, a road, or both.
func ClassifyWay(tags map[string]string) Classification {
	return Classification{
		IsBuilding: isBuilding(tags),
		IsHighway:  isHighway(tags),
		Paved:      IsPavedSurface(tags["surface"]),
	}
}

// IsPavedSurface reports whether a surface tag value counts as paved.
// A missing surface is assumed paved.
func IsPavedSurface(surface string) bool {
	if surface == "" {
		return true
	}
	_, ok := pavedSurfaces[strings.ToLower(surface)]
	return ok
}

func isBuilding(tags map[string]string) bool {
	return tags["building"] != ""
}

func isHighway(tags map[string]string) bool {
	return tags["highway"] != ""
}
