// Package report formats analysis results for people.
package report

import (
	"fmt"
	"io"
	"math"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/MeKo-Tech/areastats/internal/types"
)

// Summary holds the display strings for one analysis.
type Summary struct {
	BuildingCount   string  `json:"building_count"`
	BuildingDensity string  `json:"building_density"`
	RoofedArea      string  `json:"roofed_area"`
	RoofedShare     float64 `json:"roofed_share_pct"`
	PavedRoads      string  `json:"paved_roads"`
	UnpavedRoads    string  `json:"unpaved_roads"`
	ZoomLevel       int     `json:"zoom_level"`
}

// Format renders metrics the way the map UI shows them. Rounding happens
// here only; the metrics keep full precision.
func Format(m types.MetricsResult, radiusMeters float64) Summary {
	share := RoofedSharePct(m.RoofedAreaSqM, radiusMeters)
	return Summary{
		BuildingCount:   humanize.Comma(int64(m.BuildingCount)),
		BuildingDensity: fmt.Sprintf("%.2f buildings/km²", m.BuildingDensityPerSqKm),
		RoofedArea: fmt.Sprintf("%s m² (%.2f%% of circle)",
			humanize.Comma(int64(math.Round(m.RoofedAreaSqM))), share),
		RoofedShare:  share,
		PavedRoads:   fmt.Sprintf("%.2f km", m.PavedRoadKm),
		UnpavedRoads: fmt.Sprintf("%.2f km", m.UnpavedRoadKm),
		ZoomLevel:    ZoomForRadius(radiusMeters),
	}
}

// RoofedSharePct is roofed area as a percentage of the full circle area.
// Footprints can extend past the circle, so values above 100 are possible.
func RoofedSharePct(roofedSqM, radiusMeters float64) float64 {
	if radiusMeters <= 0 {
		return 0
	}
	return roofedSqM / (math.Pi * radiusMeters * radiusMeters) * 100
}

// ZoomForRadius picks a web map zoom level that fits the search circle.
func ZoomForRadius(radiusMeters float64) int {
	switch {
	case radiusMeters <= 200:
		return 18
	case radiusMeters <= 500:
		return 17
	case radiusMeters <= 1000:
		return 16
	case radiusMeters <= 2000:
		return 15
	case radiusMeters <= 5000:
		return 13
	case radiusMeters <= 10000:
		return 12
	default:
		return 11
	}
}

// WriteText writes a two-column metrics table.
func WriteText(w io.Writer, label string, region types.SearchRegion, s Summary) {
	if label != "" {
		fmt.Fprintf(w, "%s\n", label)
	}
	fmt.Fprintf(w, "%s\n", region.String())

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Metric", "Value"})
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.AppendBulk([][]string{
		{"Buildings", s.BuildingCount},
		{"Building density", s.BuildingDensity},
		{"Roofed area", s.RoofedArea},
		{"Paved roads", s.PavedRoads},
		{"Unpaved roads", s.UnpavedRoads},
	})
	table.Render()
}

// BatchRow is one line of a batch summary table.
type BatchRow struct {
	Name    string
	Region  types.SearchRegion
	Summary Summary
	Err     error
}

// WriteBatch writes one row per analysis; failed rows show the error.
func WriteBatch(w io.Writer, rows []BatchRow) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Name", "Center", "Radius", "Buildings", "Density", "Roofed", "Paved", "Unpaved"})
	table.SetAutoWrapText(false)
	for _, r := range rows {
		center := fmt.Sprintf("%.5f,%.5f", r.Region.Lat(), r.Region.Lon())
		radius := fmt.Sprintf("%s m", humanize.Comma(int64(math.Round(r.Region.RadiusMeters))))
		if r.Err != nil {
			table.Append([]string{r.Name, center, radius, "error: " + r.Err.Error(), "", "", "", ""})
			continue
		}
		table.Append([]string{
			r.Name, center, radius,
			r.Summary.BuildingCount,
			r.Summary.BuildingDensity,
			fmt.Sprintf("%.2f%%", r.Summary.RoofedShare),
			r.Summary.PavedRoads,
			r.Summary.UnpavedRoads,
		})
	}
	table.Render()
}
