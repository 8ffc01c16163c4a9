//go:build js && wasm

package main

import (
	"encoding/json"
	"fmt"
	"syscall/js"

	"github.com/MeKo-Tech/areastats/internal/analysis"
	"github.com/MeKo-Tech/areastats/internal/datasource"
	"github.com/MeKo-Tech/areastats/internal/report"
	"github.com/MeKo-Tech/areastats/internal/types"
)

// analyzeResponse is the JSON handed back to the page.
type analyzeResponse struct {
	Metrics  *types.MetricsResult     `json:"metrics,omitempty"`
	Summary  *report.Summary          `json:"summary,omitempty"`
	Features *types.FeatureGeometries `json:"features,omitempty"`
	Error    string                   `json:"error,omitempty"`
}

func encode(resp analyzeResponse) string {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return string(data)
}

func failure(format string, args ...any) string {
	return encode(analyzeResponse{Error: fmt.Sprintf(format, args...)})
}

// analyze runs the metrics aggregation on an Overpass response the page
// fetched itself: areastatsAnalyze(overpassJSON, lat, lon, radiusMeters).
func analyze(this js.Value, args []js.Value) any {
	if len(args) < 4 {
		return failure("expected (overpassJSON, lat, lon, radiusMeters)")
	}
	if args[0].Type() != js.TypeString {
		return failure("overpassJSON must be a string")
	}
	for i, name := range []string{"lat", "lon", "radiusMeters"} {
		if args[i+1].Type() != js.TypeNumber {
			return failure("%s must be a number", name)
		}
	}

	elements, err := datasource.DecodeOverpassJSON([]byte(args[0].String()))
	if err != nil {
		return failure("failed to decode Overpass response: %v", err)
	}

	region := types.NewSearchRegion(args[1].Float(), args[2].Float(), args[3].Float())
	if err := region.Validate(); err != nil {
		return failure("%v", err)
	}

	result, err := analysis.Analyze(elements, region)
	if err != nil {
		return failure("%v", err)
	}
	summary := report.Format(result.Metrics, region.RadiusMeters)
	return encode(analyzeResponse{
		Metrics:  &result.Metrics,
		Summary:  &summary,
		Features: &result.Features,
	})
}

// zoom returns the map zoom that fits a circle: areastatsZoom(radiusMeters).
func zoom(this js.Value, args []js.Value) any {
	if len(args) < 1 || args[0].Type() != js.TypeNumber {
		return report.ZoomForRadius(0)
	}
	return report.ZoomForRadius(args[0].Float())
}

func main() {
	js.Global().Set("areastatsAnalyze", js.FuncOf(analyze))
	js.Global().Set("areastatsZoom", js.FuncOf(zoom))

	fmt.Println("AreaStats WASM module loaded")
	select {}
}
