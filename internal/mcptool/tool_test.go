package mcptool

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/areastats/internal/datasource"
	"github.com/MeKo-Tech/areastats/internal/pipeline"
	"github.com/MeKo-Tech/areastats/internal/report"
	"github.com/MeKo-Tech/areastats/internal/types"
)

type stubAnalyzer struct {
	err    error
	region types.SearchRegion
	origin string
	calls  int
}

func (s *stubAnalyzer) Analyze(ctx context.Context, region types.SearchRegion, origin string) (*pipeline.Result, error) {
	s.calls++
	s.region = region
	s.origin = origin
	if s.err != nil {
		return nil, s.err
	}
	metrics := types.MetricsResult{BuildingCount: 12, BuildingDensityPerSqKm: 3.82, RoofedAreaSqM: 5400, PavedRoadKm: 4.2}
	return &pipeline.Result{
		Analysis: &types.Analysis{
			Region:  region,
			Metrics: metrics,
			Features: types.FeatureGeometries{
				Buildings:  [][]types.DisplayCoord{{{52.1, 9.1}, {52.1, 9.2}, {52.2, 9.2}, {52.1, 9.1}}},
				PavedRoads: [][]types.DisplayCoord{{{52.1, 9.1}, {52.2, 9.2}}},
			},
		},
		Summary: report.Format(metrics, region.RadiusMeters),
	}, nil
}

func request(t *testing.T, args map[string]any) mcp.CallToolRequest {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"method": "tools/call",
		"params": map[string]any{"name": ToolName, "arguments": args},
	})
	require.NoError(t, err)
	var req mcp.CallToolRequest
	require.NoError(t, json.Unmarshal(raw, &req))
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return text.Text
}

func TestHandleSuccess(t *testing.T) {
	an := &stubAnalyzer{}
	h := NewHandler(an, nil)

	res, err := h.Handle(context.Background(), request(t, map[string]any{
		"latitude": 52.3759, "longitude": 9.732, "radius": 1.5,
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))

	var out Output
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
	assert.Equal(t, 12, out.Metrics.BuildingCount)
	assert.Equal(t, 1500.0, out.RadiusMeters)
	assert.Equal(t, "12", out.Summary.BuildingCount)
	assert.Equal(t, 1, out.FeatureCounts["buildings"])
	assert.Equal(t, 2, out.FeatureCounts["total"])
	assert.Nil(t, out.Features)

	assert.Equal(t, pipeline.OriginMCP, an.origin)
	assert.Equal(t, 1500.0, an.region.RadiusMeters)
}

func TestHandleMilesAndGeometry(t *testing.T) {
	an := &stubAnalyzer{}
	h := NewHandler(an, nil)

	res, err := h.Handle(context.Background(), request(t, map[string]any{
		"latitude": "52.3759", "longitude": 9.732, "radius": 2, "units": "mi", "include_geometry": true,
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))

	var out Output
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
	assert.InDelta(t, 2*types.MetersPerMile, out.RadiusMeters, 1e-9)
	require.NotNil(t, out.Features)
	assert.Len(t, out.Features.Buildings, 1)
}

func TestHandleInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		code string
	}{
		{"missing latitude", map[string]any{"longitude": 9.7, "radius": 1}, types.CodeInvalidLatitude},
		{"latitude out of range", map[string]any{"latitude": 91.0, "longitude": 9.7, "radius": 1}, types.CodeInvalidLatitude},
		{"longitude wrong type", map[string]any{"latitude": 52.0, "longitude": true, "radius": 1}, types.CodeInvalidLongitude},
		{"zero radius", map[string]any{"latitude": 52.0, "longitude": 9.7, "radius": 0}, types.CodeInvalidRadius},
		{"radius too large", map[string]any{"latitude": 52.0, "longitude": 9.7, "radius": 30}, types.CodeInvalidRadius},
		{"bad units", map[string]any{"latitude": 52.0, "longitude": 9.7, "radius": 1, "units": "ft"}, types.CodeInvalidUnits},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			an := &stubAnalyzer{}
			res, err := NewHandler(an, nil).Handle(context.Background(), request(t, tt.args))
			require.NoError(t, err)
			require.True(t, res.IsError)

			var verr types.ValidationError
			require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &verr))
			assert.Equal(t, tt.code, verr.Code)
			assert.Zero(t, an.calls)
		})
	}
}

func TestHandleFetchFailure(t *testing.T) {
	an := &stubAnalyzer{err: &datasource.FetchError{StatusCode: 504, Status: "504 Gateway Timeout"}}

	res, err := NewHandler(an, nil).Handle(context.Background(), request(t, map[string]any{
		"latitude": 52.0, "longitude": 9.7, "radius": 1,
	}))
	require.NoError(t, err)
	require.True(t, res.IsError)

	var verr types.ValidationError
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &verr))
	assert.Equal(t, types.CodeFetchFailed, verr.Code)
	assert.Contains(t, verr.Message, "504")
}

func TestAnalyzeAreaTool(t *testing.T) {
	tool := AnalyzeAreaTool()
	assert.Equal(t, ToolName, tool.Name)
	assert.ElementsMatch(t, []string{"latitude", "longitude", "radius"}, tool.InputSchema.Required)
	assert.Contains(t, tool.InputSchema.Properties, "units")
	assert.Contains(t, tool.InputSchema.Properties, "include_geometry")

	assert.NotNil(t, NewServer(NewHandler(&stubAnalyzer{}, nil), "test"))
}
