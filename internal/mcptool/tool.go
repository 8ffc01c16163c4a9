// Package mcptool serves area analyses as a Model Context Protocol tool.
package mcptool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/MeKo-Tech/areastats/internal/datasource"
	"github.com/MeKo-Tech/areastats/internal/pipeline"
	"github.com/MeKo-Tech/areastats/internal/report"
	"github.com/MeKo-Tech/areastats/internal/types"
)

const (
	// ServerName is announced to MCP clients.
	ServerName = "areastats"
	// ToolName is the single tool this server exposes.
	ToolName = "analyze_area"
	// MaxRadiusKm keeps a single tool call within what Overpass answers in time.
	MaxRadiusKm = 25.0
)

// Analyzer analyzes one region.
type Analyzer interface {
	Analyze(ctx context.Context, region types.SearchRegion, origin string) (*pipeline.Result, error)
}

// Output is the JSON text returned by a successful call.
type Output struct {
	Latitude      float64                  `json:"latitude"`
	Longitude     float64                  `json:"longitude"`
	RadiusMeters  float64                  `json:"radius_m"`
	Metrics       types.MetricsResult      `json:"metrics"`
	Summary       report.Summary           `json:"summary"`
	FeatureCounts map[string]int           `json:"feature_counts"`
	Features      *types.FeatureGeometries `json:"features,omitempty"`
}

// AnalyzeAreaTool returns the tool definition.
func AnalyzeAreaTool() mcp.Tool {
	return mcp.NewTool(ToolName,
		mcp.WithDescription("Count buildings, roofed area and paved/unpaved road length inside a circle, using OpenStreetMap data"),
		mcp.WithNumber("latitude",
			mcp.Required(),
			mcp.Description("Latitude of the circle center in decimal degrees"),
		),
		mcp.WithNumber("longitude",
			mcp.Required(),
			mcp.Description("Longitude of the circle center in decimal degrees"),
		),
		mcp.WithNumber("radius",
			mcp.Required(),
			mcp.Description(fmt.Sprintf("Circle radius in the given units (max %.0f km)", MaxRadiusKm)),
		),
		mcp.WithString("units",
			mcp.Description("Radius units: km or mi"),
			mcp.DefaultString("km"),
		),
		mcp.WithBoolean("include_geometry",
			mcp.Description("Include matched building rings and road lines as [lat, lon] pairs"),
		),
	)
}

// Handler answers analyze_area calls.
type Handler struct {
	analyzer Analyzer
	logger   *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(analyzer Analyzer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{analyzer: analyzer, logger: logger.With("tool", ToolName)}
}

// Handle implements the tool. Input problems and upstream failures are
// returned as tool error results, not Go errors.
func (h *Handler) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	region, includeGeometry, err := parseArgs(args)
	if err != nil {
		h.logger.Warn("invalid arguments", "error", err)
		return errorResult(err), nil
	}

	res, err := h.analyzer.Analyze(ctx, region, pipeline.OriginMCP)
	if err != nil {
		h.logger.Error("analysis failed", "region", region.String(), "error", err)
		return errorResult(err), nil
	}

	out := Output{
		Latitude:      region.Lat(),
		Longitude:     region.Lon(),
		RadiusMeters:  region.RadiusMeters,
		Metrics:       res.Analysis.Metrics,
		Summary:       res.Summary,
		FeatureCounts: res.Analysis.Features.FeatureCounts(),
	}
	if includeGeometry {
		out.Features = &res.Analysis.Features
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError("failed to encode result"), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func parseArgs(args map[string]any) (types.SearchRegion, bool, error) {
	if args == nil {
		return types.SearchRegion{}, false, types.ValidationError{
			Code: types.CodeInvalidInput, Message: "no arguments provided",
			Guidance: "Pass latitude, longitude and radius",
		}
	}

	lat, err := numberArg(args, "latitude", types.CodeInvalidLatitude)
	if err != nil {
		return types.SearchRegion{}, false, err
	}
	lon, err := numberArg(args, "longitude", types.CodeInvalidLongitude)
	if err != nil {
		return types.SearchRegion{}, false, err
	}
	radius, err := numberArg(args, "radius", types.CodeInvalidRadius)
	if err != nil {
		return types.SearchRegion{}, false, err
	}

	unitName, _ := args["units"].(string)
	unit, err := types.ParseUnit(unitName)
	if err != nil {
		return types.SearchRegion{}, false, err
	}
	meters, err := types.RadiusMeters(radius, unit)
	if err != nil {
		return types.SearchRegion{}, false, err
	}
	if meters > MaxRadiusKm*1000 {
		return types.SearchRegion{}, false, types.ValidationError{
			Code:     types.CodeInvalidRadius,
			Message:  fmt.Sprintf("radius of %.0f m exceeds the %.0f km limit", meters, MaxRadiusKm),
			Guidance: "Split the area into smaller circles",
		}
	}

	includeGeometry, _ := args["include_geometry"].(bool)

	region := types.NewSearchRegion(lat, lon, meters)
	if err := region.Validate(); err != nil {
		return types.SearchRegion{}, false, err
	}
	return region, includeGeometry, nil
}

func numberArg(args map[string]any, key, code string) (float64, error) {
	switch v := args[key].(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f, nil
		}
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f, nil
		}
	case nil:
		return 0, types.ValidationError{Code: code, Message: "missing required parameter " + key}
	}
	return 0, types.ValidationError{Code: code, Message: fmt.Sprintf("%s must be a number", key)}
}

func errorResult(err error) *mcp.CallToolResult {
	var verr types.ValidationError
	switch {
	case errors.As(err, &verr):
	case errors.Is(err, datasource.ErrFetchFailed):
		verr = types.ValidationError{Code: types.CodeFetchFailed, Message: err.Error(), Guidance: "Retry in a few seconds"}
	default:
		verr = types.ValidationError{Code: types.CodeInternal, Message: err.Error()}
	}
	data, jerr := json.Marshal(verr)
	if jerr != nil {
		return mcp.NewToolResultError(verr.Error())
	}
	return mcp.NewToolResultError(string(data))
}

// NewServer builds an MCP server exposing the analyze_area tool.
func NewServer(h *Handler, version string) *mcpserver.MCPServer {
	srv := mcpserver.NewMCPServer(
		ServerName,
		version,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithRecovery(),
	)
	srv.AddTool(AnalyzeAreaTool(), h.Handle)
	return srv
}

// ServeStdio serves srv on stdin/stdout until the client disconnects.
func ServeStdio(srv *mcpserver.MCPServer) error {
	if err := mcpserver.ServeStdio(srv); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("mcp stdio server: %w", err)
	}
	return nil
}
