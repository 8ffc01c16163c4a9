// Package pipeline wires fetching, analysis and rendering into the steps the
// CLI, HTTP server, batch runner and MCP tool share.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MeKo-Tech/areastats/internal/analysis"
	"github.com/MeKo-Tech/areastats/internal/datasource"
	"github.com/MeKo-Tech/areastats/internal/monitoring"
	"github.com/MeKo-Tech/areastats/internal/report"
	"github.com/MeKo-Tech/areastats/internal/tracing"
	"github.com/MeKo-Tech/areastats/internal/types"
)

// Origin labels for metrics.
const (
	OriginCLI   = "cli"
	OriginHTTP  = "http"
	OriginBatch = "batch"
	OriginMCP   = "mcp"
)

// SourceInfo describes the dataset an analysis ran on.
type SourceInfo struct {
	Source    string         `json:"source"`
	FetchedAt time.Time      `json:"fetched_at"`
	Elements  map[string]int `json:"elements"`
	Bytes     int64          `json:"bytes"`
	Cached    bool           `json:"cached"`
}

// Result is an analysis plus everything callers present alongside it.
type Result struct {
	Analysis *types.Analysis `json:"-"`
	Summary  report.Summary  `json:"summary"`
	Stats    analysis.Stats  `json:"stats"`
	Source   SourceInfo      `json:"source"`
	Fetch    time.Duration   `json:"-"`
	Compute  time.Duration   `json:"-"`
}

// Analyzer fetches region data and runs the metrics aggregation on it.
// It is safe for concurrent use when its fetcher is.
type Analyzer struct {
	ds     datasource.RegionFetcher
	logger *slog.Logger
}

// NewAnalyzer creates an Analyzer. ds may be nil for callers that only use AnalyzeElements.
func NewAnalyzer(ds datasource.RegionFetcher, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{ds: ds, logger: logger}
}

// Analyze validates the region, fetches its data and computes the statistics.
// Validation failures are returned as types.ValidationError; fetch failures
// keep datasource.ErrFetchFailed in their chain.
func (a *Analyzer) Analyze(ctx context.Context, region types.SearchRegion, origin string) (*Result, error) {
	if err := region.Validate(); err != nil {
		monitoring.RecordAnalysis(origin, 0, monitoring.StatusInvalid)
		return nil, err
	}
	if a.ds == nil {
		return nil, fmt.Errorf("analyzer has no data source")
	}

	ctx, span := tracing.StartSpan(ctx, "pipeline.analyze",
		attribute.Float64(tracing.AttrRadiusMeters, region.RadiusMeters),
	)
	defer span.End()

	log := a.logger.With("region", region.String(), "origin", origin)
	log.Info("Fetching region data")

	start := time.Now()
	data, err := a.ds.FetchRegion(ctx, region)
	fetchDuration := time.Since(start)
	if err != nil {
		tracing.Fail(span, err)
		monitoring.RecordAnalysis(origin, 0, monitoring.StatusError)
		log.Error("Fetch failed", "error", err, "duration_ms", fetchDuration.Milliseconds())
		return nil, fmt.Errorf("failed to fetch region data: %w", err)
	}

	res, err := a.analyze(ctx, data.Elements, region, origin)
	if err != nil {
		tracing.Fail(span, err)
		return nil, err
	}
	res.Fetch = fetchDuration
	res.Source = SourceInfo{
		Source:    data.Source,
		FetchedAt: data.FetchedAt,
		Elements:  data.ElementCounts(),
		Bytes:     data.Bytes,
		Cached:    data.Cached,
	}
	return res, nil
}

// AnalyzeElements runs the aggregation on an already decoded dataset.
func (a *Analyzer) AnalyzeElements(ctx context.Context, elements []types.Element, region types.SearchRegion, origin string) (*Result, error) {
	if err := region.Validate(); err != nil {
		monitoring.RecordAnalysis(origin, 0, monitoring.StatusInvalid)
		return nil, err
	}
	res, err := a.analyze(ctx, elements, region, origin)
	if err != nil {
		return nil, err
	}
	data := types.RegionData{Elements: elements}
	res.Source = SourceInfo{Source: "inline", Elements: data.ElementCounts()}
	return res, nil
}

func (a *Analyzer) analyze(ctx context.Context, elements []types.Element, region types.SearchRegion, origin string) (*Result, error) {
	_, span := tracing.StartSpan(ctx, "analysis.run",
		attribute.Int(tracing.AttrElementCount, len(elements)),
	)
	defer span.End()

	start := time.Now()
	out, stats, err := analysis.AnalyzeWithStats(elements, region)
	elapsed := time.Since(start)
	if err != nil {
		tracing.Fail(span, err)
		monitoring.RecordAnalysis(origin, elapsed, monitoring.StatusError)
		return nil, fmt.Errorf("analysis failed: %w", err)
	}

	monitoring.RecordAnalysis(origin, elapsed, monitoring.StatusSuccess)
	monitoring.RecordFeatures(len(out.Features.Buildings), len(out.Features.PavedRoads), len(out.Features.UnpavedRoads))

	a.logger.Info("Analysis completed",
		"region", region.String(),
		"origin", origin,
		"duration_ms", elapsed.Milliseconds(),
		"buildings", out.Metrics.BuildingCount,
		"paved_km", fmt.Sprintf("%.2f", out.Metrics.PavedRoadKm),
		"unpaved_km", fmt.Sprintf("%.2f", out.Metrics.UnpavedRoadKm),
	)
	a.logger.Debug("Analysis element stats",
		"ways", stats.Ways,
		"relations", stats.Relations,
		"unresolved_ways", stats.UnresolvedWays,
		"degenerate_rings", stats.DegenerateRings,
		"relations_no_center", stats.RelationsNoCenter,
		"dual_counted", stats.DualCounted,
		"kind_building", stats.Kinds[analysis.KindBuilding],
		"kind_paved_road", stats.Kinds[analysis.KindPavedRoad],
		"kind_unpaved_road", stats.Kinds[analysis.KindUnpavedRoad],
		"kind_ignored", stats.Kinds[analysis.KindIgnored],
	)
	if stats.Relations > 0 && stats.RelationsNoCenter == stats.Relations {
		a.logger.Warn("No building relation carried a center; relations were not counted",
			"relations", stats.Relations)
	}

	return &Result{
		Analysis: out,
		Summary:  report.Format(out.Metrics, region.RadiusMeters),
		Stats:    stats,
		Compute:  elapsed,
	}, nil
}
