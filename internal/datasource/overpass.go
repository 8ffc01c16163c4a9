package datasource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/MeKo-Tech/areastats/internal/monitoring"
	"github.com/MeKo-Tech/areastats/internal/tracing"
	"github.com/MeKo-Tech/areastats/internal/types"
)

const (
	// DefaultOverpassEndpoint is the public Overpass interpreter.
	DefaultOverpassEndpoint = "https://overpass-api.de/api/interpreter"
	// DefaultQueryTimeout is the server-side [timeout:N] of generated queries, in seconds.
	DefaultQueryTimeout = 35
	// DefaultUserAgent identifies the client to public OSM services.
	DefaultUserAgent = "areastats/0.1 (+https://github.com/MeKo-Tech/areastats)"

	serviceOverpass = "overpass"
	maxErrorBody    = 512
)

// OverpassConfig configures an OverpassDataSource.
type OverpassConfig struct {
	Endpoint        string
	UserAgent       string
	QueryTimeout    int           // seconds, sent inside the query
	HTTPTimeout     time.Duration // client-side timeout
	RequestsPerSec  float64       // <= 0 disables outbound rate limiting
	CacheSize       int           // number of cached responses, 0 disables the cache
	RelationCenters bool          // ask Overpass for relation centers
	HTTPClient      *http.Client
}

// DefaultOverpassConfig returns production defaults.
func DefaultOverpassConfig() OverpassConfig {
	return OverpassConfig{
		Endpoint:       DefaultOverpassEndpoint,
		UserAgent:      DefaultUserAgent,
		QueryTimeout:   DefaultQueryTimeout,
		HTTPTimeout:    60 * time.Second,
		RequestsPerSec: 1,
		CacheSize:      64,
	}
}

// cachedResponse is a decoded Overpass response kept in the LRU.
type cachedResponse struct {
	elements  []types.Element
	bytes     int64
	fetchedAt time.Time
}

// OverpassDataSource fetches OSM data for a search region from the Overpass API.
// It is safe for concurrent use.
type OverpassDataSource struct {
	cfg     OverpassConfig
	client  *http.Client
	limiter *rate.Limiter
	cache   *lru.Cache[string, cachedResponse]
	group   singleflight.Group
	logger  *slog.Logger
}

// NewOverpassDataSource creates a new Overpass data source.
func NewOverpassDataSource(cfg OverpassConfig, logger *slog.Logger) *OverpassDataSource {
	defaults := DefaultOverpassConfig()
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaults.Endpoint
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaults.UserAgent
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = defaults.QueryTimeout
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = defaults.HTTPTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.HTTPTimeout}
	}

	ds := &OverpassDataSource{
		cfg:    cfg,
		client: client,
		logger: logger,
	}
	if cfg.RequestsPerSec > 0 {
		ds.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1)
	}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[string, cachedResponse](cfg.CacheSize)
		if err != nil {
			logger.Warn("Overpass cache disabled", "size", cfg.CacheSize, "error", err)
		} else {
			ds.cache = cache
		}
	}
	return ds
}

// Endpoint returns the configured interpreter URL.
func (ds *OverpassDataSource) Endpoint() string {
	return ds.cfg.Endpoint
}

// QueryOption tweaks a generated query.
type QueryOption func(*queryOptions)

type queryOptions struct {
	relationCenters bool
}

// WithRelationCenters makes Overpass attach a center to every way and relation.
// Without it, building relations carry no center and are never counted.
func WithRelationCenters() QueryOption {
	return func(o *queryOptions) { o.relationCenters = true }
}

// BuildAroundQuery returns the Overpass QL query for all buildings and
// highways within the region, plus the nodes they reference.
func BuildAroundQuery(region types.SearchRegion, timeoutSec int, opts ...QueryOption) string {
	var o queryOptions
	for _, opt := range opts {
		opt(&o)
	}
	if timeoutSec <= 0 {
		timeoutSec = DefaultQueryTimeout
	}

	around := fmt.Sprintf("(around:%d,%s,%s)",
		int64(math.Round(region.RadiusMeters)),
		strconv.FormatFloat(region.Lat(), 'f', -1, 64),
		strconv.FormatFloat(region.Lon(), 'f', -1, 64),
	)

	out := "out body;"
	if o.relationCenters {
		out = "out body center;"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[out:json][timeout:%d];\n", timeoutSec)
	sb.WriteString("(\n")
	fmt.Fprintf(&sb, "  way[\"building\"]%s;\n", around)
	fmt.Fprintf(&sb, "  relation[\"building\"]%s;\n", around)
	fmt.Fprintf(&sb, "  way[\"highway\"]%s;\n", around)
	sb.WriteString(");\n")
	sb.WriteString(out + "\n")
	sb.WriteString(">;\n")
	sb.WriteString("out skel qt;")
	return sb.String()
}

// FetchRegion fetches every building and highway around the region center.
// Identical concurrent requests share one HTTP round trip.
func (ds *OverpassDataSource) FetchRegion(ctx context.Context, region types.SearchRegion) (*types.RegionData, error) {
	var opts []QueryOption
	if ds.cfg.RelationCenters {
		opts = append(opts, WithRelationCenters())
	}
	query := BuildAroundQuery(region, ds.cfg.QueryTimeout, opts...)

	if ds.cache != nil {
		if hit, ok := ds.cache.Get(query); ok {
			monitoring.RecordCacheHit(serviceOverpass, true)
			ds.logger.Debug("Overpass cache hit", "region", region.String(), "elements", len(hit.elements))
			return newRegionData(region, hit, true), nil
		}
		monitoring.RecordCacheHit(serviceOverpass, false)
	}

	// The shared request must outlive any single caller, so it runs detached
	// from ctx and bounded by the HTTP timeout; each caller waits on its own ctx.
	ch := ds.group.DoChan(query, func() (interface{}, error) {
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ds.cfg.HTTPTimeout)
		defer cancel()
		return ds.query(qctx, query)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, &FetchError{Err: fmt.Errorf("waiting for overpass: %w", ctx.Err())}
	}
	if res.Err != nil {
		return nil, res.Err
	}
	resp := res.Val.(cachedResponse)
	if res.Shared {
		ds.logger.Debug("Overpass request shared with concurrent caller", "region", region.String())
	}
	if ds.cache != nil {
		ds.cache.Add(query, resp)
	}
	return newRegionData(region, resp, false), nil
}

func newRegionData(region types.SearchRegion, resp cachedResponse, cached bool) *types.RegionData {
	// Each caller gets its own slice header; the elements themselves are read-only.
	elements := make([]types.Element, len(resp.elements))
	copy(elements, resp.elements)
	return &types.RegionData{
		FetchedAt: resp.fetchedAt,
		Source:    "overpass-api",
		Elements:  elements,
		Region:    region,
		Bytes:     resp.bytes,
		Cached:    cached,
	}
}

func (ds *OverpassDataSource) query(ctx context.Context, query string) (cachedResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "overpass.query",
		attribute.String(tracing.AttrServiceName, serviceOverpass),
	)
	defer span.End()

	if ds.limiter != nil {
		waitStart := time.Now()
		if err := ds.limiter.Wait(ctx); err != nil {
			tracing.Fail(span, err)
			return cachedResponse{}, &FetchError{Err: fmt.Errorf("rate limiter: %w", err)}
		}
		monitoring.RecordRateLimitWait(serviceOverpass, time.Since(waitStart))
	}

	start := time.Now()
	resp, err := ds.post(ctx, query)
	monitoring.RecordExternalRequest(serviceOverpass, time.Since(start), err == nil)
	if err != nil {
		tracing.Fail(span, err)
		ds.logger.Warn("Overpass request failed", "duration_ms", time.Since(start).Milliseconds(), "error", err)
		return cachedResponse{}, err
	}

	span.SetAttributes(
		attribute.Int(tracing.AttrElementCount, len(resp.elements)),
		attribute.Int64(tracing.AttrResponseBytes, resp.bytes),
	)
	ds.logger.Debug("Overpass request completed",
		"duration_ms", time.Since(start).Milliseconds(),
		"elements", len(resp.elements),
		"bytes", resp.bytes,
	)
	return resp, nil
}

func (ds *OverpassDataSource) post(ctx context.Context, query string) (cachedResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ds.cfg.Endpoint, strings.NewReader(query))
	if err != nil {
		return cachedResponse{}, &FetchError{Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", ds.cfg.UserAgent)

	resp, err := ds.client.Do(req)
	if err != nil {
		return cachedResponse{}, &FetchError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return cachedResponse{}, &FetchError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return cachedResponse{}, &FetchError{StatusCode: resp.StatusCode, Err: fmt.Errorf("reading body: %w", err)}
	}

	elements, err := DecodeOverpassJSON(data)
	if err != nil {
		return cachedResponse{}, &FetchError{StatusCode: resp.StatusCode, Err: err}
	}

	return cachedResponse{
		elements:  elements,
		bytes:     int64(len(data)),
		fetchedAt: time.Now(),
	}, nil
}

// Close releases cached responses.
func (ds *OverpassDataSource) Close() error {
	ds.ClearCache()
	return nil
}

// ClearCache drops all cached responses.
func (ds *OverpassDataSource) ClearCache() {
	if ds.cache != nil {
		ds.cache.Purge()
	}
}

// CacheSize returns the number of cached responses.
func (ds *OverpassDataSource) CacheSize() int {
	if ds.cache == nil {
		return 0
	}
	return ds.cache.Len()
}

// ErrFetchFailed is matched by every error FetchRegion returns for a failed
// upstream request, regardless of the underlying cause.
var ErrFetchFailed = errors.New("fetch failed")

// FetchError describes a failed Overpass request.
type FetchError struct {
	StatusCode int
	Status     string
	Body       string
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err == nil:
		msg := fmt.Sprintf("Overpass request failed (%d)", e.StatusCode)
		if e.Body != "" {
			msg += ": " + firstLine(e.Body)
		}
		return msg
	case e.StatusCode != 0:
		return fmt.Sprintf("Overpass request failed (%d): %v", e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("Overpass request failed: %v", e.Err)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is reports ErrFetchFailed as a match.
func (e *FetchError) Is(target error) bool {
	return target == ErrFetchFailed
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
