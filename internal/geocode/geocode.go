// Package geocode turns free-form location input into a point, either by
// parsing a "lat, lon" pair or by asking Nominatim.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/MeKo-Tech/areastats/internal/monitoring"
	"github.com/MeKo-Tech/areastats/internal/tracing"
)

const (
	// DefaultEndpoint is the public Nominatim instance.
	DefaultEndpoint = "https://nominatim.openstreetmap.org"
	// CoordinateLabel labels locations typed in as coordinates.
	CoordinateLabel = "custom coordinate"

	serviceNominatim = "nominatim"
)

var (
	// ErrEmptyInput is returned for blank input.
	ErrEmptyInput = errors.New("empty location input")
	// ErrNotFound is returned when the geocoder has no match.
	ErrNotFound = errors.New("location not found")
	// ErrLookupFailed marks failures of the geocoding service itself.
	ErrLookupFailed = errors.New("geocoder request failed")

	coordinatePattern = regexp.MustCompile(`^\s*(-?\d+(?:\.\d+)?)\s*,\s*(-?\d+(?:\.\d+)?)\s*$`)
)

// Location is a resolved point with a human readable label.
type Location struct {
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Label string  `json:"label"`
}

// ParseCoordinates parses "lat, lon". ok is false when input is not a pair
// of decimal numbers; range checks are left to the caller.
func ParseCoordinates(input string) (lat, lon float64, ok bool) {
	m := coordinatePattern.FindStringSubmatch(input)
	if m == nil {
		return 0, 0, false
	}
	lat, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, 0, false
	}
	lon, err = strconv.ParseFloat(m[2], 64)
	if err != nil {
		return 0, 0, false
	}
	return lat, lon, true
}

// Config configures a Resolver.
type Config struct {
	Endpoint       string
	UserAgent      string
	RequestsPerSec float64 // Nominatim policy is at most 1
	HTTPClient     *http.Client
}

// Resolver resolves location input. It is safe for concurrent use.
type Resolver struct {
	endpoint  string
	userAgent string
	client    *http.Client
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewResolver creates a Resolver with the given config.
func NewResolver(cfg Config, logger *slog.Logger) *Resolver {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 1
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		endpoint:  strings.TrimRight(cfg.Endpoint, "/"),
		userAgent: cfg.UserAgent,
		client:    cfg.HTTPClient,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1),
		logger:    logger,
	}
}

type searchResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Resolve returns the location for input. Coordinate pairs never hit the network.
func (r *Resolver) Resolve(ctx context.Context, input string) (*Location, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, ErrEmptyInput
	}
	if lat, lon, ok := ParseCoordinates(input); ok {
		return &Location{Lat: lat, Lon: lon, Label: CoordinateLabel}, nil
	}

	ctx, span := tracing.StartSpan(ctx, "nominatim.search",
		attribute.String(tracing.AttrServiceName, serviceNominatim),
	)
	defer span.End()

	loc, err := r.search(ctx, input)
	if err != nil {
		tracing.Fail(span, err)
		return nil, err
	}
	return loc, nil
}

func (r *Resolver) search(ctx context.Context, query string) (*Location, error) {
	waitStart := time.Now()
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("geocoder rate limiter: %w", err)
	}
	monitoring.RecordRateLimitWait(serviceNominatim, time.Since(waitStart))

	params := url.Values{}
	params.Set("format", "jsonv2")
	params.Set("limit", "1")
	params.Set("q", query)
	reqURL := r.endpoint + "/search?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating geocoder request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		monitoring.RecordExternalRequest(serviceNominatim, time.Since(start), false)
		return nil, fmt.Errorf("%w: %w", ErrLookupFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		monitoring.RecordExternalRequest(serviceNominatim, time.Since(start), false)
		return nil, fmt.Errorf("%w: HTTP %d", ErrLookupFailed, resp.StatusCode)
	}

	var results []searchResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		monitoring.RecordExternalRequest(serviceNominatim, time.Since(start), false)
		return nil, fmt.Errorf("decoding geocoder response: %w", err)
	}
	monitoring.RecordExternalRequest(serviceNominatim, time.Since(start), true)

	r.logger.Debug("geocoder search completed",
		"query", query,
		"results", len(results),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if len(results) == 0 {
		return nil, ErrNotFound
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("geocoder returned invalid latitude %q: %w", results[0].Lat, err)
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("geocoder returned invalid longitude %q: %w", results[0].Lon, err)
	}
	return &Location{Lat: lat, Lon: lon, Label: results[0].DisplayName}, nil
}
