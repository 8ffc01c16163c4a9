package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/areastats/internal/datasource"
	"github.com/MeKo-Tech/areastats/internal/geocode"
	"github.com/MeKo-Tech/areastats/internal/pipeline"
	"github.com/MeKo-Tech/areastats/internal/types"
)

const (
	centerLat = 52.3759
	centerLon = 9.7320
)

type stubFetcher struct {
	elements []types.Element
	err      error
	calls    int
}

func (s *stubFetcher) FetchRegion(ctx context.Context, region types.SearchRegion) (*types.RegionData, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &types.RegionData{Region: region, Elements: s.elements, Source: "stub"}, nil
}

type stubGeocoder struct{}

func (stubGeocoder) Resolve(ctx context.Context, input string) (*geocode.Location, error) {
	switch strings.TrimSpace(input) {
	case "":
		return nil, geocode.ErrEmptyInput
	case "Hannover":
		return &geocode.Location{Lat: centerLat, Lon: centerLon, Label: "Hannover, Niedersachsen, Deutschland"}, nil
	case "down":
		return nil, errors.Join(geocode.ErrLookupFailed, errors.New("HTTP 503"))
	default:
		return nil, geocode.ErrNotFound
	}
}

type stubQueue struct{}

func (stubQueue) Status() datasource.FetchQueueStatus {
	return datasource.FetchQueueStatus{ActiveFetches: 1, TotalCompleted: 7}
}

type stubCache struct{}

func (stubCache) CacheSize() int { return 3 }

// testElements is one 20 m square building at the center, a paved road
// 30 m north and an unpaved track 30 m south.
func testElements() []types.Element {
	const mLat = 111320.0
	mLon := mLat * 0.6103
	node := func(id int64, dx, dy float64) types.Element {
		return types.Element{ID: id, Type: types.ElementNode, Lat: centerLat + dy/mLat, Lon: centerLon + dx/mLon}
	}
	return []types.Element{
		node(1, -10, -10), node(2, 10, -10), node(3, 10, 10), node(4, -10, 10),
		node(5, -100, 30), node(6, 100, 30),
		node(7, -100, -30), node(8, 100, -30),
		{ID: 10, Type: types.ElementWay, Nodes: []int64{1, 2, 3, 4}, Tags: map[string]string{"building": "yes"}},
		{ID: 11, Type: types.ElementWay, Nodes: []int64{5, 6}, Tags: map[string]string{"highway": "residential"}},
		{ID: 12, Type: types.ElementWay, Nodes: []int64{7, 8}, Tags: map[string]string{"highway": "track", "surface": "gravel"}},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, fetcher *stubFetcher, mutate func(*Config)) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.RateLimit = 0
	cfg.UI = fstest.MapFS{"index.html": {Data: []byte("<html>areastats</html>")}}
	if mutate != nil {
		mutate(&cfg)
	}
	s := New(pipeline.NewAnalyzer(fetcher, testLogger()), stubGeocoder{}, stubQueue{}, stubCache{}, cfg, testLogger())
	t.Cleanup(s.Close)
	return s
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) types.ValidationError {
	t.Helper()
	var body types.ValidationError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func analyzeURL(params map[string]string) string {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	return "/api/analyze?" + q.Encode()
}

func TestAnalyzeGet(t *testing.T) {
	fetcher := &stubFetcher{elements: testElements()}
	h := newTestServer(t, fetcher, nil).Handler()

	rec := do(t, h, httptest.NewRequest(http.MethodGet,
		analyzeURL(map[string]string{"lat": "52.3759", "lon": "9.7320", "radius": "0.5"}), nil))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	var resp AnalyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 500.0, resp.Region.RadiusMeters)
	assert.Equal(t, geocode.CoordinateLabel, resp.Region.Label)
	assert.Equal(t, 1, resp.Metrics.BuildingCount)
	assert.InDelta(t, 0.2, resp.Metrics.PavedRoadKm, 0.01)
	assert.InDelta(t, 0.2, resp.Metrics.UnpavedRoadKm, 0.01)
	assert.Len(t, resp.Features.Buildings, 1)
	assert.Equal(t, "1", resp.Summary.BuildingCount)
	assert.Equal(t, "stub", resp.Source.Source)
	assert.Equal(t, 1, fetcher.calls)
}

func TestAnalyzeMiles(t *testing.T) {
	h := newTestServer(t, &stubFetcher{elements: testElements()}, nil).Handler()

	rec := do(t, h, httptest.NewRequest(http.MethodGet,
		analyzeURL(map[string]string{"lat": "52.3759", "lon": "9.7320", "radius": "1", "units": "mi"}), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp AnalyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.InDelta(t, types.MetersPerMile, resp.Region.RadiusMeters, 1e-9)
}

func TestAnalyzeDefaultRadius(t *testing.T) {
	h := newTestServer(t, &stubFetcher{elements: testElements()}, nil).Handler()

	rec := do(t, h, httptest.NewRequest(http.MethodGet,
		analyzeURL(map[string]string{"lat": "52.3759", "lon": "9.7320"}), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp AnalyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1000.0, resp.Region.RadiusMeters)
}

func TestAnalyzePostJSON(t *testing.T) {
	h := newTestServer(t, &stubFetcher{elements: testElements()}, nil).Handler()

	body := `{"lat":52.3759,"lon":9.7320,"radius":300,"units":"km"}`
	req := httptest.NewRequest(http.MethodPost, "/api/analyze", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rec := do(t, h, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp AnalyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 300000.0, resp.Region.RadiusMeters)
}

func TestAnalyzePostForm(t *testing.T) {
	h := newTestServer(t, &stubFetcher{elements: testElements()}, nil).Handler()

	form := url.Values{"lat": {"52.3759"}, "lon": {"9.7320"}, "radius": {"0.2"}}
	req := httptest.NewRequest(http.MethodPost, "/api/analyze", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := do(t, h, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestAnalyzeGeocodesQuery(t *testing.T) {
	h := newTestServer(t, &stubFetcher{elements: testElements()}, nil).Handler()

	rec := do(t, h, httptest.NewRequest(http.MethodGet,
		analyzeURL(map[string]string{"q": "Hannover", "radius": "0.5"}), nil))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp AnalyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Hannover, Niedersachsen, Deutschland", resp.Region.Label)
	assert.Equal(t, centerLat, resp.Region.Lat)
}

func TestAnalyzeGeoJSON(t *testing.T) {
	h := newTestServer(t, &stubFetcher{elements: testElements()}, nil).Handler()

	rec := do(t, h, httptest.NewRequest(http.MethodGet,
		analyzeURL(map[string]string{"lat": "52.3759", "lon": "9.7320", "radius": "0.5", "format": "geojson"}), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))

	var fc struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fc))
	assert.Equal(t, "FeatureCollection", fc.Type)
	// building, two roads and the search area point
	assert.Len(t, fc.Features, 4)
}

func TestAnalyzeValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]string
		code   string
	}{
		{"latitude out of range", map[string]string{"lat": "95", "lon": "9.7", "radius": "1"}, types.CodeInvalidLatitude},
		{"latitude not a number", map[string]string{"lat": "north", "lon": "9.7", "radius": "1"}, types.CodeInvalidLatitude},
		{"longitude out of range", map[string]string{"lat": "52", "lon": "181", "radius": "1"}, types.CodeInvalidLongitude},
		{"longitude missing", map[string]string{"lat": "52", "radius": "1"}, types.CodeInvalidLongitude},
		{"latitude missing", map[string]string{"lon": "9.7", "radius": "1"}, types.CodeInvalidLatitude},
		{"zero radius", map[string]string{"lat": "52", "lon": "9.7", "radius": "0"}, types.CodeInvalidRadius},
		{"negative radius", map[string]string{"lat": "52", "lon": "9.7", "radius": "-2"}, types.CodeInvalidRadius},
		{"radius not a number", map[string]string{"lat": "52", "lon": "9.7", "radius": "far"}, types.CodeInvalidRadius},
		{"unknown units", map[string]string{"lat": "52", "lon": "9.7", "radius": "1", "units": "ft"}, types.CodeInvalidUnits},
		{"no location", map[string]string{"radius": "1"}, types.CodeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := &stubFetcher{elements: testElements()}
			h := newTestServer(t, fetcher, nil).Handler()

			rec := do(t, h, httptest.NewRequest(http.MethodGet, analyzeURL(tt.params), nil))

			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			body := decodeError(t, rec)
			assert.Equal(t, tt.code, body.Code)
			assert.NotEmpty(t, body.Message)
			assert.Zero(t, fetcher.calls, "invalid input must not reach the data source")
		})
	}
}

func TestAnalyzeFetchFailure(t *testing.T) {
	fetcher := &stubFetcher{err: &datasource.FetchError{StatusCode: 429, Status: "429 Too Many Requests", Body: "rate_limited"}}
	s := newTestServer(t, fetcher, nil)

	rec := do(t, s.Handler(), httptest.NewRequest(http.MethodGet,
		analyzeURL(map[string]string{"lat": "52.3759", "lon": "9.7320", "radius": "1"}), nil))

	require.Equal(t, http.StatusBadGateway, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, types.CodeFetchFailed, body.Code)
	assert.Contains(t, body.Message, "Overpass request failed (429)")

	st := s.Status()
	assert.Equal(t, int64(1), st.Analyses.Total)
	assert.Equal(t, int64(1), st.Analyses.Failed)
}

func TestAnalyzeMethodNotAllowed(t *testing.T) {
	h := newTestServer(t, &stubFetcher{}, nil).Handler()

	rec := do(t, h, httptest.NewRequest(http.MethodPut, "/api/analyze", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, POST", rec.Header().Get("Allow"))
}

func TestAnalyzeRaw(t *testing.T) {
	fetcher := &stubFetcher{}
	h := newTestServer(t, fetcher, nil).Handler()

	payload, err := json.Marshal(map[string]any{"version": 0.6, "elements": testElements()})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/analyze/raw?lat=52.3759&lon=9.7320&radius=0.5", bytes.NewReader(payload))
	rec := do(t, h, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp AnalyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Metrics.BuildingCount)
	assert.Equal(t, "inline", resp.Source.Source)
	assert.Zero(t, fetcher.calls)
}

func TestAnalyzeRawRejectsInvalidBody(t *testing.T) {
	h := newTestServer(t, &stubFetcher{}, nil).Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/analyze/raw?lat=52&lon=9&radius=1", strings.NewReader("<osm/>"))
	rec := do(t, h, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, types.CodeInvalidInput, decodeError(t, rec).Code)
}

func TestAnalyzeRawBodyLimit(t *testing.T) {
	h := newTestServer(t, &stubFetcher{}, func(c *Config) { c.MaxBodyBytes = 16 }).Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/analyze/raw?lat=52&lon=9&radius=1",
		strings.NewReader(`{"elements":[{"type":"node","id":1,"lat":52,"lon":9}]}`))
	rec := do(t, h, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestGeocode(t *testing.T) {
	h := newTestServer(t, &stubFetcher{}, nil).Handler()

	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/api/geocode?q=Hannover", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var loc geocode.Location
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &loc))
	assert.Equal(t, centerLat, loc.Lat)

	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/api/geocode?q=Atlantis", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, types.CodeNotFound, decodeError(t, rec).Code)

	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/api/geocode?q=", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/api/geocode?q=down", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestRenderPNG(t *testing.T) {
	h := newTestServer(t, &stubFetcher{elements: testElements()}, nil).Handler()

	rec := do(t, h, httptest.NewRequest(http.MethodGet,
		"/api/render.png?lat=52.3759&lon=9.7320&radius=0.2&hide=unpaved_roads", nil))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("X-Tile-Window"), "z=18")

	img, err := png.Decode(rec.Body)
	require.NoError(t, err)
	assert.Greater(t, img.Bounds().Dx(), 0)
}

func TestRenderRejectsBadZoom(t *testing.T) {
	h := newTestServer(t, &stubFetcher{elements: testElements()}, nil).Handler()

	rec := do(t, h, httptest.NewRequest(http.MethodGet,
		"/api/render.png?lat=52.3759&lon=9.7320&radius=0.2&zoom=99", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRenderOptionsDoNotLeak(t *testing.T) {
	base := pipeline.DefaultRenderOptions()
	opts, err := renderOptionsFromQuery(base, url.Values{"hide": {"buildings"}})
	require.NoError(t, err)

	assert.True(t, opts.Style.Hidden["buildings"])
	assert.False(t, base.Style.Hidden["buildings"])
}

func TestStatus(t *testing.T) {
	h := newTestServer(t, &stubFetcher{}, func(c *Config) { c.MaxConcurrentAnalyses = 3 }).Handler()

	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 3, st.Analyses.MaxConcurrent)
	assert.Equal(t, 3, st.CacheEntries)
	require.NotNil(t, st.Fetch)
	assert.Equal(t, int64(7), st.Fetch.TotalCompleted)
}

func TestHealthzMetricsAndUI(t *testing.T) {
	h := newTestServer(t, &stubFetcher{}, nil).Handler()

	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "areastats_http_requests_total")

	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "areastats")
}

func TestAcquireHonoursContext(t *testing.T) {
	s := newTestServer(t, &stubFetcher{}, func(c *Config) { c.MaxConcurrentAnalyses = 1 })

	release, err := s.acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, s.Status().Analyses.Active)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, s.Status().Analyses.Queued)

	release()
	assert.Equal(t, 0, s.Status().Analyses.Active)
}
