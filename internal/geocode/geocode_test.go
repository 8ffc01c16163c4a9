package geocode

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResolver(t *testing.T, handler http.HandlerFunc) (*Resolver, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	r := NewResolver(Config{
		Endpoint:       srv.URL + "/",
		UserAgent:      "areastats-test",
		RequestsPerSec: 1000,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return r, &calls
}

func TestParseCoordinates(t *testing.T) {
	tests := []struct {
		input    string
		lat, lon float64
		ok       bool
	}{
		{"52.3759, 9.7320", 52.3759, 9.7320, true},
		{"  -33.8688,151.2093  ", -33.8688, 151.2093, true},
		{"0,0", 0, 0, true},
		{"52 , 9", 52, 9, true},
		{"52.3759 9.7320", 0, 0, false},
		{"Hannover", 0, 0, false},
		{"52.,9", 0, 0, false},
		{"+52,9", 0, 0, false},
		{"1e3,2", 0, 0, false},
		{"", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			lat, lon, ok := ParseCoordinates(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.lat, lat)
			assert.Equal(t, tt.lon, lon)
		})
	}
}

func TestResolveCoordinatesSkipsNetwork(t *testing.T) {
	r, calls := testResolver(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("geocoder must not be called for coordinates")
	})

	loc, err := r.Resolve(context.Background(), "52.3759, 9.7320")
	require.NoError(t, err)
	assert.Equal(t, &Location{Lat: 52.3759, Lon: 9.7320, Label: CoordinateLabel}, loc)
	assert.Equal(t, int32(0), calls.Load())
}

func TestResolveEmpty(t *testing.T) {
	r, _ := testResolver(t, func(w http.ResponseWriter, r *http.Request) {})
	for _, input := range []string{"", "   ", "\t\n"} {
		_, err := r.Resolve(context.Background(), input)
		assert.ErrorIs(t, err, ErrEmptyInput)
	}
}

func TestResolveSearch(t *testing.T) {
	r, calls := testResolver(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "jsonv2", q.Get("format"))
		assert.Equal(t, "1", q.Get("limit"))
		assert.Equal(t, "Kröpcke, Hannover", q.Get("q"))
		assert.Equal(t, "areastats-test", r.Header.Get("User-Agent"))
		_, _ = io.WriteString(w, `[{"lat": "52.3745", "lon": "9.7386", "display_name": "Kröpcke, Mitte, Hannover"}]`)
	})

	loc, err := r.Resolve(context.Background(), "  Kröpcke, Hannover ")
	require.NoError(t, err)
	assert.InDelta(t, 52.3745, loc.Lat, 1e-9)
	assert.InDelta(t, 9.7386, loc.Lon, 1e-9)
	assert.Equal(t, "Kröpcke, Mitte, Hannover", loc.Label)
	assert.Equal(t, int32(1), calls.Load())
}

func TestResolveNotFound(t *testing.T) {
	r, _ := testResolver(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	})
	_, err := r.Resolve(context.Background(), "Atlantis")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveHTTPError(t *testing.T) {
	r, _ := testResolver(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	_, err := r.Resolve(context.Background(), "Hannover")
	require.Error(t, err)
	assert.Equal(t, "geocoder request failed: HTTP 403", err.Error())
	assert.ErrorIs(t, err, ErrLookupFailed)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestResolveInvalidPayload(t *testing.T) {
	r, _ := testResolver(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"lat": "north", "lon": "9.7", "display_name": "x"}]`)
	})
	_, err := r.Resolve(context.Background(), "Hannover")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid latitude")
}

func TestNewResolverDefaults(t *testing.T) {
	r := NewResolver(Config{}, nil)
	assert.Equal(t, DefaultEndpoint, r.endpoint)
	assert.NotNil(t, r.limiter)
	assert.NotNil(t, r.client)
}
