// Package server exposes area analyses over HTTP.
package server

import (
	"context"
	"io/fs"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/MeKo-Tech/areastats/internal/datasource"
	"github.com/MeKo-Tech/areastats/internal/geocode"
	"github.com/MeKo-Tech/areastats/internal/pipeline"
)

// Geocoder resolves free text or "lat, lon" input to a location.
type Geocoder interface {
	Resolve(ctx context.Context, input string) (*geocode.Location, error)
}

// QueueStatus reports the state of a fetch queue.
type QueueStatus interface {
	Status() datasource.FetchQueueStatus
}

// CacheSizer reports the number of cached Overpass responses.
type CacheSizer interface {
	CacheSize() int
}

// Config configures the HTTP service.
type Config struct {
	// MaxConcurrentAnalyses bounds analyses in flight; further requests wait (default: 4)
	MaxConcurrentAnalyses int
	// AnalysisTimeout bounds fetch plus computation of one request (default: 90s)
	AnalysisTimeout time.Duration
	// RateLimit is the sustained per-IP request rate; 0 disables limiting
	RateLimit float64
	// RateBurst is the per-IP burst (default: 10)
	RateBurst int
	// MaxBodyBytes limits request bodies, raw Overpass uploads included (default: 64MB)
	MaxBodyBytes int64
	// Render holds the defaults for /api/render.png
	Render pipeline.RenderOptions
	// UI is served at / when set
	UI fs.FS
}

// DefaultConfig returns the configuration used by `areastats serve`.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentAnalyses: 4,
		AnalysisTimeout:       90 * time.Second,
		RateLimit:             2,
		RateBurst:             10,
		MaxBodyBytes:          64 << 20,
		Render:                pipeline.DefaultRenderOptions(),
	}
}

// Server serves the analysis API.
type Server struct {
	analyzer *pipeline.Analyzer
	geocoder Geocoder
	queue    QueueStatus
	cache    CacheSizer
	logger   *slog.Logger
	cfg      Config
	sem      chan struct{}
	limiter  *RateLimiter

	activeAnalyses atomic.Int32
	queuedAnalyses atomic.Int32
	totalAnalyses  atomic.Int64
	totalFailed    atomic.Int64
	current        sync.Map // request id -> region string
}

// Status is the JSON body of /status.
type Status struct {
	Analyses     AnalysisStatus               `json:"analyses"`
	Fetch        *datasource.FetchQueueStatus `json:"fetch,omitempty"`
	CacheEntries int                          `json:"cache_entries"`
}

// AnalysisStatus describes analyses handled by this process.
type AnalysisStatus struct {
	Active         int      `json:"active"`
	Queued         int      `json:"queued"`
	Total          int64    `json:"total"`
	Failed         int64    `json:"failed"`
	MaxConcurrent  int      `json:"max_concurrent"`
	CurrentRegions []string `json:"current_regions"`
}

// New creates a Server. geocoder, queue and cache may be nil.
func New(analyzer *pipeline.Analyzer, geocoder Geocoder, queue QueueStatus, cache CacheSizer, cfg Config, logger *slog.Logger) *Server {
	def := DefaultConfig()
	if cfg.MaxConcurrentAnalyses <= 0 {
		cfg.MaxConcurrentAnalyses = def.MaxConcurrentAnalyses
	}
	if cfg.AnalysisTimeout <= 0 {
		cfg.AnalysisTimeout = def.AnalysisTimeout
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = def.RateBurst
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	if cfg.Render.Style.Layers == nil {
		cfg.Render = def.Render
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		analyzer: analyzer,
		geocoder: geocoder,
		queue:    queue,
		cache:    cache,
		logger:   logger,
		cfg:      cfg,
		sem:      make(chan struct{}, cfg.MaxConcurrentAnalyses),
	}
	if cfg.RateLimit > 0 {
		s.limiter = NewRateLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}
	return s
}

// Close releases background resources.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

// Handler returns the full middleware-wrapped route table.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("/api/analyze", s.handleAnalyze)
	api.HandleFunc("/api/analyze/raw", s.handleAnalyzeRaw)
	api.HandleFunc("/api/geocode", s.handleGeocode)
	api.HandleFunc("/api/render.png", s.handleRender)

	var limited http.Handler = api
	if s.limiter != nil {
		limited = s.limiter.Middleware(api)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/", limited)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	if s.cfg.UI != nil {
		mux.Handle("/", http.FileServer(http.FS(s.cfg.UI)))
	}

	return withRequestID(withAccessLog(s.logger, withCORS(mux)))
}

// Status returns a snapshot of the service state.
func (s *Server) Status() Status {
	current := []string{}
	s.current.Range(func(_, v any) bool {
		current = append(current, v.(string))
		return true
	})

	st := Status{
		Analyses: AnalysisStatus{
			Active:         int(s.activeAnalyses.Load()),
			Queued:         int(s.queuedAnalyses.Load()),
			Total:          s.totalAnalyses.Load(),
			Failed:         s.totalFailed.Load(),
			MaxConcurrent:  s.cfg.MaxConcurrentAnalyses,
			CurrentRegions: current,
		},
	}
	if s.queue != nil {
		qs := s.queue.Status()
		st.Fetch = &qs
	}
	if s.cache != nil {
		st.CacheEntries = s.cache.CacheSize()
	}
	return st
}

// acquire waits for an analysis slot. The returned release must be called.
func (s *Server) acquire(ctx context.Context) (func(), error) {
	s.queuedAnalyses.Add(1)
	select {
	case s.sem <- struct{}{}:
		s.queuedAnalyses.Add(-1)
		s.activeAnalyses.Add(1)
		return func() {
			s.activeAnalyses.Add(-1)
			<-s.sem
		}, nil
	case <-ctx.Done():
		s.queuedAnalyses.Add(-1)
		return nil, ctx.Err()
	}
}
