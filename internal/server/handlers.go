package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/areastats/internal/datasource"
	"github.com/MeKo-Tech/areastats/internal/geocode"
	"github.com/MeKo-Tech/areastats/internal/geojson"
	"github.com/MeKo-Tech/areastats/internal/pipeline"
	"github.com/MeKo-Tech/areastats/internal/report"
	"github.com/MeKo-Tech/areastats/internal/types"
)

// DefaultRadiusKm is used when a request names no radius.
const DefaultRadiusKm = 1.0

// AnalyzeRequest is the JSON body accepted by POST /api/analyze. The same
// fields are read from the query string. Query is geocoded when no
// coordinates are given.
type AnalyzeRequest struct {
	Lat    *float64 `json:"lat,omitempty"`
	Lon    *float64 `json:"lon,omitempty"`
	Radius *float64 `json:"radius,omitempty"`
	Units  string   `json:"units,omitempty"`
	Query  string   `json:"q,omitempty"`
}

// RegionInfo echoes the analyzed circle.
type RegionInfo struct {
	Lat          float64 `json:"lat"`
	Lon          float64 `json:"lon"`
	RadiusMeters float64 `json:"radius_m"`
	Label        string  `json:"label,omitempty"`
}

// AnalyzeResponse is the JSON body of a successful analysis.
type AnalyzeResponse struct {
	Region   RegionInfo              `json:"region"`
	Metrics  types.MetricsResult     `json:"metrics"`
	Features types.FeatureGeometries `json:"features"`
	Summary  report.Summary          `json:"summary"`
	Source   pipeline.SourceInfo     `json:"source"`
	Timing   Timing                  `json:"timing"`
}

// Timing splits request latency into fetch and compute.
type Timing struct {
	FetchMs   int64 `json:"fetch_ms"`
	ComputeMs int64 `json:"compute_ms"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		methodNotAllowed(w, "GET, POST")
		return
	}

	req, err := s.readAnalyzeRequest(r)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	s.runAnalysis(w, r, req, func(ctx context.Context, region types.SearchRegion) (*pipeline.Result, error) {
		return s.analyzer.Analyze(ctx, region, pipeline.OriginHTTP)
	}, func(res *pipeline.Result, label string) {
		s.writeAnalysis(w, r, res, label)
	})
}

func (s *Server) handleAnalyzeRaw(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}

	req, err := analyzeRequestFromQuery(r.URL.Query())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, types.CodeInvalidInput,
			"request body too large or unreadable", "Send at most "+strconv.FormatInt(s.cfg.MaxBodyBytes, 10)+" bytes")
		return
	}
	elements, err := datasource.DecodeOverpassJSON(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, types.CodeInvalidInput,
			err.Error(), "Send the JSON output of an Overpass query ([out:json])")
		return
	}

	s.runAnalysis(w, r, req, func(ctx context.Context, region types.SearchRegion) (*pipeline.Result, error) {
		return s.analyzer.AnalyzeElements(ctx, elements, region, pipeline.OriginHTTP)
	}, func(res *pipeline.Result, label string) {
		s.writeAnalysis(w, r, res, label)
	})
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}

	q := r.URL.Query()
	req, err := analyzeRequestFromQuery(q)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	opts, err := renderOptionsFromQuery(s.cfg.Render, q)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	s.runAnalysis(w, r, req, func(ctx context.Context, region types.SearchRegion) (*pipeline.Result, error) {
		return s.analyzer.Analyze(ctx, region, pipeline.OriginHTTP)
	}, func(res *pipeline.Result, _ string) {
		img, window, err := pipeline.Render(res.Analysis, opts)
		if err != nil {
			writeError(w, http.StatusBadRequest, types.CodeInvalidInput, err.Error(), "Request a lower zoom")
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("X-Tile-Window", fmt.Sprintf("z=%d x=%.0f y=%.0f w=%d h=%d",
			window.Zoom, window.MinX, window.MinY, window.Width, window.Height))
		if err := pipeline.EncodePNG(w, img); err != nil {
			s.logger.Error("failed to encode overlay", "request_id", RequestID(r.Context()), "error", err)
		}
	})
}

func (s *Server) handleGeocode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	if s.geocoder == nil {
		writeError(w, http.StatusNotImplemented, types.CodeInternal, "geocoding is not configured", "")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.AnalysisTimeout)
	defer cancel()

	loc, err := s.geocoder.Resolve(ctx, r.URL.Query().Get("q"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, s.Status())
}

// runAnalysis resolves the request to a region, waits for an analysis slot
// and hands a successful result to write.
func (s *Server) runAnalysis(
	w http.ResponseWriter,
	r *http.Request,
	req AnalyzeRequest,
	run func(context.Context, types.SearchRegion) (*pipeline.Result, error),
	write func(*pipeline.Result, string),
) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.AnalysisTimeout)
	defer cancel()

	region, label, err := s.resolveRegion(ctx, req)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	release, err := s.acquire(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, types.CodeInternal,
			"timed out waiting for a free analysis slot", "Retry later")
		return
	}
	defer release()

	id := RequestID(r.Context())
	s.current.Store(id, region.String())
	defer s.current.Delete(id)

	res, err := run(ctx, region)
	s.totalAnalyses.Add(1)
	if err != nil {
		s.totalFailed.Add(1)
		s.writeFailure(w, r, err)
		return
	}
	write(res, label)
}

func (s *Server) writeAnalysis(w http.ResponseWriter, r *http.Request, res *pipeline.Result, label string) {
	if strings.EqualFold(r.URL.Query().Get("format"), "geojson") {
		data, err := geojson.ToGeoJSONBytes(res.Analysis)
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}

	region := res.Analysis.Region
	writeJSON(w, http.StatusOK, AnalyzeResponse{
		Region: RegionInfo{
			Lat:          region.Lat(),
			Lon:          region.Lon(),
			RadiusMeters: region.RadiusMeters,
			Label:        label,
		},
		Metrics:  res.Analysis.Metrics,
		Features: res.Analysis.Features,
		Summary:  res.Summary,
		Source:   res.Source,
		Timing:   Timing{FetchMs: res.Fetch.Milliseconds(), ComputeMs: res.Compute.Milliseconds()},
	})
}

func (s *Server) readAnalyzeRequest(r *http.Request) (AnalyzeRequest, error) {
	if r.Method == http.MethodPost {
		ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if ct == "application/json" {
			var req AnalyzeRequest
			dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
			if err := dec.Decode(&req); err != nil {
				return AnalyzeRequest{}, types.ValidationError{
					Code:     types.CodeInvalidInput,
					Message:  "invalid JSON body: " + err.Error(),
					Guidance: `Send {"lat":..,"lon":..,"radius":..,"units":"km"}`,
				}
			}
			return req, nil
		}
		if err := r.ParseForm(); err != nil {
			return AnalyzeRequest{}, types.ValidationError{Code: types.CodeInvalidInput, Message: err.Error()}
		}
		return analyzeRequestFromQuery(r.Form)
	}
	return analyzeRequestFromQuery(r.URL.Query())
}

func analyzeRequestFromQuery(q url.Values) (AnalyzeRequest, error) {
	req := AnalyzeRequest{
		Units: q.Get("units"),
		Query: strings.TrimSpace(q.Get("q")),
	}
	fields := []struct {
		name, code, guidance string
		dst                  **float64
	}{
		{"lat", types.CodeInvalidLatitude, "Ensure latitude is in decimal degrees", &req.Lat},
		{"lon", types.CodeInvalidLongitude, "Ensure longitude is in decimal degrees", &req.Lon},
		{"radius", types.CodeInvalidRadius, "Enter a valid radius greater than 0", &req.Radius},
	}
	for _, f := range fields {
		raw := strings.TrimSpace(q.Get(f.name))
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return AnalyzeRequest{}, types.ValidationError{
				Code:     f.code,
				Message:  fmt.Sprintf("%s is not a number: %q", f.name, raw),
				Guidance: f.guidance,
			}
		}
		*f.dst = &v
	}
	return req, nil
}

// resolveRegion turns a request into a search circle, geocoding Query when
// no coordinates were given. The label names the resolved place.
func (s *Server) resolveRegion(ctx context.Context, req AnalyzeRequest) (types.SearchRegion, string, error) {
	unit, err := types.ParseUnit(req.Units)
	if err != nil {
		return types.SearchRegion{}, "", err
	}
	radiusValue := DefaultRadiusKm
	if unit == types.UnitMiles {
		radiusValue = DefaultRadiusKm * 1000 / types.MetersPerMile
	}
	if req.Radius != nil {
		radiusValue = *req.Radius
	}
	radius, err := types.RadiusMeters(radiusValue, unit)
	if err != nil {
		return types.SearchRegion{}, "", err
	}

	switch {
	case req.Lat != nil && req.Lon != nil:
		return types.NewSearchRegion(*req.Lat, *req.Lon, radius), geocode.CoordinateLabel, nil
	case req.Lat != nil:
		return types.SearchRegion{}, "", types.ValidationError{
			Code: types.CodeInvalidLongitude, Message: "longitude is required with latitude",
			Guidance: "Pass both lat and lon",
		}
	case req.Lon != nil:
		return types.SearchRegion{}, "", types.ValidationError{
			Code: types.CodeInvalidLatitude, Message: "latitude is required with longitude",
			Guidance: "Pass both lat and lon",
		}
	case req.Query != "" && s.geocoder != nil:
		loc, err := s.geocoder.Resolve(ctx, req.Query)
		if err != nil {
			return types.SearchRegion{}, "", err
		}
		return types.NewSearchRegion(loc.Lat, loc.Lon, radius), loc.Label, nil
	default:
		return types.SearchRegion{}, "", types.ValidationError{
			Code:     types.CodeInvalidInput,
			Message:  "no location given",
			Guidance: "Pass lat and lon, or q with a place name",
		}
	}
}

func renderOptionsFromQuery(base pipeline.RenderOptions, q url.Values) (pipeline.RenderOptions, error) {
	opts := base
	opts.Style = base.Style.Clone()
	if raw := q.Get("zoom"); raw != "" {
		z, err := strconv.Atoi(raw)
		if err != nil || z < 1 || z > 20 {
			return opts, types.ValidationError{
				Code: types.CodeInvalidInput, Message: fmt.Sprintf("invalid zoom %q", raw),
				Guidance: "Use a zoom between 1 and 20",
			}
		}
		opts.Zoom = z
	}
	if raw := q.Get("hide"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			opts.Style.Hide(geojson.LayerType(strings.TrimSpace(name)))
		}
	}
	return opts, nil
}

// writeFailure maps an analysis error to a status code and error body.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var verr types.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Code, verr.Message, verr.Guidance)
	case errors.Is(err, geocode.ErrEmptyInput):
		writeError(w, http.StatusBadRequest, types.CodeInvalidInput, err.Error(), "Enter an address or coordinates")
	case errors.Is(err, geocode.ErrNotFound):
		writeError(w, http.StatusNotFound, types.CodeNotFound, err.Error(), "Try a different search term")
	case errors.Is(err, geocode.ErrLookupFailed):
		writeError(w, http.StatusBadGateway, types.CodeFetchFailed, err.Error(), "Retry in a few seconds or enter coordinates")
	case errors.Is(err, datasource.ErrFetchFailed):
		s.logger.Warn("upstream fetch failed", "request_id", RequestID(r.Context()), "error", err)
		writeError(w, http.StatusBadGateway, types.CodeFetchFailed, err.Error(), "Retry in a few seconds")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, types.CodeFetchFailed, "analysis timed out", "Try a smaller radius")
	default:
		s.logger.Error("request failed", "request_id", RequestID(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, types.CodeInternal, err.Error(), "")
	}
}

func writeError(w http.ResponseWriter, status int, code, message, guidance string) {
	writeJSON(w, status, types.ValidationError{Code: code, Message: message, Guidance: guidance})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func methodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	writeError(w, http.StatusMethodNotAllowed, types.CodeInvalidInput, "method not allowed", "Use "+allow)
}
