package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"geocode_gateway/internal/cache"
	"geocode_gateway/internal/fetch"
	"geocode_gateway/internal/lookup"
	"geocode_gateway/internal/obs"
	"geocode_gateway/internal/runtime"
)

const (
	ReversePath = "/v1/reverse"
	HealthPath  = "/healthz"
	MetricsPath = "/metrics"
)

// Resolver is the part of lookup.Coalescer the HTTP surface needs.
type Resolver interface {
	Lookup(ctx context.Context, key cache.Key) (cache.Entry, lookup.Source, error)
	Stats() lookup.Stats
}

type Options struct {
	Metrics       *obs.Metrics
	MetricsToken  string
	Inflight      *runtime.InflightTracker
	MaxQueryBytes int
	// AccessLog disables per-request log lines when false.
	AccessLog bool
}

type Handler struct {
	resolver Resolver
	options  Options
	mux      *http.ServeMux
}

type ReverseResponse struct {
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Found       bool    `json:"found"`
	DisplayName *string `json:"display_name"`
	Source      string  `json:"source"`
}

func NewHandler(resolver Resolver, options Options) *Handler {
	h := &Handler{resolver: resolver, options: options, mux: http.NewServeMux()}
	h.mux.HandleFunc(ReversePath, h.serveReverse)
	h.mux.HandleFunc(HealthPath, h.serveHealth)
	if options.Metrics != nil {
		if options.MetricsToken != "" {
			h.mux.Handle(MetricsPath, options.Metrics.ProtectedHandler(options.MetricsToken))
		} else {
			h.mux.Handle(MetricsPath, options.Metrics.Handler())
		}
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := strings.TrimSpace(r.Header.Get(RequestIDHeader))
	if requestID == "" {
		requestID = NewRequestID()
	}
	r = r.WithContext(WithRequestID(r.Context(), requestID))
	recorder := NewResponseRecorder(w)

	if r.URL.Path == ReversePath {
		h.options.Inflight.Track(func() { h.mux.ServeHTTP(recorder, r) })
	} else {
		h.mux.ServeHTTP(recorder, r)
	}

	if r.URL.Path == MetricsPath {
		return
	}
	duration := time.Since(start)
	h.options.Metrics.ObserveRequest("http", recorder.Status(), duration)
	if !h.options.AccessLog {
		return
	}
	logCtx := obs.RequestContext{
		RequestID:     requestID,
		Transport:     "http",
		Method:        r.Method,
		Path:          r.URL.Path,
		Status:        recorder.Status(),
		Duration:      duration,
		Source:        recorder.Header().Get(sourceHeader),
		ErrorCategory: recorder.ErrorCategory(),
		UserAgent:     r.UserAgent(),
		RemoteAddr:    r.RemoteAddr,
	}
	if key, err := parseKey(r); err == nil {
		logCtx.Lat = key.Lat
		logCtx.Lon = key.Lon
	}
	obs.LogAccess(logCtx)
}

const sourceHeader = "X-Geocode-Source"

func (h *Handler) serveReverse(w http.ResponseWriter, r *http.Request) {
	requestID, _ := RequestIDFromContext(r.Context())
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, requestID, http.StatusMethodNotAllowed, "method_not_allowed", "")
		return
	}
	if h.options.MaxQueryBytes > 0 && len(r.URL.RawQuery) > h.options.MaxQueryBytes {
		writeError(w, requestID, http.StatusRequestURITooLong, "query_too_long", "")
		return
	}
	key, err := parseKey(r)
	if err != nil {
		writeError(w, requestID, http.StatusBadRequest, "invalid_coordinates", "")
		return
	}

	entry, source, err := h.resolver.Lookup(r.Context(), key)
	w.Header().Set(sourceHeader, string(source))
	switch {
	case err == nil:
	case errors.Is(err, lookup.ErrInvalidKey):
		writeError(w, requestID, http.StatusBadRequest, "invalid_coordinates", "")
		return
	case errors.Is(err, lookup.ErrClosed):
		writeError(w, requestID, http.StatusServiceUnavailable, "closed", "closed")
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		if r.Context().Err() != nil {
			writeError(w, requestID, http.StatusGatewayTimeout, "client_gone", "canceled")
			return
		}
		writeError(w, requestID, http.StatusBadGateway, "lookup_failed", fetch.ClassifyError(err))
		return
	default:
		writeError(w, requestID, http.StatusBadGateway, "lookup_failed", fetch.ClassifyError(err))
		return
	}

	resp := ReverseResponse{Lat: key.Lat, Lon: key.Lon, Found: entry.Found, Source: string(source)}
	if entry.Found {
		name := entry.Name
		resp.DisplayName = &name
	}
	writeJSON(w, requestID, http.StatusOK, resp)
}

func (h *Handler) serveHealth(w http.ResponseWriter, r *http.Request) {
	requestID, _ := RequestIDFromContext(r.Context())
	stats := h.resolver.Stats()
	status := http.StatusOK
	if stats.Closed {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, requestID, status, stats)
}

func parseKey(r *http.Request) (cache.Key, error) {
	query := r.URL.Query()
	lat, err := strconv.ParseFloat(strings.TrimSpace(query.Get("lat")), 64)
	if err != nil {
		return cache.Key{}, err
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(query.Get("lon")), 64)
	if err != nil {
		return cache.Key{}, err
	}
	key := cache.NewKey(lat, lon)
	if !key.Valid() {
		return cache.Key{}, lookup.ErrInvalidKey
	}
	return key, nil
}
