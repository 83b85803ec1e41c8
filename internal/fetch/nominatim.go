package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"geocode_gateway/internal/cache"
)

const (
	DefaultEndpoint  = "https://nominatim.openstreetmap.org/reverse"
	DefaultUserAgent = "geocode_gateway/1.0"
	DefaultZoom      = 18

	maxResponseBytes = 1 << 20
)

type NominatimConfig struct {
	Endpoint  string
	UserAgent string
	Zoom      int
	Client    *http.Client
}

// Nominatim talks to a Nominatim-compatible /reverse endpoint.
type Nominatim struct {
	endpoint  *url.URL
	userAgent string
	zoom      int
	client    *http.Client
}

type nominatimResponse struct {
	DisplayName *string `json:"display_name"`
	Error       string  `json:"error"`
}

func NewNominatim(cfg NominatimConfig) (*Nominatim, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("endpoint scheme %q not supported", parsed.Scheme)
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	zoom := cfg.Zoom
	if zoom <= 0 {
		zoom = DefaultZoom
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		}}
	}
	return &Nominatim{endpoint: parsed, userAgent: userAgent, zoom: zoom, client: client}, nil
}

func (n *Nominatim) Fetch(ctx context.Context, key cache.Key) (cache.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.requestURL(key), nil)
	if err != nil {
		return cache.Entry{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return cache.Entry{}, fmt.Errorf("reverse %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return cache.Entry{}, &StatusError{Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return cache.Entry{}, fmt.Errorf("read response: %w", err)
	}
	var payload nominatimResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return cache.Entry{}, errors.Join(ErrMalformedResponse, err)
	}
	if payload.DisplayName == nil || *payload.DisplayName == "" {
		return cache.Entry{Found: false, Reason: strings.TrimSpace(payload.Error)}, nil
	}
	return cache.Entry{Name: *payload.DisplayName, Found: true}, nil
}

func (n *Nominatim) requestURL(key cache.Key) string {
	target := *n.endpoint
	query := target.Query()
	query.Set("format", "json")
	query.Set("lat", strconv.FormatFloat(key.Lat, 'f', -1, 64))
	query.Set("lon", strconv.FormatFloat(key.Lon, 'f', -1, 64))
	query.Set("zoom", strconv.Itoa(n.zoom))
	query.Set("addressdetails", "0")
	target.RawQuery = query.Encode()
	return target.String()
}
