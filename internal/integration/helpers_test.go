package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"geocode_gateway/internal/api"
	"geocode_gateway/internal/breaker"
	"geocode_gateway/internal/cache"
	"geocode_gateway/internal/config"
	"geocode_gateway/internal/fetch"
	"geocode_gateway/internal/limits"
	"geocode_gateway/internal/lookup"
	"geocode_gateway/internal/obs"
	"geocode_gateway/internal/rpc"
	"geocode_gateway/internal/runtime"
	"geocode_gateway/internal/schedule"
	"geocode_gateway/internal/server"
	"geocode_gateway/internal/transport"
)

type gateway struct {
	server    *server.Server
	coalescer *lookup.Coalescer
	metrics   *obs.Metrics
	service   *rpc.Service
	upstream  *http.Transport
}

func buildConfig(upstreamURL string, extra string) string {
	cfg := fmt.Sprintf(`{
"listen_addr": "127.0.0.1:0",
"grpc_addr": "127.0.0.1:0",
"upstream": {"url": %q, "user_agent": "geocode-integration"},
"logging": {"disable_access_log": true}`, upstreamURL)
	if extra != "" {
		cfg += ",\n" + extra
	}
	return cfg + "\n}"
}

func startGateway(t *testing.T, cfgJSON string) *gateway {
	t.Helper()
	cfg, err := config.ParseJSON([]byte(cfgJSON))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if _, err := config.Validate(cfg); err != nil {
		t.Fatalf("validate config: %v", err)
	}
	limitConfig, err := limits.FromConfig(cfg.Limits)
	if err != nil {
		t.Fatalf("limits: %v", err)
	}
	shutdownConfig, err := runtime.ShutdownFromConfig(cfg.Shutdown)
	if err != nil {
		t.Fatalf("shutdown config: %v", err)
	}

	metrics := obs.NewMetrics()
	upstreamTransport := transport.NewTransport(transport.FromConfig(cfg.Upstream))
	nominatim, err := fetch.NewNominatim(fetch.NominatimConfig{
		Endpoint:  cfg.Upstream.URL,
		UserAgent: cfg.Upstream.UserAgent,
		Client:    &http.Client{Transport: upstreamTransport},
	})
	if err != nil {
		t.Fatalf("nominatim: %v", err)
	}
	var fetcher fetch.Fetcher = nominatim
	if cfg.Breaker.Enabled {
		b := breaker.New(breaker.Config{
			Enabled:                     true,
			FailureRateThresholdPercent: cfg.Breaker.FailureRateThresholdPercent,
			MinimumRequests:             cfg.Breaker.MinimumRequests,
			EvaluationWindow:            time.Duration(cfg.Breaker.EvaluationWindowMS) * time.Millisecond,
			OpenDuration:                time.Duration(cfg.Breaker.OpenDurationMS) * time.Millisecond,
		}, breaker.WithStateChange(func(state breaker.State) {
			metrics.SetBreakerOpen(state == breaker.StateOpen)
		}))
		fetcher = fetch.NewGuard(nominatim, b)
	}

	coalescer, err := lookup.NewCoalescer(lookup.Config{
		Fetcher:      fetcher,
		Store:        cache.NewMemoryStore(),
		Scheduler:    schedule.Real{},
		Metrics:      metrics,
		QuietWindow:  time.Duration(cfg.Lookup.QuietWindowMS) * time.Millisecond,
		FetchTimeout: time.Duration(cfg.Lookup.FetchTimeoutMS) * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("coalescer: %v", err)
	}

	inflight := runtime.NewInflightTracker()
	handler := api.NewHandler(coalescer, api.Options{
		Metrics:       metrics,
		MetricsToken:  config.MetricsToken(cfg),
		Inflight:      inflight,
		MaxQueryBytes: limitConfig.MaxQueryBytes,
	})
	service := rpc.NewService(coalescer, rpc.Options{Metrics: metrics, Inflight: inflight})
	srv, err := server.Start(handler, service.Server(), cfg.ListenAddr, cfg.GRPCAddr, server.Options{
		Limits:   limitConfig,
		Shutdown: shutdownConfig,
		Inflight: inflight,
		Stoppers: []server.Stopper{coalescer},
	})
	if err != nil {
		t.Fatalf("start gateway: %v", err)
	}
	t.Cleanup(func() {
		_ = srv.Shutdown()
		transport.CloseIdle(upstreamTransport)
	})
	return &gateway{server: srv, coalescer: coalescer, metrics: metrics, service: service, upstream: upstreamTransport}
}

func reverse(client *http.Client, addr string, lat string, lon string) (*http.Response, error) {
	return client.Get("http://" + addr + "/v1/reverse?lat=" + lat + "&lon=" + lon)
}

func decodeReverse(t *testing.T, resp *http.Response) api.ReverseResponse {
	t.Helper()
	defer resp.Body.Close()
	var body api.ReverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func displayName(body api.ReverseResponse) string {
	if body.DisplayName == nil {
		return "<null>"
	}
	return *body.DisplayName
}
