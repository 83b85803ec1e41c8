package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"geocode_gateway/internal/breaker"
	"geocode_gateway/internal/cache"
	"geocode_gateway/internal/config"
	"geocode_gateway/internal/fetch"
	"geocode_gateway/internal/lookup"
	"geocode_gateway/internal/obs"
	"geocode_gateway/internal/schedule"
	"geocode_gateway/internal/transport"
)

func loadConfig(path string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	config.ApplyEnv(cfg, os.Getenv)
	warnings, err := config.Validate(cfg)
	for _, warning := range warnings {
		log.Printf("config warning: %s", warning)
	}
	if err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// newCoalescer builds the fetch chain Nominatim -> breaker guard -> Coalescer
// described by cfg. The returned transport is the one pooled upstream
// connections live on.
func newCoalescer(cfg *config.Config, metrics *obs.Metrics) (*lookup.Coalescer, *http.Transport, error) {
	upstreamTransport := transport.NewTransport(transport.FromConfig(cfg.Upstream))
	nominatim, err := fetch.NewNominatim(fetch.NominatimConfig{
		Endpoint:  cfg.Upstream.URL,
		UserAgent: cfg.Upstream.UserAgent,
		Zoom:      cfg.Upstream.Zoom,
		Client:    &http.Client{Transport: upstreamTransport},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("upstream: %w", err)
	}

	var fetcher fetch.Fetcher = nominatim
	if cfg.Breaker.Enabled {
		b := breaker.New(breakerConfig(cfg.Breaker), breaker.WithStateChange(func(state breaker.State) {
			metrics.SetBreakerOpen(state == breaker.StateOpen)
			log.Printf("upstream breaker %s", state)
		}))
		fetcher = fetch.NewGuard(nominatim, b)
	}

	coalescer, err := lookup.NewCoalescer(lookup.Config{
		Fetcher:       fetcher,
		Store:         cache.NewMemoryStore(),
		Pending:       cache.NewPendingTable(),
		Scheduler:     schedule.Real{},
		Metrics:       metrics,
		QuietWindow:   millis(cfg.Lookup.QuietWindowMS),
		FetchTimeout:  millis(cfg.Lookup.FetchTimeoutMS),
		LogDispatches: cfg.Logging.DispatchLog,
	})
	if err != nil {
		return nil, nil, err
	}
	return coalescer, upstreamTransport, nil
}

func breakerConfig(cfg config.BreakerConfig) breaker.Config {
	return breaker.Config{
		Enabled:                     cfg.Enabled,
		FailureRateThresholdPercent: cfg.FailureRateThresholdPercent,
		MinimumRequests:             cfg.MinimumRequests,
		EvaluationWindow:            millis(cfg.EvaluationWindowMS),
		OpenDuration:                millis(cfg.OpenDurationMS),
		HalfOpenMaxProbes:           cfg.HalfOpenMaxProbes,
	}
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
