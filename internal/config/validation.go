package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
)

const defaultMetricsTokenEnv = "METRICS_TOKEN"

func Validate(cfg *Config) ([]string, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	warnings := []string{}
	if err := validateListeners(cfg); err != nil {
		return warnings, err
	}
	if err := validateUpstream(cfg, &warnings); err != nil {
		return warnings, err
	}
	if err := validateLookup(cfg, &warnings); err != nil {
		return warnings, err
	}
	if err := validateBreaker(cfg); err != nil {
		return warnings, err
	}
	if err := validateMetrics(cfg); err != nil {
		return warnings, err
	}
	return warnings, nil
}

// MetricsToken returns the bearer token protecting /metrics, or "" when
// the endpoint is open.
func MetricsToken(cfg *Config) string {
	if cfg == nil || cfg.Metrics == nil || !cfg.Metrics.RequireToken {
		return ""
	}
	return strings.TrimSpace(os.Getenv(metricsTokenEnv(cfg.Metrics)))
}

func validateListeners(cfg *Config) error {
	if strings.TrimSpace(cfg.ListenAddr) == "" && strings.TrimSpace(cfg.GRPCAddr) == "" {
		return errors.New("listen_addr or grpc_addr is required")
	}
	if listenersClash(cfg.ListenAddr, cfg.GRPCAddr) {
		return fmt.Errorf("listen_addr and grpc_addr must differ (%s, %s)", cfg.ListenAddr, cfg.GRPCAddr)
	}
	return nil
}

// listenersClash reports whether two listen addresses would bind the same
// port. Port 0 asks the kernel for a free port and never clashes.
func listenersClash(httpAddr string, grpcAddr string) bool {
	if httpAddr == "" || grpcAddr == "" {
		return false
	}
	httpHost, httpPort, httpErr := net.SplitHostPort(httpAddr)
	grpcHost, grpcPort, grpcErr := net.SplitHostPort(grpcAddr)
	if httpErr != nil || grpcErr != nil {
		return httpAddr == grpcAddr
	}
	if httpPort != grpcPort || httpPort == "0" {
		return false
	}
	return httpHost == grpcHost || httpHost == "" || grpcHost == ""
}

func validateUpstream(cfg *Config, warnings *[]string) error {
	if cfg.Upstream.URL != "" {
		parsed, err := url.Parse(cfg.Upstream.URL)
		if err != nil {
			return fmt.Errorf("upstream.url: %w", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("upstream.url scheme %q not supported", parsed.Scheme)
		}
	}
	if strings.TrimSpace(cfg.Upstream.UserAgent) == "" {
		*warnings = append(*warnings, "upstream.user_agent not set; public geocoders require an identifying client")
	}
	if cfg.Upstream.Zoom < 0 || cfg.Upstream.Zoom > 18 {
		return fmt.Errorf("upstream.zoom must be between 0 and 18")
	}
	if cfg.Upstream.DialTimeoutMS < 0 || cfg.Upstream.ResponseHeaderTimeoutMS < 0 || cfg.Upstream.MaxConns < 0 {
		return errors.New("upstream timeouts and max_conns must be non-negative")
	}
	return nil
}

func validateLookup(cfg *Config, warnings *[]string) error {
	if cfg.Lookup.QuietWindowMS < 0 {
		return errors.New("lookup.quiet_window_ms must be non-negative")
	}
	if cfg.Lookup.FetchTimeoutMS < 0 {
		return errors.New("lookup.fetch_timeout_ms must be non-negative")
	}
	if cfg.Lookup.QuietWindowMS > 0 && cfg.Lookup.QuietWindowMS < 1000 {
		*warnings = append(*warnings, "lookup.quiet_window_ms below 1000 exceeds the public Nominatim usage policy")
	}
	return nil
}

func validateBreaker(cfg *Config) error {
	b := cfg.Breaker
	if !b.Enabled {
		return nil
	}
	if b.FailureRateThresholdPercent <= 0 || b.FailureRateThresholdPercent > 100 {
		return errors.New("breaker.failure_rate_threshold_percent must be in 1..100")
	}
	if b.MinimumRequests < 0 || b.EvaluationWindowMS < 0 || b.OpenDurationMS < 0 || b.HalfOpenMaxProbes < 0 {
		return errors.New("breaker settings must be non-negative")
	}
	return nil
}

func validateMetrics(cfg *Config) error {
	if cfg.Metrics == nil || !cfg.Metrics.RequireToken {
		return nil
	}
	env := metricsTokenEnv(cfg.Metrics)
	if strings.TrimSpace(os.Getenv(env)) == "" {
		return fmt.Errorf("metrics token missing in %s", env)
	}
	return nil
}

func metricsTokenEnv(cfg *MetricsConfig) string {
	env := strings.TrimSpace(cfg.TokenEnv)
	if env == "" {
		env = defaultMetricsTokenEnv
	}
	return env
}
