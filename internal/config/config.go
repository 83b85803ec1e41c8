package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultListenAddr    = "127.0.0.1:8080"
	DefaultQuietWindowMS = 1000
	DefaultFetchTimeout  = 5000
)

type Config struct {
	ListenAddr string         `json:"listen_addr" yaml:"listen_addr"`
	GRPCAddr   string         `json:"grpc_addr" yaml:"grpc_addr"`
	Upstream   UpstreamConfig `json:"upstream" yaml:"upstream"`
	Lookup     LookupConfig   `json:"lookup" yaml:"lookup"`
	Breaker    BreakerConfig  `json:"breaker" yaml:"breaker"`
	Limits     LimitsConfig   `json:"limits" yaml:"limits"`
	Shutdown   ShutdownConfig `json:"shutdown" yaml:"shutdown"`
	Metrics    *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Logging    LoggingConfig  `json:"logging" yaml:"logging"`
}

type UpstreamConfig struct {
	URL                     string `json:"url" yaml:"url"`
	UserAgent               string `json:"user_agent" yaml:"user_agent"`
	Zoom                    int    `json:"zoom" yaml:"zoom"`
	DialTimeoutMS           int    `json:"dial_timeout_ms" yaml:"dial_timeout_ms"`
	ResponseHeaderTimeoutMS int    `json:"response_header_timeout_ms" yaml:"response_header_timeout_ms"`
	MaxConns                int    `json:"max_conns" yaml:"max_conns"`
}

type LookupConfig struct {
	QuietWindowMS  int `json:"quiet_window_ms" yaml:"quiet_window_ms"`
	FetchTimeoutMS int `json:"fetch_timeout_ms" yaml:"fetch_timeout_ms"`
}

type BreakerConfig struct {
	Enabled                     bool `json:"enabled" yaml:"enabled"`
	FailureRateThresholdPercent int  `json:"failure_rate_threshold_percent" yaml:"failure_rate_threshold_percent"`
	MinimumRequests             int  `json:"minimum_requests" yaml:"minimum_requests"`
	EvaluationWindowMS          int  `json:"evaluation_window_ms" yaml:"evaluation_window_ms"`
	OpenDurationMS              int  `json:"open_duration_ms" yaml:"open_duration_ms"`
	HalfOpenMaxProbes           int  `json:"half_open_max_probes" yaml:"half_open_max_probes"`
}

type LimitsConfig struct {
	MaxHeaderBytes      int `json:"max_header_bytes" yaml:"max_header_bytes"`
	MaxQueryBytes       int `json:"max_query_bytes" yaml:"max_query_bytes"`
	MaxGRPCMessageBytes int `json:"max_grpc_message_bytes" yaml:"max_grpc_message_bytes"`
	ReadHeaderTimeoutMS int `json:"read_header_timeout_ms" yaml:"read_header_timeout_ms"`
	ReadTimeoutMS       int `json:"read_timeout_ms" yaml:"read_timeout_ms"`
	WriteTimeoutMS      int `json:"write_timeout_ms" yaml:"write_timeout_ms"`
	IdleTimeoutMS       int `json:"idle_timeout_ms" yaml:"idle_timeout_ms"`
}

type ShutdownConfig struct {
	DrainMS           int `json:"drain_ms" yaml:"drain_ms"`
	GracefulTimeoutMS int `json:"graceful_timeout_ms" yaml:"graceful_timeout_ms"`
	ForceCloseMS      int `json:"force_close_ms" yaml:"force_close_ms"`
}

type MetricsConfig struct {
	RequireToken bool   `json:"require_token" yaml:"require_token"`
	TokenEnv     string `json:"token_env" yaml:"token_env"`
}

type LoggingConfig struct {
	DisableAccessLog bool `json:"disable_access_log" yaml:"disable_access_log"`
	DispatchLog      bool `json:"dispatch_log" yaml:"dispatch_log"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		ListenAddr: DefaultListenAddr,
		Lookup: LookupConfig{
			QuietWindowMS:  DefaultQuietWindowMS,
			FetchTimeoutMS: DefaultFetchTimeout,
		},
	}
}

func ParseJSON(data []byte) (*Config, error) {
	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func ParseYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads path and picks the decoder from its extension; anything that
// is not .yaml or .yml is read as JSON.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("config path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg *Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		cfg, err = ParseYAML(data)
	default:
		cfg, err = ParseJSON(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides upstream settings from GEOCODE_UPSTREAM_URL and
// GEOCODE_USER_AGENT when they are set.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if cfg == nil {
		return
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	if value := strings.TrimSpace(getenv("GEOCODE_UPSTREAM_URL")); value != "" {
		cfg.Upstream.URL = value
	}
	if value := strings.TrimSpace(getenv("GEOCODE_USER_AGENT")); value != "" {
		cfg.Upstream.UserAgent = value
	}
}
