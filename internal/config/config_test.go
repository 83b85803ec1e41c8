package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSONKeepsDefaults(t *testing.T) {
	cfg, err := ParseJSON([]byte(`{"upstream":{"url":"http://127.0.0.1:9/reverse","user_agent":"t/1"}}`))
	require.NoError(t, err)
	assert.Equal(t, DefaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, DefaultQuietWindowMS, cfg.Lookup.QuietWindowMS)
	assert.Equal(t, DefaultFetchTimeout, cfg.Lookup.FetchTimeoutMS)
	assert.Equal(t, "t/1", cfg.Upstream.UserAgent)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "geocoded.yaml")
	data := []byte(`
listen_addr: 127.0.0.1:9000
grpc_addr: 127.0.0.1:9001
upstream:
  url: https://nominatim.example/reverse
  user_agent: geocoded-test
lookup:
  quiet_window_ms: 1500
breaker:
  enabled: true
  failure_rate_threshold_percent: 50
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9001", cfg.GRPCAddr)
	assert.Equal(t, 1500, cfg.Lookup.QuietWindowMS)
	assert.Equal(t, DefaultFetchTimeout, cfg.Lookup.FetchTimeoutMS)
	assert.True(t, cfg.Breaker.Enabled)

	warnings, err := Validate(cfg)
	require.NoError(t, err)
	assert.Empty(t, warnings)
}

func TestLoadJSONByDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "geocoded.conf")
	require.NoError(t, os.WriteFile(path, []byte(`{"listen_addr":"127.0.0.1:1"}`), 0o600))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:1", cfg.ListenAddr)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"no listeners":   func(c *Config) { c.ListenAddr = "" },
		"same listeners": func(c *Config) { c.GRPCAddr = c.ListenAddr },
		"wildcard clash": func(c *Config) { c.ListenAddr = ":9000"; c.GRPCAddr = "127.0.0.1:9000" },
		"bad scheme":     func(c *Config) { c.Upstream.URL = "ftp://x/reverse" },
		"bad zoom":       func(c *Config) { c.Upstream.Zoom = 19 },
		"negative quiet": func(c *Config) { c.Lookup.QuietWindowMS = -1 },
		"bad breaker":    func(c *Config) { c.Breaker = BreakerConfig{Enabled: true} },
		"missing token": func(c *Config) {
			c.Metrics = &MetricsConfig{RequireToken: true, TokenEnv: "GEOCODE_TEST_TOKEN_UNSET"}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			cfg.Upstream.UserAgent = "t/1"
			mutate(cfg)
			_, err := Validate(cfg)
			require.Error(t, err)
		})
	}
}

func TestValidateWarnings(t *testing.T) {
	cfg := Default()
	cfg.Lookup.QuietWindowMS = 200
	warnings, err := Validate(cfg)
	require.NoError(t, err)
	assert.Len(t, warnings, 2)
}

func TestValidateAcceptsEphemeralPorts(t *testing.T) {
	cfg := Default()
	cfg.Upstream.UserAgent = "t/1"
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.GRPCAddr = "127.0.0.1:0"
	warnings, err := Validate(cfg)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	cfg.GRPCAddr = "127.0.0.1:9001"
	cfg.ListenAddr = "127.0.0.2:9001"
	_, err = Validate(cfg)
	require.NoError(t, err, "same port on different hosts does not clash")
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	env := map[string]string{
		"GEOCODE_UPSTREAM_URL": "http://local/reverse",
		"GEOCODE_USER_AGENT":   "env-agent",
	}
	ApplyEnv(cfg, func(key string) string { return env[key] })
	assert.Equal(t, "http://local/reverse", cfg.Upstream.URL)
	assert.Equal(t, "env-agent", cfg.Upstream.UserAgent)
}

func TestMetricsToken(t *testing.T) {
	t.Setenv("GEOCODE_TEST_TOKEN", "s3cret")
	cfg := Default()
	assert.Equal(t, "", MetricsToken(cfg))
	cfg.Metrics = &MetricsConfig{RequireToken: true, TokenEnv: "GEOCODE_TEST_TOKEN"}
	assert.Equal(t, "s3cret", MetricsToken(cfg))
}
