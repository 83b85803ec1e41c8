package runtime

import (
	"fmt"
	"time"

	"geocode_gateway/internal/config"
)

const (
	defaultDrain           = 500 * time.Millisecond
	defaultGracefulTimeout = 6 * time.Second
	defaultForceClose      = 2 * time.Second
)

// ShutdownConfig orders shutdown: Drain keeps listeners open so health
// checks notice, GracefulTimeout bounds waiting lookups, ForceClose is the
// last wait before connections are cut and the coalescer is closed.
type ShutdownConfig struct {
	Drain           time.Duration
	GracefulTimeout time.Duration
	ForceClose      time.Duration
}

func DefaultShutdownConfig() ShutdownConfig {
	return ShutdownConfig{
		Drain:           defaultDrain,
		GracefulTimeout: defaultGracefulTimeout,
		ForceClose:      defaultForceClose,
	}
}

func ShutdownFromConfig(cfg config.ShutdownConfig) (ShutdownConfig, error) {
	shutdown := DefaultShutdownConfig()
	phases := []struct {
		name string
		ms   int
		dst  *time.Duration
	}{
		{"drain_ms", cfg.DrainMS, &shutdown.Drain},
		{"graceful_timeout_ms", cfg.GracefulTimeoutMS, &shutdown.GracefulTimeout},
		{"force_close_ms", cfg.ForceCloseMS, &shutdown.ForceClose},
	}
	for _, phase := range phases {
		if phase.ms < 0 {
			return ShutdownConfig{}, fmt.Errorf("%s must be non-negative", phase.name)
		}
		if phase.ms > 0 {
			*phase.dst = time.Duration(phase.ms) * time.Millisecond
		}
	}
	// A drain that outlives the graceful window would cut every lookup that
	// was still waiting when the drain started.
	if shutdown.Drain >= shutdown.GracefulTimeout {
		return ShutdownConfig{}, fmt.Errorf("drain_ms (%s) must be shorter than graceful_timeout_ms (%s)", shutdown.Drain, shutdown.GracefulTimeout)
	}
	return shutdown, nil
}

// WithDefaults fills unset phases.
func (c ShutdownConfig) WithDefaults() ShutdownConfig {
	defaults := DefaultShutdownConfig()
	if c.Drain <= 0 {
		c.Drain = defaults.Drain
	}
	if c.GracefulTimeout <= 0 {
		c.GracefulTimeout = defaults.GracefulTimeout
	}
	if c.ForceClose <= 0 {
		c.ForceClose = defaults.ForceClose
	}
	return c
}

// Budget is the longest the listeners can take to shut down before the
// coalescer is closed.
func (c ShutdownConfig) Budget() time.Duration {
	return c.Drain + c.GracefulTimeout + c.ForceClose
}
