package limits

import (
	"fmt"
	"time"

	"geocode_gateway/internal/config"
)

const (
	defaultMaxHeaderBytes      = 16 * 1024
	defaultMaxQueryBytes       = 512
	defaultMaxGRPCMessageBytes = 64 * 1024
	defaultReadHeaderTimeout   = 2 * time.Second
	defaultReadTimeout         = 5 * time.Second
	defaultIdleTimeout         = 30 * time.Second
)

// Limits bounds what a single client request may cost the gateway before it
// reaches the coalescer.
type Limits struct {
	MaxHeaderBytes      int
	MaxQueryBytes       int
	MaxGRPCMessageBytes int
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	IdleTimeout         time.Duration
}

func Default() Limits {
	return Limits{
		MaxHeaderBytes:      defaultMaxHeaderBytes,
		MaxQueryBytes:       defaultMaxQueryBytes,
		MaxGRPCMessageBytes: defaultMaxGRPCMessageBytes,
		ReadHeaderTimeout:   defaultReadHeaderTimeout,
		ReadTimeout:         defaultReadTimeout,
		WriteTimeout:        0,
		IdleTimeout:         defaultIdleTimeout,
	}
}

func FromConfig(cfg config.LimitsConfig) (Limits, error) {
	limits := Default()
	if cfg.MaxHeaderBytes > 0 {
		limits.MaxHeaderBytes = cfg.MaxHeaderBytes
	} else if cfg.MaxHeaderBytes < 0 {
		return Limits{}, fmt.Errorf("max_header_bytes must be positive")
	}
	if cfg.MaxQueryBytes > 0 {
		limits.MaxQueryBytes = cfg.MaxQueryBytes
	} else if cfg.MaxQueryBytes < 0 {
		return Limits{}, fmt.Errorf("max_query_bytes must be positive")
	}
	if cfg.MaxGRPCMessageBytes > 0 {
		limits.MaxGRPCMessageBytes = cfg.MaxGRPCMessageBytes
	} else if cfg.MaxGRPCMessageBytes < 0 {
		return Limits{}, fmt.Errorf("max_grpc_message_bytes must be positive")
	}
	if cfg.ReadHeaderTimeoutMS > 0 {
		limits.ReadHeaderTimeout = time.Duration(cfg.ReadHeaderTimeoutMS) * time.Millisecond
	} else if cfg.ReadHeaderTimeoutMS < 0 {
		return Limits{}, fmt.Errorf("read_header_timeout_ms must be positive")
	}
	if cfg.ReadTimeoutMS > 0 {
		limits.ReadTimeout = time.Duration(cfg.ReadTimeoutMS) * time.Millisecond
	}
	limits.WriteTimeout = durationOrZero(cfg.WriteTimeoutMS)
	if cfg.IdleTimeoutMS > 0 {
		limits.IdleTimeout = time.Duration(cfg.IdleTimeoutMS) * time.Millisecond
	}
	return limits, nil
}

func durationOrZero(milliseconds int) time.Duration {
	if milliseconds <= 0 {
		return 0
	}
	return time.Duration(milliseconds) * time.Millisecond
}
