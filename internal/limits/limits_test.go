package limits

import (
	"testing"
	"time"

	"geocode_gateway/internal/config"
)

func TestFromConfigDefaults(t *testing.T) {
	got, err := FromConfig(config.LimitsConfig{})
	if err != nil {
		t.Fatalf("from config: %v", err)
	}
	if got != Default() {
		t.Fatalf("expected defaults, got %+v", got)
	}
}

func TestFromConfigOverrides(t *testing.T) {
	got, err := FromConfig(config.LimitsConfig{
		MaxQueryBytes:  128,
		ReadTimeoutMS:  250,
		WriteTimeoutMS: 1000,
	})
	if err != nil {
		t.Fatalf("from config: %v", err)
	}
	if got.MaxQueryBytes != 128 {
		t.Fatalf("expected max query 128, got %d", got.MaxQueryBytes)
	}
	if got.ReadTimeout != 250*time.Millisecond || got.WriteTimeout != time.Second {
		t.Fatalf("unexpected timeouts %v %v", got.ReadTimeout, got.WriteTimeout)
	}
}

func TestFromConfigRejectsNegative(t *testing.T) {
	if _, err := FromConfig(config.LimitsConfig{MaxQueryBytes: -1}); err == nil {
		t.Fatalf("expected error for negative max_query_bytes")
	}
	if _, err := FromConfig(config.LimitsConfig{ReadHeaderTimeoutMS: -1}); err == nil {
		t.Fatalf("expected error for negative read_header_timeout_ms")
	}
}
