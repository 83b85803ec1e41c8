package integration

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"geocode_gateway/internal/api"
	"geocode_gateway/internal/testutil"
)

func TestUpstreamFailuresOpenBreaker(t *testing.T) {
	geocoder := testutil.StartGeocoder(t, nil)
	geocoder.FailWith(http.StatusServiceUnavailable)

	extra := `"lookup": {"quiet_window_ms": 20},
"breaker": {"enabled": true, "failure_rate_threshold_percent": 50, "minimum_requests": 2, "open_duration_ms": 60000}`
	gw := startGateway(t, buildConfig(geocoder.URL, extra))
	client := &http.Client{Timeout: 3 * time.Second}

	categories := []string{}
	for i := 0; i < 3; i++ {
		waitForIdleSlot(t, gw)
		resp, err := reverse(client, gw.server.HTTPAddr, fmt.Sprint(i), "0")
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		var body api.ErrorBody
		err = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("decode %d: %v", i, err)
		}
		if resp.StatusCode != http.StatusBadGateway || body.Error != "lookup_failed" {
			t.Fatalf("request %d: expected 502 lookup_failed, got %d %q", i, resp.StatusCode, body.Error)
		}
		categories = append(categories, body.Category)
	}

	want := []string{"status_503", "status_503", "circuit_open"}
	for i := range want {
		if categories[i] != want[i] {
			t.Fatalf("expected categories %v, got %v", want, categories)
		}
	}
	if got := geocoder.Requests(); got != 2 {
		t.Fatalf("expected open breaker to stop upstream calls at 2, got %d", got)
	}

	resp, err := client.Get("http://" + gw.server.HTTPAddr + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	for _, line := range []string{
		"geocode_breaker_open 1",
		`geocode_dispatch_errors_total{category="circuit_open"} 1`,
	} {
		if !strings.Contains(string(data), line) {
			t.Fatalf("expected metrics to contain %q", line)
		}
	}
}

func waitForIdleSlot(t *testing.T, gw *gateway) {
	t.Helper()
	testutil.Eventually(t, 2*time.Second, 5*time.Millisecond, func() error {
		if slot := gw.coalescer.Stats().Slot; slot != "idle" {
			return fmt.Errorf("slot=%s", slot)
		}
		return nil
	})
}
