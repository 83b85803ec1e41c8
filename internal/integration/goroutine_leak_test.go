package integration

import (
	"fmt"
	"net/http"
	"runtime"
	"testing"
	"time"

	"geocode_gateway/internal/testutil"
	"geocode_gateway/internal/transport"
)

func TestGoroutineLeakAcrossRestarts(t *testing.T) {
	geocoder := testutil.StartGeocoder(t, map[string]string{"1,1": "Loop"})
	cfgJSON := buildConfig(geocoder.URL, `"shutdown": {"drain_ms": 1, "graceful_timeout_ms": 500, "force_close_ms": 1}`)

	baseline := runtime.NumGoroutine()
	for i := 0; i < 10; i++ {
		gw := startGateway(t, cfgJSON)
		client := &http.Client{Timeout: time.Second, Transport: &http.Transport{DisableKeepAlives: true}}
		resp, err := reverse(client, gw.server.HTTPAddr, "1", "1")
		if err != nil {
			t.Fatalf("restart %d: %v", i, err)
		}
		resp.Body.Close()
		if err := gw.server.Shutdown(); err != nil {
			t.Fatalf("restart %d shutdown: %v", i, err)
		}
		transport.CloseIdle(gw.upstream)
	}

	testutil.Eventually(t, 3*time.Second, 50*time.Millisecond, func() error {
		current := runtime.NumGoroutine()
		if current <= baseline+10 {
			return nil
		}
		return fmt.Errorf("goroutines=%d baseline=%d", current, baseline)
	})
}
