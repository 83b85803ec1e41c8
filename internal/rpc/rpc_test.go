package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"geocode_gateway/internal/cache"
	"geocode_gateway/internal/fetch"
	"geocode_gateway/internal/lookup"
	"geocode_gateway/internal/obs"
	"geocode_gateway/internal/schedule"
	"geocode_gateway/internal/testutil"
)

type harness struct {
	service   *Service
	coalescer *lookup.Coalescer
	conn      *grpc.ClientConn
	client    *Client
}

func startHarness(t *testing.T, fetcher fetch.Fetcher, options Options) *harness {
	t.Helper()
	coalescer, err := lookup.NewCoalescer(lookup.Config{
		Fetcher:     fetcher,
		Scheduler:   schedule.Real{},
		QuietWindow: 5 * time.Millisecond,
	})
	require.NoError(t, err)

	service := NewService(coalescer, options)
	ln := bufconn.Listen(1 << 20)
	go func() {
		_ = service.Server().Serve(ln)
	}()

	conn, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return ln.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		service.Server().Stop()
		_ = coalescer.Close()
	})
	return &harness{service: service, coalescer: coalescer, conn: conn, client: NewClient(conn)}
}

func callCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestReverseOverGRPC(t *testing.T) {
	fetcher := testutil.NewFakeFetcher(func(cache.Key) (cache.Entry, error) {
		return cache.Entry{Name: "Smith County, Kansas", Found: true}, nil
	})
	h := startHarness(t, fetcher, Options{})

	entry, source, err := h.client.Reverse(callCtx(t), cache.NewKey(39.8283, -98.5795))
	require.NoError(t, err)
	assert.Equal(t, "Smith County, Kansas", entry.Name)
	assert.True(t, entry.Found)
	assert.Equal(t, "immediate", source)

	_, source, err = h.client.Reverse(callCtx(t), cache.NewKey(39.8283, -98.5795))
	require.NoError(t, err)
	assert.Equal(t, "hit", source)
	assert.Equal(t, 1, fetcher.Calls())
}

func TestReverseAbsentOverGRPC(t *testing.T) {
	h := startHarness(t, testutil.NewFakeFetcher(func(cache.Key) (cache.Entry, error) {
		return cache.Entry{}, nil
	}), Options{})

	resp := new(structpb.Struct)
	err := h.conn.Invoke(callCtx(t), ReverseMethod, NewReverseRequest(cache.NewKey(0, -160)), resp)
	require.NoError(t, err)
	assert.False(t, resp.GetFields()["found"].GetBoolValue())
	_, isNull := resp.GetFields()["display_name"].GetKind().(*structpb.Value_NullValue)
	assert.True(t, isNull)
}

func TestReverseInvalidArgument(t *testing.T) {
	fetcher := testutil.NewFakeFetcher(nil)
	h := startHarness(t, fetcher, Options{})

	req, err := structpb.NewStruct(map[string]any{"lat": "north", "lon": 1.0})
	require.NoError(t, err)
	err = h.conn.Invoke(callCtx(t), ReverseMethod, req, new(structpb.Struct))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Equal(t, 0, fetcher.Calls())
}

func TestReverseFailureIsUnavailableWithCategory(t *testing.T) {
	fetcher := testutil.NewFakeFetcher(func(cache.Key) (cache.Entry, error) {
		return cache.Entry{}, &fetch.StatusError{Status: http.StatusTooManyRequests}
	})
	h := startHarness(t, fetcher, Options{})

	_, _, err := h.client.Reverse(callCtx(t), cache.NewKey(1, 2))
	require.Error(t, err)
	assert.Equal(t, codes.Unavailable, status.Code(err))
	assert.Equal(t, "status_429", categoryFromStatus(err))
}

func TestReverseAfterCloseIsUnavailable(t *testing.T) {
	h := startHarness(t, testutil.NewFakeFetcher(nil), Options{})
	require.NoError(t, h.coalescer.Close())

	_, _, err := h.client.Reverse(callCtx(t), cache.NewKey(1, 2))
	assert.Equal(t, codes.Unavailable, status.Code(err))
	assert.Equal(t, "closed", categoryFromStatus(err))
}

func TestHealthServingUntilStop(t *testing.T) {
	h := startHarness(t, testutil.NewFakeFetcher(nil), Options{})
	health := healthpb.NewHealthClient(h.conn)

	resp, err := health.Check(callCtx(t), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	require.NoError(t, h.service.Stop(context.Background()))
	resp, err = health.Check(callCtx(t), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}

func TestAccessLogAndMetricsForGRPC(t *testing.T) {
	var buf bytes.Buffer
	previous := obs.SetOutput(&buf)
	defer obs.SetOutput(previous)

	metrics := obs.NewMetrics()
	h := startHarness(t, testutil.NewFakeFetcher(nil), Options{Metrics: metrics, AccessLog: true})
	_, _, err := h.client.Reverse(callCtx(t), cache.NewKey(3.5, 4.5))
	require.NoError(t, err)

	var entry obs.AccessLogEntry
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "grpc", entry.Transport)
	assert.Equal(t, ReverseMethod, entry.Path)
	assert.Equal(t, 200, entry.Status)
	assert.Equal(t, "immediate", entry.Source)
	assert.Equal(t, 3.5, entry.Lat)
	assert.NotEmpty(t, entry.RequestID)
}
