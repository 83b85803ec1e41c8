package rpc

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"geocode_gateway/internal/api"
	"geocode_gateway/internal/cache"
	"geocode_gateway/internal/fetch"
	"geocode_gateway/internal/lookup"
	"geocode_gateway/internal/obs"
	"geocode_gateway/internal/runtime"
)

type Options struct {
	Metrics         *obs.Metrics
	Inflight        *runtime.InflightTracker
	MaxMessageBytes int
	AccessLog       bool
}

// Service is the gRPC face of a Coalescer. It owns the grpc.Server and the
// standard health service registered next to it.
type Service struct {
	resolver api.Resolver
	options  Options
	server   *grpc.Server
	health   *health.Server
}

func NewService(resolver api.Resolver, options Options) *Service {
	s := &Service{resolver: resolver, options: options, health: health.NewServer()}
	serverOptions := []grpc.ServerOption{grpc.UnaryInterceptor(s.intercept)}
	if options.MaxMessageBytes > 0 {
		serverOptions = append(serverOptions, grpc.MaxRecvMsgSize(options.MaxMessageBytes))
	}
	s.server = grpc.NewServer(serverOptions...)
	RegisterGeocoderServer(s.server, s)
	healthpb.RegisterHealthServer(s.server, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

func (s *Service) Server() *grpc.Server {
	return s.server
}

// Stop flips health to NOT_SERVING so clients move away before the
// listener is drained.
func (s *Service) Stop(_ context.Context) error {
	s.health.Shutdown()
	return nil
}

func (s *Service) Reverse(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	key, err := keyFromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	var (
		entry  cache.Entry
		source lookup.Source
	)
	s.options.Inflight.Track(func() {
		entry, source, err = s.resolver.Lookup(ctx, key)
	})
	if err != nil {
		return nil, lookupStatus(err)
	}
	setSource(ctx, source)

	fields := map[string]any{
		"found":        entry.Found,
		"display_name": nil,
		"source":       string(source),
	}
	if entry.Found {
		fields["display_name"] = entry.Name
	}
	return structpb.NewStruct(fields)
}

func lookupStatus(err error) error {
	switch {
	case errors.Is(err, lookup.ErrInvalidKey):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, lookup.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		st := status.New(codes.Unavailable, err.Error())
		return withCategory(st, fetch.ClassifyError(err)).Err()
	}
}

func (s *Service) intercept(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	requestID := incomingRequestID(ctx)
	ctx = api.WithRequestID(ctx, requestID)
	tracker := &callTracker{}
	ctx = context.WithValue(ctx, callTrackerKey{}, tracker)
	_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDMetadata, requestID))

	resp, err := handler(ctx, req)

	duration := time.Since(start)
	httpStatus := httpStatusFromCode(status.Code(err))
	s.options.Metrics.ObserveRequest("grpc", httpStatus, duration)
	if !s.options.AccessLog || info.FullMethod != ReverseMethod {
		return resp, err
	}
	logCtx := obs.RequestContext{
		RequestID: requestID,
		Transport: "grpc",
		Method:    "POST",
		Path:      info.FullMethod,
		Status:    httpStatus,
		Duration:  duration,
		Source:    tracker.source,
	}
	if err != nil {
		logCtx.ErrorCategory = categoryFromStatus(err)
	}
	if in, ok := req.(*structpb.Struct); ok {
		if key, keyErr := keyFromStruct(in); keyErr == nil {
			logCtx.Lat = key.Lat
			logCtx.Lon = key.Lon
		}
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		logCtx.RemoteAddr = p.Addr.String()
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get("user-agent"); len(values) > 0 {
			logCtx.UserAgent = values[0]
		}
	}
	obs.LogAccess(logCtx)
	return resp, err
}

const requestIDMetadata = "x-request-id"

func incomingRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(requestIDMetadata); len(values) > 0 && values[0] != "" {
			return values[0]
		}
	}
	return api.NewRequestID()
}

type callTrackerKey struct{}

type callTracker struct {
	source string
}

func setSource(ctx context.Context, source lookup.Source) {
	if tracker, ok := ctx.Value(callTrackerKey{}).(*callTracker); ok {
		tracker.source = string(source)
	}
}

func httpStatusFromCode(code codes.Code) int {
	switch code {
	case codes.OK:
		return 200
	case codes.InvalidArgument:
		return 400
	case codes.Canceled:
		return 499
	case codes.Unavailable:
		return 503
	case codes.DeadlineExceeded:
		return 504
	default:
		return 500
	}
}
