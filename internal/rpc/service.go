package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName   = "geocode.v1.Geocoder"
	ReverseMethod = "/" + ServiceName + "/Reverse"
)

// GeocoderServer answers reverse lookups. Requests carry {lat, lon};
// responses carry {found, display_name, source}.
type GeocoderServer interface {
	Reverse(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var geocoderServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GeocoderServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Reverse", Handler: reverseHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "geocode/v1/geocoder.proto",
}

func RegisterGeocoderServer(registrar grpc.ServiceRegistrar, srv GeocoderServer) {
	registrar.RegisterService(&geocoderServiceDesc, srv)
}

func reverseHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GeocoderServer).Reverse(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ReverseMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(GeocoderServer).Reverse(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
