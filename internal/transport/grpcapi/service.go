package grpcapi

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dpup/impact.ersn.net/server/internal/services"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "routeimpact.v1.ImpactService"

// ImpactServer is the server API for the impact service
type ImpactServer interface {
	RouteImpact(context.Context, *services.RouteImpactRequest) (*services.RouteImpactResponse, error)
	DirectionsImpact(context.Context, *services.DirectionsImpactRequest) (*services.DirectionsImpactResponse, error)
	ListRoutes(context.Context, *services.ListRoutesRequest) (*services.ListRoutesResponse, error)
	GetRoute(context.Context, *services.GetRouteRequest) (*services.GetRouteResponse, error)
}

var _ ImpactServer = (*services.ImpactService)(nil)

// ServiceDesc describes the impact service for grpc.ServiceRegistrar
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ImpactServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "RouteImpact",
			Handler:    unaryHandler("RouteImpact", ImpactServer.RouteImpact),
		},
		{
			MethodName: "DirectionsImpact",
			Handler:    unaryHandler("DirectionsImpact", ImpactServer.DirectionsImpact),
		},
		{
			MethodName: "ListRoutes",
			Handler:    unaryHandler("ListRoutes", ImpactServer.ListRoutes),
		},
		{
			MethodName: "GetRoute",
			Handler:    unaryHandler("GetRoute", ImpactServer.GetRoute),
		},
	},
	Streams: []grpc.StreamDesc{},
}

// Register adds the impact service to a gRPC server. Service errors are
// translated to gRPC status codes.
func Register(reg grpc.ServiceRegistrar, srv ImpactServer) {
	reg.RegisterService(&ServiceDesc, &statusServer{srv})
}

func unaryHandler[Req, Resp any](method string, call func(ImpactServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	fullMethod := "/" + ServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "decode %s request: %v", method, err)
		}
		if interceptor == nil {
			return call(srv.(ImpactServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ImpactServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// statusServer converts service errors into status errors
type statusServer struct {
	srv ImpactServer
}

func (s *statusServer) RouteImpact(ctx context.Context, req *services.RouteImpactRequest) (*services.RouteImpactResponse, error) {
	resp, err := s.srv.RouteImpact(ctx, req)
	return resp, ToStatus(err)
}

func (s *statusServer) DirectionsImpact(ctx context.Context, req *services.DirectionsImpactRequest) (*services.DirectionsImpactResponse, error) {
	resp, err := s.srv.DirectionsImpact(ctx, req)
	return resp, ToStatus(err)
}

func (s *statusServer) ListRoutes(ctx context.Context, req *services.ListRoutesRequest) (*services.ListRoutesResponse, error) {
	resp, err := s.srv.ListRoutes(ctx, req)
	return resp, ToStatus(err)
}

func (s *statusServer) GetRoute(ctx context.Context, req *services.GetRouteRequest) (*services.GetRouteResponse, error) {
	resp, err := s.srv.GetRoute(ctx, req)
	return resp, ToStatus(err)
}

// ToStatus maps service errors to gRPC status errors. Errors that already
// carry a status pass through.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(Code(err), err.Error())
}

// Code returns the gRPC code for a service error
func Code(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, services.ErrInvalidRequest):
		return codes.InvalidArgument
	case errors.Is(err, services.ErrRouteNotFound):
		return codes.NotFound
	case errors.Is(err, services.ErrProviderUnavailable):
		return codes.Unavailable
	case errors.Is(err, services.ErrRouteNotReady):
		return codes.Unavailable
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}
