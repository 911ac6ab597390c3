package grpcapi

import (
	"context"

	"google.golang.org/grpc"

	"github.com/dpup/impact.ersn.net/server/internal/services"
)

// Client calls a remote impact service
type Client struct {
	cc grpc.ClientConnInterface
}

var _ ImpactServer = (*Client)(nil)

// NewClient wraps a connection. Every call selects the JSON codec.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) RouteImpact(ctx context.Context, req *services.RouteImpactRequest) (*services.RouteImpactResponse, error) {
	out := new(services.RouteImpactResponse)
	if err := c.invoke(ctx, "RouteImpact", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) DirectionsImpact(ctx context.Context, req *services.DirectionsImpactRequest) (*services.DirectionsImpactResponse, error) {
	out := new(services.DirectionsImpactResponse)
	if err := c.invoke(ctx, "DirectionsImpact", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListRoutes(ctx context.Context, req *services.ListRoutesRequest) (*services.ListRoutesResponse, error) {
	out := new(services.ListRoutesResponse)
	if err := c.invoke(ctx, "ListRoutes", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetRoute(ctx context.Context, req *services.GetRouteRequest) (*services.GetRouteResponse, error) {
	out := new(services.GetRouteResponse)
	if err := c.invoke(ctx, "GetRoute", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) invoke(ctx context.Context, method string, req, out any) error {
	return c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, req, out, grpc.CallContentSubtype(CodecName))
}
