package services

import (
	"context"
	"errors"
	"time"

	"github.com/paulmach/orb"

	"github.com/dpup/impact.ersn.net/server/internal/clients/google"
	"github.com/dpup/impact.ersn.net/server/internal/lib/geo"
	"github.com/dpup/impact.ersn.net/server/internal/lib/proximity"
	"github.com/dpup/impact.ersn.net/server/internal/lib/routing"
)

var (
	// ErrInvalidRequest wraps request validation failures
	ErrInvalidRequest = errors.New("invalid request")

	// ErrRouteNotFound is returned for unknown monitored route IDs
	ErrRouteNotFound = errors.New("route not found")

	// ErrProviderUnavailable is returned when no route provider is configured
	// or the provider failed without a cached fallback
	ErrProviderUnavailable = errors.New("route provider unavailable")

	// ErrRouteNotReady is returned when a monitored route has no report yet
	ErrRouteNotReady = errors.New("route report not available yet")
)

// RouteProvider computes a driving route between two points
type RouteProvider interface {
	ComputeRoutes(ctx context.Context, origin, destination geo.Coordinates) (*google.RouteData, error)
}

// CandidateSource returns the candidates that may lie within a bound. A
// source may return extra candidates but must not drop any intersecting the
// bound.
type CandidateSource interface {
	Name() string
	Candidates(ctx context.Context, bound orb.Bound) ([]proximity.Candidate, error)
}

// ReportPublisher publishes refreshed route reports
type ReportPublisher interface {
	PublishRouteReport(ctx context.Context, routeID string, report any) error
}

// RouteImpactRequest asks for the impacts along a caller-supplied route. The
// route is given either as coordinates or as an encoded polyline.
type RouteImpactRequest struct {
	Route        orb.LineString `json:"route,omitempty" validate:"required_without=Polyline,dive,lonlat"`
	Polyline     string         `json:"polyline,omitempty"`
	BufferMeters *float64       `json:"buffer_meters,omitempty"`
}

// RouteImpactResponse lists the impacts along a route
type RouteImpactResponse struct {
	Impacts      []routing.ClassifiedImpact `json:"impacts"`
	TotalChecked int                        `json:"total_checked"`
	BufferMeters float64                    `json:"buffer_meters"`
	Status       routing.RouteStatus        `json:"status"`
	ChainControl routing.ChainControl       `json:"chain_control"`
}

// DirectionsImpactRequest asks the route provider for a route, then for the
// impacts along it
type DirectionsImpactRequest struct {
	Origin       geo.Coordinates `json:"origin"`
	Destination  geo.Coordinates `json:"destination"`
	BufferMeters *float64        `json:"buffer_meters,omitempty"`
}

// Leg is one section of a provider route
type Leg struct {
	DistanceMeters  int32          `json:"distance_meters"`
	DurationSeconds int32          `json:"duration_seconds"`
	Polyline        string         `json:"polyline"`
	Route           orb.LineString `json:"route"`
}

// DirectionsImpactResponse is the provider route with its impacts
type DirectionsImpactResponse struct {
	Route           orb.LineString             `json:"route"`
	EncodedPolyline string                     `json:"encoded_polyline"`
	DistanceMeters  int32                      `json:"distance_meters"`
	DurationSeconds int32                      `json:"duration_seconds"`
	Legs            []Leg                      `json:"legs"`
	CongestionLevel CongestionLevel            `json:"congestion_level"`
	DelaySeconds    int32                      `json:"delay_seconds"`
	Impacts         []routing.ClassifiedImpact `json:"impacts"`
	TotalChecked    int                        `json:"total_checked"`
	BufferMeters    float64                    `json:"buffer_meters"`
	Status          routing.RouteStatus        `json:"status"`
	ChainControl    routing.ChainControl       `json:"chain_control"`
}

// RouteReport is the latest computed state of a monitored route
type RouteReport struct {
	Route           routing.Route              `json:"route"`
	Status          routing.RouteStatus        `json:"status"`
	ChainControl    routing.ChainControl       `json:"chain_control"`
	CongestionLevel CongestionLevel            `json:"congestion_level"`
	DurationSeconds int32                      `json:"duration_seconds"`
	DistanceMeters  int32                      `json:"distance_meters"`
	DelaySeconds    int32                      `json:"delay_seconds"`
	Impacts         []routing.ClassifiedImpact `json:"impacts"`
	TotalChecked    int                        `json:"total_checked"`
	UpdatedAt       time.Time                  `json:"updated_at"`
}

// ListRoutesRequest is empty; all monitored routes are listed
type ListRoutesRequest struct{}

// ListRoutesResponse holds the latest report per monitored route
type ListRoutesResponse struct {
	Routes []*RouteReport `json:"routes"`
}

// GetRouteRequest selects one monitored route
type GetRouteRequest struct {
	RouteID string `json:"route_id" validate:"required"`
}

// GetRouteResponse holds one route report
type GetRouteResponse struct {
	Route *RouteReport `json:"route"`
}
