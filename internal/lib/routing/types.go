package routing

import (
	"context"

	"github.com/paulmach/orb"

	"github.com/dpup/impact.ersn.net/server/internal/lib/geo"
	"github.com/dpup/impact.ersn.net/server/internal/lib/proximity"
)

// Classification represents the relationship between an impact and a route
type Classification string

const (
	OnRoute Classification = "on_route" // within the on-route threshold (100m default)
	Nearby  Classification = "nearby"   // within the route buffer
)

// RouteStatus summarizes how impacted a route is
type RouteStatus string

const (
	StatusOpen       RouteStatus = "open"
	StatusAdvisory   RouteStatus = "advisory"   // nearby impacts only
	StatusRestricted RouteStatus = "restricted" // something on the route
	StatusClosed     RouteStatus = "closed"     // a closure on the route
)

// ChainControl is the chain requirement reported on a route
type ChainControl string

const (
	ChainsNone     ChainControl = "none"
	ChainsAdvised  ChainControl = "advised"
	ChainsRequired ChainControl = "required"
)

// Route represents a monitored route with geometry for impact matching
type Route struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Section      string          `json:"section,omitempty"`
	Origin       geo.Coordinates `json:"origin"`
	Destination  geo.Coordinates `json:"destination"`
	Geometry     orb.LineString  `json:"geometry"`
	BufferMeters float64         `json:"buffer_meters"`
}

// ClassifiedImpact is an impact labelled relative to a route
type ClassifiedImpact struct {
	proximity.Impact
	Classification Classification `json:"classification"`
}

// RouteMatcher classifies ranked impacts against route geometry
type RouteMatcher interface {
	// Classify labels impacts as on-route or nearby
	Classify(impacts []proximity.Impact) []ClassifiedImpact

	// Order impacts: on-route first, then distance, then kind
	GetRouteImpacts(ctx context.Context, impacts []ClassifiedImpact) []ClassifiedImpact

	// Update route geometry when provider data refreshes
	UpdateRouteGeometry(ctx context.Context, routeID string, geometry orb.LineString) error

	CacheRoute(route Route)
	GetCachedRoute(routeID string) (Route, bool)

	SetOnRouteThreshold(thresholdMeters float64)
	GetOnRouteThreshold() float64
}
