package routing

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/paulmach/orb"

	"github.com/dpup/impact.ersn.net/server/internal/lib/proximity"
)

// DefaultOnRouteThreshold is the distance in meters at or under which an
// impact counts as on the route
const DefaultOnRouteThreshold = 100.0

// DefaultBufferMeters is used for routes created from a geometry update alone
const DefaultBufferMeters = 16093.4 // 10 miles

// kindOrder ranks impact kinds when distances tie: closures first
var kindOrder = map[string]int{
	"closure":       1,
	"chain_control": 2,
	"construction":  3,
	"incident":      4,
	"weather":       5,
}

// routeMatcher implements the RouteMatcher interface
type routeMatcher struct {
	routeCache       map[string]Route
	cacheMutex       sync.RWMutex
	onRouteThreshold float64 // Distance in meters for ON_ROUTE classification
}

// NewRouteMatcher creates a new RouteMatcher implementation
func NewRouteMatcher() RouteMatcher {
	return &routeMatcher{
		routeCache:       make(map[string]Route),
		onRouteThreshold: DefaultOnRouteThreshold,
	}
}

// Classify labels each impact. The impacts are already filtered to the
// route buffer, so anything not on the route is nearby.
func (r *routeMatcher) Classify(impacts []proximity.Impact) []ClassifiedImpact {
	threshold := r.GetOnRouteThreshold()

	classified := make([]ClassifiedImpact, len(impacts))
	for i, impact := range impacts {
		classification := Nearby
		if float64(impact.DistanceMeters) <= threshold {
			classification = OnRoute
		}
		classified[i] = ClassifiedImpact{Impact: impact, Classification: classification}
	}
	return classified
}

// GetRouteImpacts returns impacts ordered for display, prioritizing ON_ROUTE
func (r *routeMatcher) GetRouteImpacts(ctx context.Context, impacts []ClassifiedImpact) []ClassifiedImpact {
	sorted := make([]ClassifiedImpact, len(impacts))
	copy(sorted, impacts)

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]

		// First priority: ON_ROUTE impacts come first
		if a.Classification != b.Classification {
			return a.Classification == OnRoute
		}

		// Second priority: closer first
		if a.DistanceMeters != b.DistanceMeters {
			return a.DistanceMeters < b.DistanceMeters
		}

		// Third priority: closures first, then chain controls, construction, incidents
		return kindRank(a.Kind) < kindRank(b.Kind)
	})

	return sorted
}

func kindRank(kind string) int {
	if rank, ok := kindOrder[kind]; ok {
		return rank
	}
	return len(kindOrder) + 1 // Unknown kind
}

// UpdateRouteGeometry updates the geometry of a cached route
func (r *routeMatcher) UpdateRouteGeometry(ctx context.Context, routeID string, geometry orb.LineString) error {
	// Validate the new geometry
	if len(geometry) < 2 {
		return errors.New("route geometry must have at least 2 points")
	}

	r.cacheMutex.Lock()
	defer r.cacheMutex.Unlock()

	if route, exists := r.routeCache[routeID]; exists {
		route.Geometry = geometry
		r.routeCache[routeID] = route
	} else {
		r.routeCache[routeID] = Route{
			ID:           routeID,
			Geometry:     geometry,
			BufferMeters: DefaultBufferMeters,
		}
	}

	return nil
}

// SetOnRouteThreshold allows configuration of the ON_ROUTE distance threshold
func (r *routeMatcher) SetOnRouteThreshold(thresholdMeters float64) {
	r.cacheMutex.Lock()
	defer r.cacheMutex.Unlock()
	r.onRouteThreshold = thresholdMeters
}

// GetOnRouteThreshold returns the current ON_ROUTE threshold
func (r *routeMatcher) GetOnRouteThreshold() float64 {
	r.cacheMutex.RLock()
	defer r.cacheMutex.RUnlock()
	return r.onRouteThreshold
}

// CacheRoute stores a route in the internal cache for geometry updates
func (r *routeMatcher) CacheRoute(route Route) {
	r.cacheMutex.Lock()
	defer r.cacheMutex.Unlock()
	r.routeCache[route.ID] = route
}

// GetCachedRoute retrieves a route from the internal cache
func (r *routeMatcher) GetCachedRoute(routeID string) (Route, bool) {
	r.cacheMutex.RLock()
	defer r.cacheMutex.RUnlock()
	route, exists := r.routeCache[routeID]
	return route, exists
}

// DeriveStatus summarizes classified impacts into a route status. A closure
// on the route closes it; anything else on the route restricts it; nearby
// impacts only are advisory.
func DeriveStatus(impacts []ClassifiedImpact) RouteStatus {
	status := StatusOpen
	for _, impact := range impacts {
		if impact.Classification != OnRoute {
			if status == StatusOpen {
				status = StatusAdvisory
			}
			continue
		}
		if impact.Kind == "closure" && isClosedStatus(impact.Status) {
			return StatusClosed
		}
		status = StatusRestricted
	}
	return status
}

func isClosedStatus(status string) bool {
	s := strings.ToLower(status)
	return s == "closed" || s == "closure"
}

// ExtractChainControl determines chain control requirements from the
// on-route chain control impacts
func ExtractChainControl(impacts []ClassifiedImpact) ChainControl {
	result := ChainsNone
	for _, impact := range impacts {
		if impact.Kind != "chain_control" || impact.Classification != OnRoute {
			continue
		}
		switch chainControlFromText(impact.Title + " " + impact.Status) {
		case ChainsRequired:
			return ChainsRequired
		case ChainsAdvised:
			result = ChainsAdvised
		}
	}
	return result
}

func chainControlFromText(text string) ChainControl {
	lower := strings.ToLower(text)

	if strings.Contains(lower, "chain control required") ||
		strings.Contains(lower, "chains required") ||
		strings.Contains(lower, "chain control in effect") {
		return ChainsRequired
	}
	if strings.Contains(lower, "chain control advised") ||
		strings.Contains(lower, "chains advised") {
		return ChainsAdvised
	}

	return ChainsNone
}
