package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/paulmach/orb"

	"github.com/dpup/impact.ersn.net/server/internal/cache"
	"github.com/dpup/impact.ersn.net/server/internal/clients/google"
	"github.com/dpup/impact.ersn.net/server/internal/config"
	"github.com/dpup/impact.ersn.net/server/internal/lib/geo"
	"github.com/dpup/impact.ersn.net/server/internal/lib/proximity"
	"github.com/dpup/impact.ersn.net/server/internal/lib/routing"
	"github.com/dpup/impact.ersn.net/server/internal/metrics"
)

// Call shapes, used as metric labels
const (
	shapeRoute      = "route"
	shapeDirections = "directions"
	shapeMonitored  = "monitored"
)

// ImpactService answers route impact queries for caller-supplied routes,
// provider-computed directions and configured monitored routes. All three
// share one engine and one candidate source.
type ImpactService struct {
	cfg       *config.Config
	engine    *proximity.Engine
	source    CandidateSource
	provider  RouteProvider
	cache     cache.Cache
	publisher ReportPublisher
	matcher   routing.RouteMatcher
	validator *validator.Validate
	now       func() time.Time

	reportsMu sync.RWMutex
	reports   map[string]*RouteReport
}

// Option configures an ImpactService
type Option func(*ImpactService)

// WithRouteProvider enables DirectionsImpact and monitored routes
func WithRouteProvider(p RouteProvider) Option {
	return func(s *ImpactService) { s.provider = p }
}

// WithCache caches provider routes
func WithCache(c cache.Cache) Option {
	return func(s *ImpactService) { s.cache = c }
}

// WithPublisher publishes monitored route reports as they refresh
func WithPublisher(p ReportPublisher) Option {
	return func(s *ImpactService) { s.publisher = p }
}

// NewImpactService creates the service over source
func NewImpactService(cfg *config.Config, source CandidateSource, opts ...Option) *ImpactService {
	s := &ImpactService{
		cfg: cfg,
		engine: proximity.NewEngine(
			proximity.WithWorkers(cfg.Impact.Workers),
			proximity.WithParallelThreshold(cfg.Impact.ParallelThreshold),
		),
		source:    source,
		cache:     cache.NewMemoryCache(),
		matcher:   routing.NewRouteMatcher(),
		validator: newValidator(),
		now:       time.Now,
		reports:   make(map[string]*RouteReport),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.matcher.SetOnRouteThreshold(cfg.Impact.OnRouteThreshold)
	for _, r := range cfg.Routing.MonitoredRoutes {
		s.matcher.CacheRoute(routing.Route{
			ID:           r.ID,
			Name:         r.Name,
			Section:      r.Section,
			Origin:       r.Origin.Coordinates(),
			Destination:  r.Destination.Coordinates(),
			BufferMeters: cfg.BufferFor(r),
		})
	}

	return s
}

// RouteImpact finds the impacts along a caller-supplied route
func (s *ImpactService) RouteImpact(ctx context.Context, req *RouteImpactRequest) (*RouteImpactResponse, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	if len(req.Route) > 0 && req.Polyline != "" {
		return nil, fmt.Errorf("%w: provide either route or polyline, not both", ErrInvalidRequest)
	}

	buffer, err := s.resolveBuffer(req.BufferMeters)
	if err != nil {
		return nil, err
	}

	route := req.Route
	if req.Polyline != "" {
		route, err = geo.DecodePolyline(req.Polyline)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
	}

	impacts, total, err := s.query(ctx, shapeRoute, route, buffer)
	if err != nil {
		return nil, err
	}

	return &RouteImpactResponse{
		Impacts:      impacts,
		TotalChecked: total,
		BufferMeters: buffer,
		Status:       routing.DeriveStatus(impacts),
		ChainControl: routing.ExtractChainControl(impacts),
	}, nil
}

// DirectionsImpact asks the route provider for a route from origin to
// destination and finds the impacts along it
func (s *ImpactService) DirectionsImpact(ctx context.Context, req *DirectionsImpactRequest) (*DirectionsImpactResponse, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	buffer, err := s.resolveBuffer(req.BufferMeters)
	if err != nil {
		return nil, err
	}

	routeData, err := s.computeRoute(ctx, req.Origin, req.Destination)
	if err != nil {
		return nil, err
	}

	route, err := geo.DecodePolyline(routeData.Polyline)
	if err != nil {
		return nil, fmt.Errorf("%w: provider returned %w", ErrProviderUnavailable, err)
	}

	legs := make([]Leg, 0, len(routeData.Legs))
	for i, leg := range routeData.Legs {
		legRoute, err := geo.DecodePolyline(leg.Polyline)
		if err != nil {
			return nil, fmt.Errorf("%w: provider returned leg %d: %w", ErrProviderUnavailable, i, err)
		}
		legs = append(legs, Leg{
			DistanceMeters:  leg.DistanceMeters,
			DurationSeconds: leg.DurationSeconds,
			Polyline:        leg.Polyline,
			Route:           legRoute,
		})
	}

	impacts, total, err := s.query(ctx, shapeDirections, route, buffer)
	if err != nil {
		return nil, err
	}

	congestion := analyzeCongestionLevel(routeData.SpeedReadings)

	return &DirectionsImpactResponse{
		Route:           route,
		EncodedPolyline: routeData.Polyline,
		DistanceMeters:  routeData.DistanceMeters,
		DurationSeconds: routeData.DurationSeconds,
		Legs:            legs,
		CongestionLevel: congestion,
		DelaySeconds:    estimateDelay(routeData, congestion),
		Impacts:         impacts,
		TotalChecked:    total,
		BufferMeters:    buffer,
		Status:          routing.DeriveStatus(impacts),
		ChainControl:    routing.ExtractChainControl(impacts),
	}, nil
}

// query fetches candidates near route and runs the engine. Impacts keep the
// engine's nearest-first order.
func (s *ImpactService) query(ctx context.Context, shape string, route orb.LineString, buffer float64) ([]routing.ClassifiedImpact, int, error) {
	started := time.Now()

	var candidates []proximity.Candidate
	if len(route) > 0 {
		var err error
		candidates, err = s.source.Candidates(ctx, geo.RouteBound(route, buffer))
		if err != nil {
			return nil, 0, fmt.Errorf("failed to load candidates: %w", err)
		}
	}

	result, err := s.engine.Query(ctx, route, candidates, buffer)
	if err != nil {
		return nil, 0, err
	}

	metrics.ObserveQuery(shape, started, result.TotalChecked, len(result.Impacts))
	return s.matcher.Classify(result.Impacts), result.TotalChecked, nil
}

// computeRoute returns the provider route, cache first. When the provider
// fails, a stale cached route is served unless it is very stale.
func (s *ImpactService) computeRoute(ctx context.Context, origin, destination geo.Coordinates) (*google.RouteData, error) {
	if s.provider == nil {
		return nil, fmt.Errorf("%w: no route provider configured", ErrProviderUnavailable)
	}

	key := cache.RouteKey(origin.Latitude, origin.Longitude, destination.Latitude, destination.Longitude)

	var cached google.RouteData
	found, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		log.Printf("Cache error: %v", err)
	}
	if found {
		metrics.CacheHits.WithLabelValues("route").Inc()
		return &cached, nil
	}
	metrics.CacheMisses.WithLabelValues("route").Inc()

	routeData, err := s.provider.ComputeRoutes(ctx, origin, destination)
	if err != nil {
		metrics.ProviderCalls.WithLabelValues(providerOutcome(err)).Inc()

		entry, found, cacheErr := s.cache.GetWithMetadata(ctx, key, &cached)
		if cacheErr == nil && found && !entry.IsVeryStale(s.now()) {
			log.Printf("Route provider failed, returning stale route from %v: %v", entry.CreatedAt, err)
			return &cached, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	metrics.ProviderCalls.WithLabelValues("ok").Inc()

	if err := s.cache.Set(ctx, key, routeData, s.cfg.Routing.GoogleRoutes.RefreshInterval, "google_routes"); err != nil {
		log.Printf("Failed to cache route: %v", err)
	}

	return routeData, nil
}

func providerOutcome(err error) string {
	switch {
	case errors.Is(err, google.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, google.ErrNoRoutes):
		return "no_routes"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
