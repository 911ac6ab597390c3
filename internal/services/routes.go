package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/dpup/impact.ersn.net/server/internal/config"
	"github.com/dpup/impact.ersn.net/server/internal/lib/geo"
	"github.com/dpup/impact.ersn.net/server/internal/lib/routing"
	"github.com/dpup/impact.ersn.net/server/internal/metrics"
)

// ListRoutes returns the latest report for every monitored route, refreshing
// reports that are missing or stale. A route whose refresh fails keeps its
// previous report; routes that never produced one are left out.
func (s *ImpactService) ListRoutes(ctx context.Context, req *ListRoutesRequest) (*ListRoutesResponse, error) {
	log.Printf("ListRoutes called")

	routes := make([]*RouteReport, 0, len(s.cfg.Routing.MonitoredRoutes))
	var errs []error
	for _, monitored := range s.cfg.Routing.MonitoredRoutes {
		report, err := s.currentReport(ctx, monitored)
		if err != nil {
			log.Printf("Failed to process route %s: %v", monitored.ID, err)
			errs = append(errs, err)
			continue
		}
		routes = append(routes, report)
	}

	if len(routes) == 0 && len(errs) > 0 {
		return nil, fmt.Errorf("no routes could be processed: %w", errors.Join(errs...))
	}

	return &ListRoutesResponse{Routes: routes}, nil
}

// GetRoute returns the latest report for one monitored route
func (s *ImpactService) GetRoute(ctx context.Context, req *GetRouteRequest) (*GetRouteResponse, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	log.Printf("GetRoute called for route ID: %s", req.RouteID)

	monitored, ok := s.monitoredRoute(req.RouteID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRouteNotFound, req.RouteID)
	}

	report, err := s.currentReport(ctx, monitored)
	if err != nil {
		return nil, err
	}
	return &GetRouteResponse{Route: report}, nil
}

// RefreshRoute recomputes a monitored route: provider route, candidates,
// classification. The report is stored and published.
func (s *ImpactService) RefreshRoute(ctx context.Context, routeID string) (*RouteReport, error) {
	monitored, ok := s.monitoredRoute(routeID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRouteNotFound, routeID)
	}
	return s.refresh(ctx, monitored)
}

// RefreshAll refreshes every monitored route, continuing past failures. It
// fails only if every route fails.
func (s *ImpactService) RefreshAll(ctx context.Context) error {
	var errs []error
	for _, monitored := range s.cfg.Routing.MonitoredRoutes {
		if _, err := s.refresh(ctx, monitored); err != nil {
			log.Printf("Failed to refresh route %s: %v", monitored.ID, err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 && len(errs) == len(s.cfg.Routing.MonitoredRoutes) {
		return fmt.Errorf("no routes could be refreshed: %w", errors.Join(errs...))
	}
	return nil
}

// Report returns the stored report for routeID without refreshing
func (s *ImpactService) Report(routeID string) (*RouteReport, bool) {
	s.reportsMu.RLock()
	defer s.reportsMu.RUnlock()
	report, ok := s.reports[routeID]
	return report, ok
}

func (s *ImpactService) monitoredRoute(routeID string) (config.MonitoredRoute, bool) {
	for _, r := range s.cfg.Routing.MonitoredRoutes {
		if r.ID == routeID {
			return r, true
		}
	}
	return config.MonitoredRoute{}, false
}

// currentReport serves the stored report while it is fresh, otherwise
// refreshes it, falling back to the stored one on failure
func (s *ImpactService) currentReport(ctx context.Context, monitored config.MonitoredRoute) (*RouteReport, error) {
	report, ok := s.Report(monitored.ID)
	if ok && s.now().Sub(report.UpdatedAt) < s.cfg.Routing.GoogleRoutes.StaleThreshold {
		return report, nil
	}

	fresh, err := s.refresh(ctx, monitored)
	if err != nil {
		if ok {
			log.Printf("Refresh failed, returning stale report for %s: %v", monitored.ID, err)
			return report, nil
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrRouteNotReady, monitored.ID, err)
	}
	return fresh, nil
}

func (s *ImpactService) refresh(ctx context.Context, monitored config.MonitoredRoute) (*RouteReport, error) {
	log.Printf("Processing route: %s", monitored.ID)

	routeData, err := s.computeRoute(ctx, monitored.Origin.Coordinates(), monitored.Destination.Coordinates())
	if err != nil {
		return nil, err
	}

	geometry, err := geo.DecodePolyline(routeData.Polyline)
	if err != nil {
		return nil, fmt.Errorf("%w: provider returned %w", ErrProviderUnavailable, err)
	}
	if err := s.matcher.UpdateRouteGeometry(ctx, monitored.ID, geometry); err != nil {
		return nil, fmt.Errorf("route %s: %w", monitored.ID, err)
	}
	route, _ := s.matcher.GetCachedRoute(monitored.ID)

	impacts, total, err := s.query(ctx, shapeMonitored, geometry, route.BufferMeters)
	if err != nil {
		return nil, err
	}
	impacts = s.matcher.GetRouteImpacts(ctx, impacts)

	congestion := analyzeCongestionLevel(routeData.SpeedReadings)
	report := &RouteReport{
		Route:           route,
		Status:          routing.DeriveStatus(impacts),
		ChainControl:    routing.ExtractChainControl(impacts),
		CongestionLevel: congestion,
		DurationSeconds: routeData.DurationSeconds,
		DistanceMeters:  routeData.DistanceMeters,
		DelaySeconds:    estimateDelay(routeData, congestion),
		Impacts:         impacts,
		TotalChecked:    total,
		UpdatedAt:       s.now(),
	}

	s.reportsMu.Lock()
	s.reports[monitored.ID] = report
	s.reportsMu.Unlock()

	s.publish(ctx, report)
	return report, nil
}

func (s *ImpactService) publish(ctx context.Context, report *RouteReport) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishRouteReport(ctx, report.Route.ID, report); err != nil {
		log.Printf("Failed to publish report for %s: %v", report.Route.ID, err)
		metrics.EventsPublished.WithLabelValues("error").Inc()
		return
	}
	metrics.EventsPublished.WithLabelValues("ok").Inc()
}
