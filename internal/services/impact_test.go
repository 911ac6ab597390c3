package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dpup/impact.ersn.net/server/internal/clients/google"
	"github.com/dpup/impact.ersn.net/server/internal/lib/geo"
	"github.com/dpup/impact.ersn.net/server/internal/lib/proximity"
	"github.com/dpup/impact.ersn.net/server/internal/lib/routing"
	"github.com/dpup/impact.ersn.net/server/internal/metrics"
)

func impactIDs(impacts []routing.ClassifiedImpact) []string {
	out := make([]string, len(impacts))
	for i, impact := range impacts {
		out[i] = impact.ID
	}
	return out
}

func TestRouteImpact_Coordinates(t *testing.T) {
	source := &staticSource{candidates: hwy4Candidates()}
	svc := NewImpactService(testConfig(), source)

	resp, err := svc.RouteImpact(context.Background(), &RouteImpactRequest{Route: testRoute})
	require.NoError(t, err)

	assert.Equal(t, []string{"on-route", "nearby"}, impactIDs(resp.Impacts))
	assert.Equal(t, routing.OnRoute, resp.Impacts[0].Classification)
	assert.Equal(t, routing.Nearby, resp.Impacts[1].Classification)
	assert.InDelta(t, 1112, resp.Impacts[1].DistanceMeters, 5)
	assert.Equal(t, 3, resp.TotalChecked)
	assert.Equal(t, 16093.4, resp.BufferMeters)
	assert.Equal(t, routing.StatusRestricted, resp.Status)
	assert.Equal(t, routing.ChainsNone, resp.ChainControl)

	// The source is asked for the route bound expanded by the buffer.
	require.Equal(t, 1, source.calls())
	bound := source.bounds[0]
	for _, p := range testRoute {
		assert.True(t, bound.Contains(p))
	}
	assert.True(t, bound.Contains(orb.Point{-120.45, 38.11}))
	assert.False(t, bound.Contains(orb.Point{-120.45, 39.00}))
}

func TestRouteImpact_Polyline(t *testing.T) {
	svc := NewImpactService(testConfig(), &staticSource{candidates: hwy4Candidates()})

	resp, err := svc.RouteImpact(context.Background(), &RouteImpactRequest{
		Polyline: geo.EncodePolyline(testRoute),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"on-route", "nearby"}, impactIDs(resp.Impacts))
}

func TestRouteImpact_CustomBuffer(t *testing.T) {
	svc := NewImpactService(testConfig(), &staticSource{candidates: hwy4Candidates()})

	resp, err := svc.RouteImpact(context.Background(), &RouteImpactRequest{
		Route:        testRoute,
		BufferMeters: ptr(500.0),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"on-route"}, impactIDs(resp.Impacts))
	assert.Equal(t, 500.0, resp.BufferMeters)
	assert.Equal(t, 3, resp.TotalChecked)
}

func TestRouteImpact_NearbyOnlyIsAdvisory(t *testing.T) {
	svc := NewImpactService(testConfig(), &staticSource{candidates: []proximity.Candidate{
		pointCandidate("nearby", "construction", -120.45, 38.11),
	}})

	resp, err := svc.RouteImpact(context.Background(), &RouteImpactRequest{Route: testRoute})
	require.NoError(t, err)
	assert.Equal(t, routing.StatusAdvisory, resp.Status)
}

func TestRouteImpact_EmptyRoute(t *testing.T) {
	source := &staticSource{candidates: hwy4Candidates()}
	svc := NewImpactService(testConfig(), source)

	resp, err := svc.RouteImpact(context.Background(), &RouteImpactRequest{Route: orb.LineString{}})
	require.NoError(t, err)
	assert.Empty(t, resp.Impacts)
	assert.Equal(t, 0, source.calls(), "an empty route has no bound to query")
	assert.Equal(t, routing.StatusOpen, resp.Status)
}

func TestRouteImpact_InvalidRequests(t *testing.T) {
	tests := []struct {
		name string
		req  *RouteImpactRequest
		is   error
	}{
		{
			name: "no route or polyline",
			req:  &RouteImpactRequest{},
		},
		{
			name: "both route and polyline",
			req:  &RouteImpactRequest{Route: testRoute, Polyline: geo.EncodePolyline(testRoute)},
		},
		{
			name: "longitude out of range",
			req:  &RouteImpactRequest{Route: orb.LineString{{-200, 38.1}, {-120.4, 38.1}}},
		},
		{
			name: "latitude out of range",
			req:  &RouteImpactRequest{Route: orb.LineString{{-120.5, 95}, {-120.4, 38.1}}},
		},
		{
			name: "malformed polyline",
			req:  &RouteImpactRequest{Polyline: "_p~iF"},
			is:   geo.ErrMalformedPolyline,
		},
		{
			name: "buffer above maximum",
			req:  &RouteImpactRequest{Route: testRoute, BufferMeters: ptr(1e7)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &staticSource{candidates: hwy4Candidates()}
			svc := NewImpactService(testConfig(), source)

			_, err := svc.RouteImpact(context.Background(), tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidRequest)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
			assert.Equal(t, 0, source.calls())
		})
	}
}

func TestRouteImpact_SourceError(t *testing.T) {
	svc := NewImpactService(testConfig(), &staticSource{err: errors.New("database offline")})

	_, err := svc.RouteImpact(context.Background(), &RouteImpactRequest{Route: testRoute})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database offline")
	assert.NotErrorIs(t, err, ErrInvalidRequest)
}

func TestRouteImpact_RecordsMetrics(t *testing.T) {
	svc := NewImpactService(testConfig(), &staticSource{candidates: hwy4Candidates()})

	before := testutil.ToFloat64(metrics.QueriesTotal.WithLabelValues(shapeRoute))
	beforeChecked := testutil.ToFloat64(metrics.CandidatesChecked.WithLabelValues(shapeRoute))

	_, err := svc.RouteImpact(context.Background(), &RouteImpactRequest{Route: testRoute})
	require.NoError(t, err)

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.QueriesTotal.WithLabelValues(shapeRoute)))
	assert.Equal(t, beforeChecked+3, testutil.ToFloat64(metrics.CandidatesChecked.WithLabelValues(shapeRoute)))
}

func TestDirectionsImpact(t *testing.T) {
	provider := new(MockRouteProvider)
	origin := geo.Coordinates{Latitude: 38.10, Longitude: -120.50}
	destination := geo.Coordinates{Latitude: 38.10, Longitude: -120.40}
	provider.On("ComputeRoutes", mock.Anything, origin, destination).Return(testRouteData(testRoute), nil).Once()

	svc := NewImpactService(testConfig(), &staticSource{candidates: hwy4Candidates()}, WithRouteProvider(provider))

	req := &DirectionsImpactRequest{Origin: origin, Destination: destination}
	resp, err := svc.DirectionsImpact(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []string{"on-route", "nearby"}, impactIDs(resp.Impacts))
	assert.Len(t, resp.Route, 3)
	assert.Equal(t, int32(8770), resp.DistanceMeters)
	assert.Equal(t, int32(1142), resp.DurationSeconds)
	assert.Equal(t, int32(62), resp.DelaySeconds)
	assert.Equal(t, CongestionClear, resp.CongestionLevel)
	require.Len(t, resp.Legs, 1)
	assert.Len(t, resp.Legs[0].Route, 3)
	assert.Equal(t, routing.StatusRestricted, resp.Status)

	// A second identical request is served from the cache.
	_, err = svc.DirectionsImpact(context.Background(), req)
	require.NoError(t, err)
	provider.AssertExpectations(t)
	provider.AssertNumberOfCalls(t, "ComputeRoutes", 1)
}

func TestDirectionsImpact_InvalidCoordinates(t *testing.T) {
	provider := new(MockRouteProvider)
	svc := NewImpactService(testConfig(), &staticSource{}, WithRouteProvider(provider))

	_, err := svc.DirectionsImpact(context.Background(), &DirectionsImpactRequest{
		Origin:      geo.Coordinates{Latitude: 91, Longitude: -120.5},
		Destination: geo.Coordinates{Latitude: 38.1, Longitude: -120.4},
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	provider.AssertNotCalled(t, "ComputeRoutes", mock.Anything, mock.Anything, mock.Anything)
}

func TestDirectionsImpact_NoProvider(t *testing.T) {
	svc := NewImpactService(testConfig(), &staticSource{})

	_, err := svc.DirectionsImpact(context.Background(), &DirectionsImpactRequest{
		Origin:      geo.Coordinates{Latitude: 38.1, Longitude: -120.5},
		Destination: geo.Coordinates{Latitude: 38.1, Longitude: -120.4},
	})
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestDirectionsImpact_ProviderFailure(t *testing.T) {
	origin := geo.Coordinates{Latitude: 38.10, Longitude: -120.50}
	destination := geo.Coordinates{Latitude: 38.10, Longitude: -120.40}
	req := &DirectionsImpactRequest{Origin: origin, Destination: destination}
	refresh := 5 * time.Minute
	now := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		cachedAt  *time.Time
		wantError bool
	}{
		{name: "no cached route", wantError: true},
		{name: "stale cached route", cachedAt: ptr(now.Add(-7 * time.Minute))},
		{name: "very stale cached route", cachedAt: ptr(now.Add(-11 * time.Minute)), wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := new(MockRouteProvider)
			provider.On("ComputeRoutes", mock.Anything, origin, destination).Return(nil, google.ErrRateLimited)

			c := &staleCache{}
			if tt.cachedAt != nil {
				c.entry = staleEntry(t, testRouteData(testRoute), *tt.cachedAt, refresh)
			}

			svc := NewImpactService(testConfig(), &staticSource{candidates: hwy4Candidates()},
				WithRouteProvider(provider), WithCache(c))
			svc.now = func() time.Time { return now }

			resp, err := svc.DirectionsImpact(context.Background(), req)
			if tt.wantError {
				assert.ErrorIs(t, err, ErrProviderUnavailable)
				assert.ErrorIs(t, err, google.ErrRateLimited)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{"on-route", "nearby"}, impactIDs(resp.Impacts))
		})
	}
}

func TestDirectionsImpact_MalformedProviderPolyline(t *testing.T) {
	provider := new(MockRouteProvider)
	provider.On("ComputeRoutes", mock.Anything, mock.Anything, mock.Anything).
		Return(&google.RouteData{Polyline: "_p~iF"}, nil)

	svc := NewImpactService(testConfig(), &staticSource{}, WithRouteProvider(provider))

	_, err := svc.DirectionsImpact(context.Background(), &DirectionsImpactRequest{
		Origin:      geo.Coordinates{Latitude: 38.1, Longitude: -120.5},
		Destination: geo.Coordinates{Latitude: 38.1, Longitude: -120.4},
	})
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.ErrorIs(t, err, geo.ErrMalformedPolyline)
	assert.NotErrorIs(t, err, ErrInvalidRequest)
}

func TestProviderOutcome(t *testing.T) {
	assert.Equal(t, "rate_limited", providerOutcome(google.ErrRateLimited))
	assert.Equal(t, "no_routes", providerOutcome(google.ErrNoRoutes))
	assert.Equal(t, "canceled", providerOutcome(context.DeadlineExceeded))
	assert.Equal(t, "error", providerOutcome(errors.New("boom")))
}
