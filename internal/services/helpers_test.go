package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dpup/impact.ersn.net/server/internal/cache"
	"github.com/dpup/impact.ersn.net/server/internal/clients/google"
	"github.com/dpup/impact.ersn.net/server/internal/config"
	"github.com/dpup/impact.ersn.net/server/internal/lib/geo"
	"github.com/dpup/impact.ersn.net/server/internal/lib/proximity"
)

// testRoute runs east along latitude 38.1 near Murphys
var testRoute = orb.LineString{{-120.50, 38.10}, {-120.45, 38.10}, {-120.40, 38.10}}

// MockRouteProvider mocks the route provider
type MockRouteProvider struct {
	mock.Mock
}

func (m *MockRouteProvider) ComputeRoutes(ctx context.Context, origin, destination geo.Coordinates) (*google.RouteData, error) {
	args := m.Called(ctx, origin, destination)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*google.RouteData), args.Error(1)
}

// MockPublisher mocks the report publisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishRouteReport(ctx context.Context, routeID string, report any) error {
	args := m.Called(ctx, routeID, report)
	return args.Error(0)
}

// staticSource returns its candidates for every bound and records the bounds
// it was asked for
type staticSource struct {
	name       string
	candidates []proximity.Candidate
	err        error

	mu     sync.Mutex
	bounds []orb.Bound
}

func (s *staticSource) Name() string {
	if s.name == "" {
		return "static"
	}
	return s.name
}

func (s *staticSource) Candidates(ctx context.Context, bound orb.Bound) ([]proximity.Candidate, error) {
	s.mu.Lock()
	s.bounds = append(s.bounds, bound)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.candidates, nil
}

func (s *staticSource) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bounds)
}

// staleCache serves a single entry only through GetWithMetadata
type staleCache struct {
	entry *cache.CacheEntry
}

func (c *staleCache) Set(ctx context.Context, key string, data interface{}, refreshInterval time.Duration, source string) error {
	return nil
}

func (c *staleCache) Get(ctx context.Context, key string, result interface{}) (bool, error) {
	return false, nil
}

func (c *staleCache) GetWithMetadata(ctx context.Context, key string, result interface{}) (*cache.CacheEntry, bool, error) {
	if c.entry == nil {
		return nil, false, nil
	}
	return c.entry, true, c.entry.Decode(result)
}

func (c *staleCache) Delete(ctx context.Context, key string) error {
	return nil
}

func pointCandidate(id, kind string, lon, lat float64) proximity.Candidate {
	return proximity.Candidate{ID: id, Kind: kind, Title: id, Geometry: orb.Point{lon, lat}}
}

// hwy4Candidates has one feature on testRoute, one about a kilometer north of
// it and one far outside any reasonable buffer
func hwy4Candidates() []proximity.Candidate {
	return []proximity.Candidate{
		pointCandidate("far", "incident", -120.45, 39.00),
		pointCandidate("nearby", "construction", -120.45, 38.11),
		pointCandidate("on-route", "incident", -120.45, 38.10),
	}
}

func testRouteData(route orb.LineString) *google.RouteData {
	encoded := geo.EncodePolyline(route)
	return &google.RouteData{
		DurationSeconds:       1142,
		StaticDurationSeconds: 1080,
		DistanceMeters:        8770,
		Polyline:              encoded,
		Legs: []google.Leg{
			{DurationSeconds: 1142, DistanceMeters: 8770, Polyline: encoded},
		},
	}
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Routing.MonitoredRoutes = []config.MonitoredRoute{
		{
			Name:        "Test Route",
			ID:          "test-route",
			Section:     "Murphys",
			Origin:      config.CoordinatesYAML{Latitude: 38.10, Longitude: -120.50},
			Destination: config.CoordinatesYAML{Latitude: 38.10, Longitude: -120.40},
		},
	}
	return cfg
}

func staleEntry(t *testing.T, data any, createdAt time.Time, refresh time.Duration) *cache.CacheEntry {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return &cache.CacheEntry{
		Data:            raw,
		CreatedAt:       createdAt,
		ExpiresAt:       createdAt.Add(refresh),
		RefreshInterval: refresh,
		Source:          "google_routes",
	}
}

func ptr[T any](v T) *T {
	return &v
}
