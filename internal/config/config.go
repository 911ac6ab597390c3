package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/paulmach/orb"

	"github.com/dpup/impact.ersn.net/server/internal/lib/geo"
)

// Config represents the complete server configuration. Listening addresses
// and TLS belong to prefab's own "server" section.
type Config struct {
	Impact     ImpactConfig     `yaml:"impact"`
	Routing    RoutingConfig    `yaml:"routing"`
	Candidates CandidatesConfig `yaml:"candidates"`
	Cache      CacheConfig      `yaml:"cache"`
	Events     EventsConfig     `yaml:"events"`
}

// ImpactConfig holds proximity engine settings
type ImpactConfig struct {
	DefaultBufferMeters float64 `yaml:"default_buffer_meters"`
	MaxBufferMeters     float64 `yaml:"max_buffer_meters"`
	OnRouteThreshold    float64 `yaml:"on_route_threshold"`
	Workers             int     `yaml:"workers"`            // 0 = GOMAXPROCS
	ParallelThreshold   int     `yaml:"parallel_threshold"` // candidates before fanning out
}

// RoutingConfig holds route provider and monitoring configuration
type RoutingConfig struct {
	GoogleRoutes    GoogleConfig     `yaml:"google_routes"`
	MonitoredRoutes []MonitoredRoute `yaml:"monitored_routes"`
}

// GoogleConfig holds Google Routes API settings
type GoogleConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	StaleThreshold  time.Duration `yaml:"stale_threshold"`
	APIKey          string        `yaml:"api_key"`
	BaseURL         string        `yaml:"base_url"`
}

// MonitoredRoute represents a route to monitor
type MonitoredRoute struct {
	Name         string          `yaml:"name"`
	ID           string          `yaml:"id"`
	Section      string          `yaml:"section"`
	Origin       CoordinatesYAML `yaml:"origin"`
	Destination  CoordinatesYAML `yaml:"destination"`
	BufferMeters float64         `yaml:"buffer_meters"`
}

// CandidatesConfig selects where candidate features come from. Every
// configured source is queried.
type CandidatesConfig struct {
	GeoJSONFiles []string       `yaml:"geojson_files"`
	Postgres     PostgresConfig `yaml:"postgres"`
	Caltrans     CaltransConfig `yaml:"caltrans"`
}

// PostgresConfig holds the PostGIS candidate store settings
type PostgresConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

// CaltransConfig holds Caltrans KML feed settings
type CaltransConfig struct {
	Enabled       bool               `yaml:"enabled"`
	ChainControls CaltransFeedConfig `yaml:"chain_controls"`
	LaneClosures  CaltransFeedConfig `yaml:"lane_closures"`
	CHPIncidents  CaltransFeedConfig `yaml:"chp_incidents"`
}

// CaltransFeedConfig holds individual feed configuration
type CaltransFeedConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	URL             string        `yaml:"url"`
}

// CacheConfig selects the cache backend for provider routes
type CacheConfig struct {
	Backend         string        `yaml:"backend"` // memory | valkey
	ValkeyAddr      string        `yaml:"valkey_addr"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// EventsConfig holds NATS publishing settings. Publishing is disabled when
// NATSURL is empty.
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// CoordinatesYAML represents lat/lon coordinates in YAML config
type CoordinatesYAML struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

// Point converts CoordinatesYAML to an orb point (lon, lat)
func (c CoordinatesYAML) Point() orb.Point {
	return orb.Point{c.Longitude, c.Latitude}
}

// Coordinates converts CoordinatesYAML to API coordinates
func (c CoordinatesYAML) Coordinates() geo.Coordinates {
	return geo.Coordinates{Latitude: c.Latitude, Longitude: c.Longitude}
}

// Validate checks the configuration for values the server cannot run with
func (c *Config) Validate() error {
	var errs []error

	if !(c.Impact.DefaultBufferMeters > 0) {
		errs = append(errs, errors.New("impact.default_buffer_meters must be positive"))
	}
	if c.Impact.MaxBufferMeters < c.Impact.DefaultBufferMeters {
		errs = append(errs, errors.New("impact.max_buffer_meters must be at least default_buffer_meters"))
	}
	if c.Impact.OnRouteThreshold < 0 {
		errs = append(errs, errors.New("impact.on_route_threshold must not be negative"))
	}

	if len(c.Routing.MonitoredRoutes) > 0 && c.Routing.GoogleRoutes.RefreshInterval <= 0 {
		errs = append(errs, errors.New("routing.google_routes.refresh_interval must be positive"))
	}

	seen := make(map[string]bool)
	for i, route := range c.Routing.MonitoredRoutes {
		if route.ID == "" {
			errs = append(errs, fmt.Errorf("routing.monitored_routes[%d]: id is required", i))
		} else if seen[route.ID] {
			errs = append(errs, fmt.Errorf("routing.monitored_routes[%d]: duplicate id %q", i, route.ID))
		}
		seen[route.ID] = true

		if !geo.IsValidPoint(route.Origin.Point()) || !geo.IsValidPoint(route.Destination.Point()) {
			errs = append(errs, fmt.Errorf("routing.monitored_routes[%d]: %w", i, geo.ErrInvalidCoordinate))
		}
		if route.BufferMeters < 0 || route.BufferMeters > c.Impact.MaxBufferMeters {
			errs = append(errs, fmt.Errorf("routing.monitored_routes[%d]: buffer_meters out of range", i))
		}
	}

	switch c.Cache.Backend {
	case "", "memory":
	case "valkey":
		if c.Cache.ValkeyAddr == "" {
			errs = append(errs, errors.New("cache.valkey_addr is required for the valkey backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend: unknown backend %q", c.Cache.Backend))
	}

	return errors.Join(errs...)
}

// BufferFor returns the route's buffer, falling back to the default
func (c *Config) BufferFor(route MonitoredRoute) float64 {
	if route.BufferMeters > 0 {
		return route.BufferMeters
	}
	return c.Impact.DefaultBufferMeters
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Impact: ImpactConfig{
			DefaultBufferMeters: 16093.4, // 10 miles
			MaxBufferMeters:     500000,
			OnRouteThreshold:    100,
			ParallelThreshold:   64,
		},
		Routing: RoutingConfig{
			GoogleRoutes: GoogleConfig{
				RefreshInterval: 5 * time.Minute,
				StaleThreshold:  10 * time.Minute,
				BaseURL:         "https://routes.googleapis.com",
			},
			MonitoredRoutes: []MonitoredRoute{
				{
					Name:    "Hwy 4",
					ID:      "hwy4-angels-murphys",
					Section: "Angels Camp to Murphys",
					Origin: CoordinatesYAML{
						Latitude:  38.0674,
						Longitude: -120.5402,
					},
					Destination: CoordinatesYAML{
						Latitude:  38.1327,
						Longitude: -120.4606,
					},
				},
				{
					Name:    "Hwy 4",
					ID:      "hwy4-murphys-arnold",
					Section: "Murphys to Arnold",
					Origin: CoordinatesYAML{
						Latitude:  38.1327,
						Longitude: -120.4606,
					},
					Destination: CoordinatesYAML{
						Latitude:  38.2458,
						Longitude: -120.3486,
					},
				},
				{
					Name:    "Hwy 4",
					ID:      "hwy4-arnold-ebbetts",
					Section: "Arnold to Ebbetts Pass",
					Origin: CoordinatesYAML{
						Latitude:  38.2458,
						Longitude: -120.3486,
					},
					Destination: CoordinatesYAML{
						Latitude:  38.5347,
						Longitude: -119.8075,
					},
				},
			},
		},
		Candidates: CandidatesConfig{
			Postgres: PostgresConfig{
				Table: "route_candidates",
			},
			Caltrans: CaltransConfig{
				ChainControls: CaltransFeedConfig{
					RefreshInterval: 15 * time.Minute, // Less frequent, changes slowly
					URL:             "https://quickmap.dot.ca.gov/data/cc.kml",
				},
				LaneClosures: CaltransFeedConfig{
					RefreshInterval: 10 * time.Minute,
					URL:             "https://quickmap.dot.ca.gov/data/lcs2way.kml",
				},
				CHPIncidents: CaltransFeedConfig{
					RefreshInterval: 5 * time.Minute, // More frequent, incidents change quickly
					URL:             "https://quickmap.dot.ca.gov/data/chp-only.kml",
				},
			},
		},
		Cache: CacheConfig{
			Backend:         "memory",
			CleanupInterval: 30 * time.Minute,
		},
		Events: EventsConfig{
			SubjectPrefix: "routeimpact.routes",
		},
	}
}
