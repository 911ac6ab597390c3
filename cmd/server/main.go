package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/dpup/prefab"
	"github.com/joho/godotenv"

	"github.com/dpup/impact.ersn.net/server/internal/cache"
	"github.com/dpup/impact.ersn.net/server/internal/clients/caltrans"
	"github.com/dpup/impact.ersn.net/server/internal/clients/google"
	"github.com/dpup/impact.ersn.net/server/internal/config"
	"github.com/dpup/impact.ersn.net/server/internal/events"
	"github.com/dpup/impact.ersn.net/server/internal/metrics"
	"github.com/dpup/impact.ersn.net/server/internal/services"
	"github.com/dpup/impact.ersn.net/server/internal/store/geojson"
	"github.com/dpup/impact.ersn.net/server/internal/store/postgres"
	"github.com/dpup/impact.ersn.net/server/internal/transport/gateway"
	"github.com/dpup/impact.ersn.net/server/internal/transport/grpcapi"
)

func main() {
	ctx := context.Background()

	// API keys may live in .env rather than prefab.yaml
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	appConfig := loadConfig()

	source, closeSources := buildSources(ctx, appConfig)
	defer closeSources()

	opts := []services.Option{}

	routeCache, closeCache := buildCache(ctx, appConfig)
	defer closeCache()
	opts = append(opts, services.WithCache(routeCache))

	if appConfig.Routing.GoogleRoutes.APIKey != "" {
		googleClient := google.NewClient(appConfig.Routing.GoogleRoutes.APIKey)
		if appConfig.Routing.GoogleRoutes.BaseURL != "" && appConfig.Routing.GoogleRoutes.BaseURL != google.DefaultBaseURL {
			googleClient = google.NewClientWithHTTPDoer(appConfig.Routing.GoogleRoutes.APIKey,
				appConfig.Routing.GoogleRoutes.BaseURL, &http.Client{Timeout: 30 * time.Second})
		}
		opts = append(opts, services.WithRouteProvider(googleClient))
	} else {
		log.Printf("No Google Routes API key configured; directions and monitored routes are disabled")
	}

	if appConfig.Events.NATSURL != "" {
		publisher, err := events.NewPublisher(appConfig.Events.NATSURL, appConfig.Events.SubjectPrefix)
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		defer publisher.Close()
		opts = append(opts, services.WithPublisher(publisher))
		log.Printf("Publishing route reports to %s.*", appConfig.Events.SubjectPrefix)
	}

	impactService := services.NewImpactService(appConfig, source, opts...)

	log.Printf("Route Impact API Server starting")
	log.Printf("Candidate sources: %s", source.Name())
	log.Printf("Routes monitored: %d", len(appConfig.Routing.MonitoredRoutes))

	if appConfig.Routing.GoogleRoutes.APIKey != "" && len(appConfig.Routing.MonitoredRoutes) > 0 {
		periodicRefresh := services.NewPeriodicRefreshService(impactService, appConfig.Routing.GoogleRoutes.RefreshInterval)
		if err := periodicRefresh.StartPeriodicRefresh(ctx); err != nil {
			log.Printf("Failed to start periodic refresh: %v", err)
		}
		defer periodicRefresh.Stop()
	}

	// Server configuration (port, etc.) is loaded from prefab.yaml/env vars
	server := prefab.New(
		prefab.WithGRPCReflection(),
		prefab.WithHTTPHandlerFunc("/", homepageHandler),
		prefab.WithHTTPHandlerFunc("/metrics", metrics.Handler().ServeHTTP),
	)

	grpcapi.Register(server.ServiceRegistrar(), impactService)

	_, gatewayMux, _, _ := server.GatewayArgs()
	if err := gateway.Register(gatewayMux, impactService); err != nil {
		log.Fatalf("Failed to register impact gateway routes: %v", err)
	}

	// Start the server (blocks until shutdown)
	if err := server.Start(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// loadConfig loads configuration using Prefab's config system on top of the
// defaults. Configuration is read from prefab.yaml and environment variables
// with the PF__ prefix.
func loadConfig() *config.Config {
	appConfig := config.DefaultConfig()

	sections := []struct {
		key    string
		target any
	}{
		{"impact", &appConfig.Impact},
		{"routing", &appConfig.Routing},
		{"candidates", &appConfig.Candidates},
		{"cache", &appConfig.Cache},
		{"events", &appConfig.Events},
	}
	for _, s := range sections {
		if err := prefab.Config.Unmarshal(s.key, s.target); err != nil {
			log.Fatalf("Failed to unmarshal %s section: %v", s.key, err)
		}
	}

	if err := appConfig.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	return appConfig
}

// buildSources opens every configured candidate source
func buildSources(ctx context.Context, appConfig *config.Config) (*services.MultiSource, func()) {
	var (
		sources []services.CandidateSource
		closers []func()
	)

	for _, path := range appConfig.Candidates.GeoJSONFiles {
		store, err := geojson.Load(path)
		if err != nil {
			log.Fatalf("Failed to load candidates from %s: %v", path, err)
		}
		log.Printf("Loaded %d candidates from %s (%d without usable geometry)", store.Len(), path, store.Skipped())
		sources = append(sources, store)
	}

	if dsn := appConfig.Candidates.Postgres.DSN; dsn != "" {
		db, err := postgres.New(ctx, dsn)
		if err != nil {
			log.Fatalf("Failed to connect to Postgres: %v", err)
		}
		repo := postgres.NewCandidateRepo(db, appConfig.Candidates.Postgres.Table)
		if err := repo.EnsureSchema(ctx); err != nil {
			log.Fatalf("Failed to prepare candidate table: %v", err)
		}

		poolCtx, stopPool := context.WithCancel(ctx)
		go reportPoolMetrics(poolCtx, db)

		sources = append(sources, repo)
		closers = append(closers, stopPool, db.Close)
	}

	if caltransConfig := appConfig.Candidates.Caltrans; caltransConfig.Enabled {
		sources = append(sources, caltrans.NewSource(caltrans.NewFeedParser(),
			caltrans.Feed{Type: caltrans.CHAIN_CONTROL, URL: caltransConfig.ChainControls.URL, RefreshInterval: caltransConfig.ChainControls.RefreshInterval},
			caltrans.Feed{Type: caltrans.LANE_CLOSURE, URL: caltransConfig.LaneClosures.URL, RefreshInterval: caltransConfig.LaneClosures.RefreshInterval},
			caltrans.Feed{Type: caltrans.CHP_INCIDENT, URL: caltransConfig.CHPIncidents.URL, RefreshInterval: caltransConfig.CHPIncidents.RefreshInterval},
		))
	}

	if len(sources) == 0 {
		log.Printf("No candidate sources configured; every query will return no impacts")
	}

	return services.NewMultiSource(sources...), func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
}

// buildCache returns the provider route cache
func buildCache(ctx context.Context, appConfig *config.Config) (cache.Cache, func()) {
	if appConfig.Cache.Backend == "valkey" {
		valkeyCache, err := cache.NewValkeyCache(appConfig.Cache.ValkeyAddr, "routeimpact:")
		if err != nil {
			log.Fatalf("Failed to connect to Valkey: %v", err)
		}
		log.Printf("Caching provider routes in Valkey at %s", appConfig.Cache.ValkeyAddr)
		return valkeyCache, valkeyCache.Close
	}

	memoryCache := cache.NewMemoryCache()
	cleanupCtx, stop := context.WithCancel(ctx)
	if appConfig.Cache.CleanupInterval > 0 {
		memoryCache.StartPeriodicCleanup(cleanupCtx, appConfig.Cache.CleanupInterval)
	}
	return memoryCache, stop
}

func reportPoolMetrics(ctx context.Context, db *postgres.DB) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.UpdateDBPoolMetrics(db.Pool.Stat())
		}
	}
}

// homepageHandler serves a simple HTML homepage at the server root
func homepageHandler(w http.ResponseWriter, r *http.Request) {
	// Only handle the root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	html := `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>impact.ersn.net</title>
    <style>
        body { font-family: 'Courier New', Consolas, monospace; background: #000; color: #0f0; padding: 20px; line-height: 1.4; }
        a { color: #0ff; text-decoration: none; }
        a:hover { text-decoration: underline; }
        pre { margin: 0; }
        .header { color: #ff0; }
    </style>
</head>
<body>
<pre>
<span class="header">impact.ersn.net</span>

Finds closures, construction and incidents along a route.

<span class="header">API Endpoints:</span>

  POST /api/v1/impact/route          - Impacts along a route or encoded polyline
  POST /api/v1/impact/directions     - Impacts along the driving route between two points
  <a href="/api/v1/routes">GET  /api/v1/routes</a>                - Latest report for every monitored route
  GET  /api/v1/routes/{route_id}     - Latest report for one route
  GET  /api/v1/routes/{route_id}/kml - Route and impacts as KML
  <a href="/metrics">GET  /metrics</a>                      - Prometheus metrics

<span class="header">Example Usage:</span>
  curl -X POST -d '{"route": [[-120.54, 38.07], [-120.46, 38.13]]}' /api/v1/impact/route
</pre>
</body>
</html>`

	if _, err := fmt.Fprint(w, html); err != nil {
		slog.Error("Failed to write homepage HTML", "error", err)
	}
}
