package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/paulmach/orb"

	"github.com/dpup/impact.ersn.net/server/internal/clients/caltrans"
	"github.com/dpup/impact.ersn.net/server/internal/clients/google"
	"github.com/dpup/impact.ersn.net/server/internal/config"
	"github.com/dpup/impact.ersn.net/server/internal/lib/export"
	"github.com/dpup/impact.ersn.net/server/internal/lib/geo"
	"github.com/dpup/impact.ersn.net/server/internal/lib/routing"
	"github.com/dpup/impact.ersn.net/server/internal/services"
	"github.com/dpup/impact.ersn.net/server/internal/store/geojson"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	_ = godotenv.Load()

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "distance":
		err = handleDistance(args)
	case "decode-polyline":
		err = handleDecodePolyline(args)
	case "impact":
		err = handleImpact(args)
	case "kml":
		err = handleKML(args)
	case "directions":
		err = handleDirections(args)
	case "caltrans":
		err = handleCaltrans(args)
	case "help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		log.Fatalf("%s: %v", command, err)
	}
}

func printUsage() {
	fmt.Println("Route impact tool")
	fmt.Println()
	fmt.Println("Usage: impact-cli <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  distance         Geodesic distance between two points")
	fmt.Println("  decode-polyline  Decode an encoded polyline")
	fmt.Println("  impact           Impacts along a route from a GeoJSON candidate file")
	fmt.Println("  kml              Like impact, written as KML")
	fmt.Println("  directions       Impacts along the Google route between two points")
	fmt.Println("  caltrans         Caltrans feed candidates near a point")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  impact-cli distance --from 38.0675,-120.5436 --to 38.1391,-120.4561")
	fmt.Println("  impact-cli impact --candidates features.geojson --route '38.0674,-120.5402;38.1327,-120.4606'")
	fmt.Println("  impact-cli kml --candidates features.geojson --polyline '_p~iF~ps|U_ulLnnqC' --out route.kml")
	fmt.Println("  impact-cli directions --from 38.0674,-120.5402 --to 38.1327,-120.4606 --candidates features.geojson")
	fmt.Println("  impact-cli caltrans --near 38.2,-120.3 --radius 25000")
}

func handleDistance(args []string) error {
	fs := flag.NewFlagSet("distance", flag.ExitOnError)
	from := fs.String("from", "", "First point as lat,lon")
	to := fs.String("to", "", "Second point as lat,lon")
	if err := fs.Parse(args); err != nil {
		return err
	}

	p1, err := parseLatLon(*from)
	if err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	p2, err := parseLatLon(*to)
	if err != nil {
		return fmt.Errorf("--to: %w", err)
	}

	distance := geo.PointDistance(p1, p2)
	fmt.Printf("Distance between points:\n")
	fmt.Printf("  Point 1: (%.6f, %.6f)\n", p1.Lat(), p1.Lon())
	fmt.Printf("  Point 2: (%.6f, %.6f)\n", p2.Lat(), p2.Lon())
	fmt.Printf("  Distance: %.2f meters (%.2f km, %.2f miles)\n",
		distance, distance/1000, distance*0.000621371)
	return nil
}

func handleDecodePolyline(args []string) error {
	fs := flag.NewFlagSet("decode-polyline", flag.ExitOnError)
	polyline := fs.String("polyline", "", "Encoded polyline string")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *polyline == "" {
		return errors.New("--polyline is required")
	}

	route, err := geo.DecodePolyline(*polyline)
	if err != nil {
		return err
	}

	fmt.Printf("Decoded %d points (%.2f km):\n", len(route), geo.RouteLength(route)/1000)
	for i, p := range route {
		fmt.Printf("  %3d: %.5f, %.5f\n", i, p.Lat(), p.Lon())
	}
	return nil
}

// routeFlags are shared by the impact and kml commands
type routeFlags struct {
	candidates *string
	route      *string
	polyline   *string
	buffer     *float64
}

func addRouteFlags(fs *flag.FlagSet) routeFlags {
	return routeFlags{
		candidates: fs.String("candidates", "", "GeoJSON FeatureCollection of candidate features"),
		route:      fs.String("route", "", "Route as lat,lon;lat,lon;..."),
		polyline:   fs.String("polyline", "", "Route as an encoded polyline"),
		buffer:     fs.Float64("buffer", 0, "Buffer in meters (default from config)"),
	}
}

func (f routeFlags) request() (*services.RouteImpactRequest, error) {
	req := &services.RouteImpactRequest{Polyline: *f.polyline}
	if *f.route != "" {
		route, err := parseRoute(*f.route)
		if err != nil {
			return nil, fmt.Errorf("--route: %w", err)
		}
		req.Route = route
	}
	if *f.buffer > 0 {
		req.BufferMeters = f.buffer
	}
	return req, nil
}

func (f routeFlags) service(opts ...services.Option) (*services.ImpactService, error) {
	cfg := config.DefaultConfig()
	cfg.Routing.MonitoredRoutes = nil

	var sources []services.CandidateSource
	if *f.candidates != "" {
		store, err := geojson.Load(*f.candidates)
		if err != nil {
			return nil, err
		}
		if store.Skipped() > 0 {
			fmt.Fprintf(os.Stderr, "%d features have no usable geometry and will be skipped\n", store.Skipped())
		}
		sources = append(sources, store)
	}
	return services.NewImpactService(cfg, services.NewMultiSource(sources...), opts...), nil
}

func handleImpact(args []string) error {
	fs := flag.NewFlagSet("impact", flag.ExitOnError)
	flags := addRouteFlags(fs)
	asJSON := fs.Bool("json", false, "Print the response as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	svc, err := flags.service()
	if err != nil {
		return err
	}
	req, err := flags.request()
	if err != nil {
		return err
	}

	resp, err := svc.RouteImpact(context.Background(), req)
	if err != nil {
		return err
	}

	if *asJSON {
		return printJSON(os.Stdout, resp)
	}
	fmt.Printf("Status: %s  Chains: %s  Checked: %d  Buffer: %.0f m\n\n",
		resp.Status, resp.ChainControl, resp.TotalChecked, resp.BufferMeters)
	printImpacts(os.Stdout, resp.Impacts)
	return nil
}

func handleKML(args []string) error {
	fs := flag.NewFlagSet("kml", flag.ExitOnError)
	flags := addRouteFlags(fs)
	name := fs.String("name", "Route", "Document name")
	out := fs.String("out", "", "Output file (default stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	svc, err := flags.service()
	if err != nil {
		return err
	}
	req, err := flags.request()
	if err != nil {
		return err
	}

	resp, err := svc.RouteImpact(context.Background(), req)
	if err != nil {
		return err
	}

	route := req.Route
	if req.Polyline != "" {
		if route, err = geo.DecodePolyline(req.Polyline); err != nil {
			return err
		}
	}

	w := io.Writer(os.Stdout)
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return export.WriteRouteImpactKML(w, *name, route, resp.Impacts)
}

func handleDirections(args []string) error {
	fs := flag.NewFlagSet("directions", flag.ExitOnError)
	apiKey := fs.String("api-key", "", "Google Routes API key (or set GOOGLE_ROUTES_API_KEY)")
	from := fs.String("from", "38.067400,-120.540200", "Origin as lat,lon")
	to := fs.String("to", "38.132700,-120.460600", "Destination as lat,lon")
	candidates := fs.String("candidates", "", "GeoJSON FeatureCollection of candidate features")
	buffer := fs.Float64("buffer", 0, "Buffer in meters (default from config)")
	asJSON := fs.Bool("json", false, "Print the response as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	key := *apiKey
	if key == "" {
		key = os.Getenv("GOOGLE_ROUTES_API_KEY")
	}
	if key == "" {
		return errors.New("Google Routes API key required; use --api-key or GOOGLE_ROUTES_API_KEY")
	}

	origin, err := parseLatLon(*from)
	if err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	destination, err := parseLatLon(*to)
	if err != nil {
		return fmt.Errorf("--to: %w", err)
	}

	empty := ""
	flags := routeFlags{candidates: candidates, route: &empty, polyline: &empty, buffer: buffer}
	svc, err := flags.service(services.WithRouteProvider(google.NewClient(key)))
	if err != nil {
		return err
	}

	req := &services.DirectionsImpactRequest{
		Origin:      geo.FromPoint(origin),
		Destination: geo.FromPoint(destination),
	}
	if *buffer > 0 {
		req.BufferMeters = buffer
	}

	resp, err := svc.DirectionsImpact(context.Background(), req)
	if err != nil {
		return err
	}

	if *asJSON {
		return printJSON(os.Stdout, resp)
	}
	fmt.Printf("Distance: %.2f km  Duration: %.1f min  Delay: %d s  Congestion: %s\n",
		float64(resp.DistanceMeters)/1000, float64(resp.DurationSeconds)/60, resp.DelaySeconds, resp.CongestionLevel)
	fmt.Printf("Status: %s  Chains: %s  Checked: %d\n\n", resp.Status, resp.ChainControl, resp.TotalChecked)
	printImpacts(os.Stdout, resp.Impacts)
	return nil
}

func handleCaltrans(args []string) error {
	fs := flag.NewFlagSet("caltrans", flag.ExitOnError)
	near := fs.String("near", "38.2,-120.3", "Center point as lat,lon")
	radius := fs.Float64("radius", 50000, "Radius in meters")
	feed := fs.String("feed", "all", "Feed: all, chain, lanes, chp")
	if err := fs.Parse(args); err != nil {
		return err
	}

	center, err := parseLatLon(*near)
	if err != nil {
		return fmt.Errorf("--near: %w", err)
	}

	cfg := config.DefaultConfig().Candidates.Caltrans
	all := map[string]caltrans.Feed{
		"chain": {Type: caltrans.CHAIN_CONTROL, URL: cfg.ChainControls.URL, RefreshInterval: cfg.ChainControls.RefreshInterval},
		"lanes": {Type: caltrans.LANE_CLOSURE, URL: cfg.LaneClosures.URL, RefreshInterval: cfg.LaneClosures.RefreshInterval},
		"chp":   {Type: caltrans.CHP_INCIDENT, URL: cfg.CHPIncidents.URL, RefreshInterval: cfg.CHPIncidents.RefreshInterval},
	}

	var feeds []caltrans.Feed
	if *feed == "all" {
		feeds = []caltrans.Feed{all["chain"], all["lanes"], all["chp"]}
	} else if f, ok := all[*feed]; ok {
		feeds = []caltrans.Feed{f}
	} else {
		return fmt.Errorf("unknown feed %q", *feed)
	}

	source := caltrans.NewSource(caltrans.NewFeedParser(), feeds...)
	candidates, err := source.Candidates(context.Background(), geo.ExpandBound(center.Bound(), *radius))
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tSTATUS\tTITLE\tID")
	for _, c := range candidates {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.Kind, c.Status, truncate(c.Title, 60), c.ID)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d candidates within the search box\n", len(candidates))
	return nil
}

func printImpacts(out io.Writer, impacts []routing.ClassifiedImpact) {
	if len(impacts) == 0 {
		fmt.Fprintln(out, "No impacts found")
		return
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DISTANCE\tCLASS\tKIND\tSTATUS\tTITLE\tID")
	for _, impact := range impacts {
		fmt.Fprintf(w, "%d m\t%s\t%s\t%s\t%s\t%s\n",
			impact.DistanceMeters, impact.Classification, impact.Kind, impact.Status, truncate(impact.Title, 50), impact.ID)
	}
	_ = w.Flush()
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseLatLon parses "lat,lon" into an orb point
func parseLatLon(s string) (orb.Point, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return orb.Point{}, fmt.Errorf("expected lat,lon, got %q", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return orb.Point{}, fmt.Errorf("latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return orb.Point{}, fmt.Errorf("longitude: %w", err)
	}
	return geo.NewPoint(lat, lon)
}

// parseRoute parses "lat,lon;lat,lon;..." into a route
func parseRoute(s string) (orb.LineString, error) {
	var route orb.LineString
	for i, part := range strings.Split(s, ";") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		p, err := parseLatLon(part)
		if err != nil {
			return nil, fmt.Errorf("point %d: %w", i, err)
		}
		route = append(route, p)
	}
	if len(route) < 2 {
		return nil, errors.New("a route needs at least two points")
	}
	return route, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
