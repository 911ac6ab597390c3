package google

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dpup/impact.ersn.net/server/internal/lib/geo"
)

const (
	// DefaultBaseURL is the public Routes API endpoint.
	DefaultBaseURL = "https://routes.googleapis.com"

	fieldMask = "routes.duration,routes.staticDuration,routes.distanceMeters,routes.polyline.encodedPolyline," +
		"routes.legs.duration,routes.legs.distanceMeters,routes.legs.polyline.encodedPolyline," +
		"routes.travelAdvisory.speedReadingIntervals"
)

var (
	// ErrNoRoutes is returned when the API answers without any route.
	ErrNoRoutes = errors.New("no routes found in response")

	// ErrRateLimited is returned on HTTP 429.
	ErrRateLimited = errors.New("rate limit exceeded (3K QPM)")
)

// HTTPDoer is the subset of *http.Client used by Client
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client provides access to Google Routes API v2
type Client struct {
	apiKey     string
	httpClient HTTPDoer
	baseURL    string
}

// RouteData represents the processed route information from Google Routes API
type RouteData struct {
	DurationSeconds       int32
	StaticDurationSeconds int32
	DistanceMeters        int32
	Polyline              string
	Legs                  []Leg
	SpeedReadings         []SpeedReading
}

// Leg is one origin-to-waypoint section of a route
type Leg struct {
	DurationSeconds int32
	DistanceMeters  int32
	Polyline        string
}

// SpeedReading represents traffic speed data for route segments
type SpeedReading struct {
	StartIndex    int32
	EndIndex      int32
	SpeedCategory string // "NORMAL", "SLOW", "TRAFFIC_JAM"
}

// NewClient creates a new Google Routes API client
func NewClient(apiKey string) *Client {
	return NewClientWithHTTPDoer(apiKey, DefaultBaseURL, &http.Client{
		Timeout: 30 * time.Second,
	})
}

// NewClientWithHTTPDoer creates a client against baseURL using doer for
// requests.
func NewClientWithHTTPDoer(apiKey, baseURL string, doer HTTPDoer) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: doer,
	}
}

// ComputeRoutes performs coordinate-based route computation
func (c *Client) ComputeRoutes(ctx context.Context, origin, destination geo.Coordinates) (*RouteData, error) {
	requestBody := map[string]interface{}{
		"origin":            waypoint(origin),
		"destination":       waypoint(destination),
		"travelMode":        "DRIVE",
		"routingPreference": "TRAFFIC_AWARE_OPTIMAL",
		"extraComputations": []string{"TRAFFIC_ON_POLYLINE"},
	}

	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/directions/v2:computeRoutes", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// The API rejects requests without a field mask.
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", fieldMask)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	var response GoogleRoutesResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(response.Routes) == 0 {
		return nil, ErrNoRoutes
	}

	return processRouteResponse(response.Routes[0])
}

func waypoint(c geo.Coordinates) map[string]interface{} {
	return map[string]interface{}{
		"location": map[string]interface{}{
			"latLng": map[string]interface{}{
				"latitude":  c.Latitude,
				"longitude": c.Longitude,
			},
		},
	}
}

// processRouteResponse converts Google Routes API response to our RouteData format
func processRouteResponse(route GoogleRoute) (*RouteData, error) {
	durationSeconds, err := parseDuration(route.Duration)
	if err != nil {
		return nil, fmt.Errorf("failed to parse duration: %w", err)
	}

	// Static duration is optional in the response
	var staticSeconds int32
	if route.StaticDuration != "" {
		staticSeconds, err = parseDuration(route.StaticDuration)
		if err != nil {
			return nil, fmt.Errorf("failed to parse static duration: %w", err)
		}
	}

	legs := make([]Leg, 0, len(route.Legs))
	for i, leg := range route.Legs {
		legSeconds, err := parseDuration(leg.Duration)
		if err != nil {
			return nil, fmt.Errorf("failed to parse duration of leg %d: %w", i, err)
		}
		legs = append(legs, Leg{
			DurationSeconds: legSeconds,
			DistanceMeters:  leg.DistanceMeters,
			Polyline:        leg.Polyline.EncodedPolyline,
		})
	}

	var speedReadings []SpeedReading
	if route.TravelAdvisory != nil {
		for _, interval := range route.TravelAdvisory.SpeedReadingIntervals {
			speedReadings = append(speedReadings, SpeedReading{
				StartIndex:    interval.StartPolylinePointIndex,
				EndIndex:      interval.EndPolylinePointIndex,
				SpeedCategory: interval.Speed,
			})
		}
	}

	return &RouteData{
		DurationSeconds:       durationSeconds,
		StaticDurationSeconds: staticSeconds,
		DistanceMeters:        route.DistanceMeters,
		Polyline:              route.Polyline.EncodedPolyline,
		Legs:                  legs,
		SpeedReadings:         speedReadings,
	}, nil
}

// parseDuration parses Google's duration format like "450s" to seconds
func parseDuration(durationStr string) (int32, error) {
	if durationStr == "" {
		return 0, fmt.Errorf("empty duration string")
	}

	if len(durationStr) > 1 && durationStr[len(durationStr)-1] == 's' {
		durationStr = durationStr[:len(durationStr)-1]
	}

	var seconds int32
	_, err := fmt.Sscanf(durationStr, "%d", &seconds)
	return seconds, err
}

// GoogleRoutesResponse represents the API response structure
type GoogleRoutesResponse struct {
	Routes []GoogleRoute `json:"routes"`
}

// GoogleRoute represents a single route in the response
type GoogleRoute struct {
	Duration       string                `json:"duration"`
	StaticDuration string                `json:"staticDuration"`
	DistanceMeters int32                 `json:"distanceMeters"`
	Polyline       GooglePolyline        `json:"polyline"`
	Legs           []GoogleLeg           `json:"legs"`
	TravelAdvisory *GoogleTravelAdvisory `json:"travelAdvisory,omitempty"`
}

// GoogleLeg represents a single leg in a route
type GoogleLeg struct {
	Duration       string         `json:"duration"`
	DistanceMeters int32          `json:"distanceMeters"`
	Polyline       GooglePolyline `json:"polyline"`
}

// GooglePolyline represents the route polyline
type GooglePolyline struct {
	EncodedPolyline string `json:"encodedPolyline"`
}

// GoogleTravelAdvisory represents traffic information
type GoogleTravelAdvisory struct {
	SpeedReadingIntervals []GoogleSpeedInterval `json:"speedReadingIntervals"`
}

// GoogleSpeedInterval represents speed data for a route segment
type GoogleSpeedInterval struct {
	StartPolylinePointIndex int32  `json:"startPolylinePointIndex"`
	EndPolylinePointIndex   int32  `json:"endPolylinePointIndex"`
	Speed                   string `json:"speed"` // "NORMAL", "SLOW", "TRAFFIC_JAM"
}
