package geo

import (
	"errors"
	"math"

	"github.com/paulmach/orb"
)

// EarthRadiusMeters is the mean Earth radius used by every distance
// calculation in this package.
const EarthRadiusMeters = 6371000.0

// metersPerDegree is the length of one degree of arc on the mean sphere.
const metersPerDegree = EarthRadiusMeters * math.Pi / 180

var (
	// ErrMalformedPolyline is returned when an encoded polyline is truncated
	// or contains bytes outside the encoding alphabet.
	ErrMalformedPolyline = errors.New("malformed polyline")

	// ErrInvalidCoordinate is returned when a coordinate is not finite or is
	// outside longitude [-180, 180] / latitude [-90, 90].
	ErrInvalidCoordinate = errors.New("invalid coordinates: latitude must be [-90, 90], longitude must be [-180, 180]")
)

// Coordinates is the latitude/longitude pair used at API boundaries, where
// callers think in lat,lng order. Internally everything is an orb.Point
// (lon, lat).
type Coordinates struct {
	Latitude  float64 `json:"latitude" yaml:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" yaml:"longitude" validate:"gte=-180,lte=180"`
}

// Point converts the coordinates to an orb.Point.
func (c Coordinates) Point() orb.Point {
	return orb.Point{c.Longitude, c.Latitude}
}

// FromPoint converts an orb.Point to lat/lng coordinates.
func FromPoint(p orb.Point) Coordinates {
	return Coordinates{Latitude: p.Lat(), Longitude: p.Lon()}
}
