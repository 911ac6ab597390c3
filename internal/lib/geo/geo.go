package geo

import (
	"math"

	"github.com/paulmach/orb"
)

// Distance calculates the great-circle distance in meters between two points
// using the haversine formula. Inputs are degrees and are not range checked.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	if lat1 == lat2 && lon1 == lon2 {
		return 0
	}

	// Convert degrees to radians
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	dlat := (lat2 - lat1) * math.Pi / 180
	dlon := (lon2 - lon1) * math.Pi / 180

	// Haversine formula
	sinLat := math.Sin(dlat / 2)
	sinLon := math.Sin(dlon / 2)
	a := sinLat*sinLat + math.Cos(lat1Rad)*math.Cos(lat2Rad)*sinLon*sinLon

	// Rounding can push a just past 1 for antipodal points.
	a = math.Min(1, a)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// PointDistance is Distance for two orb points.
func PointDistance(a, b orb.Point) float64 {
	return Distance(a.Lat(), a.Lon(), b.Lat(), b.Lon())
}

// NewPoint creates a point from latitude and longitude values with validation.
func NewPoint(latitude, longitude float64) (orb.Point, error) {
	p := orb.Point{longitude, latitude}
	if !IsValidPoint(p) {
		return orb.Point{}, ErrInvalidCoordinate
	}
	return p, nil
}

// IsValidPoint reports whether p is finite and within longitude [-180, 180]
// and latitude [-90, 90].
func IsValidPoint(p orb.Point) bool {
	lon, lat := p.Lon(), p.Lat()
	if math.IsNaN(lon) || math.IsNaN(lat) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// RouteLength returns the geodesic length of a route in meters.
func RouteLength(route orb.LineString) float64 {
	total := 0.0
	for i := 0; i < len(route)-1; i++ {
		total += PointDistance(route[i], route[i+1])
	}
	return total
}
