package geo

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/twpayne/go-polyline"
)

// DecodePolyline decodes a Google encoded polyline (precision 1e5) into a
// route. The wire order is lat,lng; the returned points are (lon, lat).
// An empty string decodes to an empty route. Truncated input, bytes outside
// the encoding alphabet and out of range coordinates all return
// ErrMalformedPolyline.
func DecodePolyline(encoded string) (orb.LineString, error) {
	if encoded == "" {
		return orb.LineString{}, nil
	}

	coords, _, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPolyline, err)
	}

	route := make(orb.LineString, len(coords))
	for i, coord := range coords {
		route[i] = orb.Point{coord[1], coord[0]}

		// Validate decoded coordinates
		if !IsValidPoint(route[i]) {
			return nil, fmt.Errorf("%w: point %d (%v) is out of range", ErrMalformedPolyline, i, route[i])
		}
	}

	return route, nil
}

// EncodePolyline is the inverse of DecodePolyline.
func EncodePolyline(route orb.LineString) string {
	coords := make([][]float64, len(route))
	for i, p := range route {
		coords[i] = []float64{p.Lat(), p.Lon()}
	}
	return string(polyline.EncodeCoords(coords))
}
