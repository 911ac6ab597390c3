package geo

import (
	"math"

	"github.com/paulmach/orb"
)

// ExpandBound grows a bound by at least meters in every direction, so that
// any point within meters of any point inside b lies inside the result.
//
// Latitude is padded by the arc length in degrees. Longitude is padded by
// asin(sin(r)/cos(lat)) at the highest latitude the padded bound reaches,
// which is the widest longitude offset a circle of radius r can have there.
// When the circle reaches a pole, or the padded range leaves [-180, 180],
// longitude covers the whole globe.
func ExpandBound(b orb.Bound, meters float64) orb.Bound {
	if !(meters > 0) {
		return b
	}

	dLat := meters / metersPerDegree
	minLat := math.Max(-90, b.Min.Lat()-dLat)
	maxLat := math.Min(90, b.Max.Lat()+dLat)

	fullLon := orb.Bound{
		Min: orb.Point{-180, minLat},
		Max: orb.Point{180, maxLat},
	}

	r := meters / EarthRadiusMeters
	if math.IsInf(r, 1) || r >= math.Pi/2 {
		return fullLon
	}

	latMax := math.Max(math.Abs(minLat), math.Abs(maxLat)) * math.Pi / 180
	s := math.Sin(r) / math.Cos(latMax)
	if latMax >= math.Pi/2 || s >= 1 || math.IsNaN(s) {
		return fullLon
	}

	dLon := math.Asin(s) * 180 / math.Pi
	minLon := b.Min.Lon() - dLon
	maxLon := b.Max.Lon() + dLon
	if minLon < -180 || maxLon > 180 {
		return fullLon
	}

	return orb.Bound{
		Min: orb.Point{minLon, minLat},
		Max: orb.Point{maxLon, maxLat},
	}
}

// RouteBound returns the bounding box of the route expanded by meters. This
// is the region a candidate source must cover for a query with that buffer.
func RouteBound(route orb.LineString, meters float64) orb.Bound {
	return ExpandBound(route.Bound(), meters)
}
