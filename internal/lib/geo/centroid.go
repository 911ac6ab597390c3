package geo

import "github.com/paulmach/orb"

// Centroid returns a representative point for a geometry. It is a display
// heuristic, not a weighted centroid: a Point is itself, a LineString is its
// middle vertex (index len/2) and a Polygon is the arithmetic mean of its
// outer ring vertices. Other geometries have no representative point.
func Centroid(g orb.Geometry) (orb.Point, bool) {
	switch g := g.(type) {
	case orb.Point:
		return g, true
	case orb.LineString:
		if len(g) == 0 {
			return orb.Point{}, false
		}
		return g[len(g)/2], true
	case orb.Polygon:
		if len(g) == 0 || len(g[0]) == 0 {
			return orb.Point{}, false
		}
		var sumLon, sumLat float64
		for _, p := range g[0] {
			sumLon += p.Lon()
			sumLat += p.Lat()
		}
		n := float64(len(g[0]))
		return orb.Point{sumLon / n, sumLat / n}, true
	default:
		return orb.Point{}, false
	}
}
