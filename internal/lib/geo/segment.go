package geo

import (
	"math"

	"github.com/paulmach/orb"
)

// ProjectOntoSegment returns the point on segment [a, b] nearest to p,
// computed with a planar parametric projection in raw (lon, lat) degree
// space. The parameter t is clamped to [0, 1] and is 0 for a zero-length
// segment.
func ProjectOntoSegment(p, a, b orb.Point) orb.Point {
	dx := b[0] - a[0]
	dy := b[1] - a[1]

	lengthSq := dx*dx + dy*dy
	t := 0.0
	if lengthSq > 0 {
		t = ((p[0]-a[0])*dx + (p[1]-a[1])*dy) / lengthSq
		t = math.Max(0, math.Min(1, t))
	}

	return orb.Point{a[0] + t*dx, a[1] + t*dy}
}

// PointToSegmentDistance returns the geodesic distance in meters from p to
// its planar projection onto segment [a, b].
//
// The projection is planar and the measurement is haversine. This is
// accurate for buffers up to tens of kilometers at mid latitudes and
// drifts near the poles and along very long segments.
func PointToSegmentDistance(p, a, b orb.Point) float64 {
	return PointDistance(p, ProjectOntoSegment(p, a, b))
}

// PointToRouteDistance returns the minimum PointToSegmentDistance over every
// consecutive pair of route points. A route with fewer than two points has no
// segments and yields +Inf.
func PointToRouteDistance(p orb.Point, route orb.LineString) float64 {
	minDistance := math.Inf(1)
	for i := 0; i < len(route)-1; i++ {
		if d := PointToSegmentDistance(p, route[i], route[i+1]); d < minDistance {
			minDistance = d
		}
	}
	return minDistance
}

// ClosestPointOnRoute returns the projected point on the route nearest to p
// and its distance. ok is false when the route has fewer than two points.
func ClosestPointOnRoute(p orb.Point, route orb.LineString) (closest orb.Point, distance float64, ok bool) {
	distance = math.Inf(1)
	for i := 0; i < len(route)-1; i++ {
		candidate := ProjectOntoSegment(p, route[i], route[i+1])
		if d := PointDistance(p, candidate); d < distance {
			closest, distance, ok = candidate, d, true
		}
	}
	return closest, distance, ok
}
