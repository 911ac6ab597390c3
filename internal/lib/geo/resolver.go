package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// GeometryToRouteDistance returns the minimum distance in meters from a
// geometry to a route by sampling the geometry's vertices:
//
//   - Point: the point itself
//   - LineString, MultiPoint: every vertex
//   - Polygon: every vertex of the outer ring (holes are ignored)
//   - MultiLineString: every vertex of every line
//   - MultiPolygon: every vertex of each member's outer ring
//
// Any other geometry, including orb.Collection and nil, yields +Inf.
//
// Vertex sampling misses an edge that passes close to the route while both of
// its endpoints are far away. That is acceptable for candidate filtering.
func GeometryToRouteDistance(g orb.Geometry, route orb.LineString) float64 {
	switch g := g.(type) {
	case orb.Point:
		return PointToRouteDistance(g, route)
	case orb.LineString:
		return minVertexDistance(route, g)
	case orb.Polygon:
		if len(g) == 0 {
			return math.Inf(1)
		}
		return minVertexDistance(route, g[0])
	case orb.MultiPoint:
		return minVertexDistance(route, g)
	case orb.MultiLineString:
		minDistance := math.Inf(1)
		for _, ls := range g {
			minDistance = math.Min(minDistance, minVertexDistance(route, ls))
		}
		return minDistance
	case orb.MultiPolygon:
		minDistance := math.Inf(1)
		for _, poly := range g {
			if len(poly) == 0 {
				continue
			}
			minDistance = math.Min(minDistance, minVertexDistance(route, poly[0]))
		}
		return minDistance
	default:
		return math.Inf(1)
	}
}

func minVertexDistance[P ~[]orb.Point](route orb.LineString, points P) float64 {
	minDistance := math.Inf(1)
	for _, p := range points {
		if d := PointToRouteDistance(p, route); d < minDistance {
			minDistance = d
		}
	}
	return minDistance
}

// IsValidGeometry reports whether g is one of the six supported variants with
// every coordinate sequence non-empty, every polygon ring at least three
// points long and every coordinate finite. Coordinate
// ranges are not checked; see ValidateGeometry.
func IsValidGeometry(g orb.Geometry) bool {
	return checkGeometry(g, false) == nil
}

// ValidateGeometry is IsValidGeometry plus a coordinate range check. It is
// meant for ingestion, where candidates enter the system.
func ValidateGeometry(g orb.Geometry) error {
	return checkGeometry(g, true)
}

// minRingPoints is the shortest polygon ring accepted
const minRingPoints = 3

func checkGeometry(g orb.Geometry, checkRange bool) error {
	switch g := g.(type) {
	case orb.Point:
		return checkPoints(checkRange, g)
	case orb.LineString:
		return checkPoints(checkRange, g...)
	case orb.MultiPoint:
		return checkPoints(checkRange, g...)
	case orb.Polygon:
		if len(g) == 0 {
			return fmt.Errorf("polygon has no rings")
		}
		for i, ring := range g {
			if len(ring) < minRingPoints {
				return fmt.Errorf("ring %d has %d points, need at least %d", i, len(ring), minRingPoints)
			}
			if err := checkPoints(checkRange, ring...); err != nil {
				return fmt.Errorf("ring %d: %w", i, err)
			}
		}
		return nil
	case orb.MultiLineString:
		if len(g) == 0 {
			return fmt.Errorf("multilinestring has no lines")
		}
		for i, ls := range g {
			if err := checkPoints(checkRange, ls...); err != nil {
				return fmt.Errorf("line %d: %w", i, err)
			}
		}
		return nil
	case orb.MultiPolygon:
		if len(g) == 0 {
			return fmt.Errorf("multipolygon has no polygons")
		}
		for i, poly := range g {
			if err := checkGeometry(poly, checkRange); err != nil {
				return fmt.Errorf("polygon %d: %w", i, err)
			}
		}
		return nil
	case nil:
		return fmt.Errorf("missing geometry")
	default:
		return fmt.Errorf("unsupported geometry type %s", g.GeoJSONType())
	}
}

func checkPoints(checkRange bool, points ...orb.Point) error {
	if len(points) == 0 {
		return fmt.Errorf("empty coordinate sequence")
	}
	for _, p := range points {
		if math.IsNaN(p[0]) || math.IsNaN(p[1]) || math.IsInf(p[0], 0) || math.IsInf(p[1], 0) {
			return fmt.Errorf("non-finite coordinate %v", p)
		}
		if checkRange && !IsValidPoint(p) {
			return fmt.Errorf("%w: %v", ErrInvalidCoordinate, p)
		}
	}
	return nil
}
