package geo

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
)

// A one degree meridian segment starting at the equator.
var meridian = orb.LineString{{0, 0}, {0, 1}}

func TestGeometryToRouteDistance_PointMatchesPointToRoute(t *testing.T) {
	routes := []orb.LineString{meridian, {angelsCamp, murphys, arnold}, {angelsCamp}, nil}
	points := []orb.Point{{0, 0.5}, {1, 0.5}, angelsCamp, {-120.5, 38.1}, {45, -45}}

	for _, route := range routes {
		for _, p := range points {
			expected := PointToRouteDistance(p, route)
			actual := GeometryToRouteDistance(p, route)
			if math.IsInf(expected, 1) {
				assert.True(t, math.IsInf(actual, 1))
				continue
			}
			assert.Equal(t, expected, actual, "point %v route %v", p, route)
		}
	}
}

func TestGeometryToRouteDistance_Variants(t *testing.T) {
	near := orb.Point{0.001, 0.5} // ~111 m east of the meridian
	far := orb.Point{1, 0.5}      // ~111 km east

	nearDistance := PointToRouteDistance(near, meridian)
	farDistance := PointToRouteDistance(far, meridian)
	assert.Less(t, nearDistance, 200.0)
	assert.Greater(t, farDistance, 100000.0)

	tests := []struct {
		name     string
		geometry orb.Geometry
		expected float64
	}{
		{"point", near, nearDistance},
		{"linestring uses nearest vertex", orb.LineString{far, near, far}, nearDistance},
		{"multipoint", orb.MultiPoint{far, near}, nearDistance},
		{"polygon uses outer ring", orb.Polygon{{far, near, {1, 0.6}, far}}, nearDistance},
		{
			"polygon ignores holes",
			orb.Polygon{
				{far, {1.1, 0.5}, {1.1, 0.6}, far},
				{near, near, near, near},
			},
			farDistance,
		},
		{"multilinestring", orb.MultiLineString{{far, far}, {far, near}}, nearDistance},
		{
			"multipolygon uses each outer ring",
			orb.MultiPolygon{
				{{far, {1.1, 0.5}, {1.1, 0.6}, far}},
				{{near, {0.002, 0.5}, {0.002, 0.6}, near}},
			},
			nearDistance,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, GeometryToRouteDistance(tt.geometry, meridian), 1e-9)
		})
	}
}

func TestGeometryToRouteDistance_VertexSampling(t *testing.T) {
	// A line crossing the route whose vertices are both ~55 km away. Vertex
	// sampling reports the vertex distance, not zero.
	crossing := orb.LineString{{-0.5, 0.5}, {0.5, 0.5}}
	d := GeometryToRouteDistance(crossing, meridian)
	assert.InDelta(t, PointToRouteDistance(orb.Point{0.5, 0.5}, meridian), d, 1e-6)
	assert.Greater(t, d, 50000.0)
}

func TestGeometryToRouteDistance_Unrecognized(t *testing.T) {
	unrecognized := []orb.Geometry{
		nil,
		orb.Collection{orb.Point{0, 0.5}},
		orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1, 1}},
		orb.Ring{{0, 0.5}, {0, 0.6}, {0.1, 0.6}, {0, 0.5}},
		orb.Polygon{},
		orb.MultiPolygon{{}},
	}
	for _, g := range unrecognized {
		assert.True(t, math.IsInf(GeometryToRouteDistance(g, meridian), 1), "%T should yield +Inf", g)
	}
}

func TestIsValidGeometry(t *testing.T) {
	valid := []orb.Geometry{
		orb.Point{0, 0},
		orb.LineString{{0, 0}, {1, 1}},
		orb.LineString{{0, 0}},
		orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}},
		orb.MultiPoint{{0, 0}},
		orb.MultiLineString{{{0, 0}, {1, 1}}},
		orb.MultiPolygon{{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}},
		// Out of range is structurally valid.
		orb.Point{500, 500},
	}
	for _, g := range valid {
		assert.True(t, IsValidGeometry(g), "%#v should be valid", g)
	}

	invalid := []orb.Geometry{
		nil,
		orb.LineString{},
		orb.Polygon{},
		orb.Polygon{{}},
		orb.MultiPoint{},
		orb.MultiLineString{},
		orb.MultiLineString{{{0, 0}}, {}},
		orb.MultiPolygon{},
		orb.MultiPolygon{{}},
		orb.Polygon{{{0, 0}, {1, 1}}},
		orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}, {{0.5, 0.5}}},
		orb.MultiPolygon{{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}, {{{0, 0}, {1, 1}}}},
		orb.Collection{orb.Point{0, 0}},
		orb.Point{math.NaN(), 0},
		orb.LineString{{0, 0}, {math.Inf(1), 0}},
	}
	for _, g := range invalid {
		assert.False(t, IsValidGeometry(g), "%#v should be invalid", g)
	}
}

func TestValidateGeometry(t *testing.T) {
	assert.NoError(t, ValidateGeometry(orb.LineString{angelsCamp, murphys}))
	assert.ErrorIs(t, ValidateGeometry(orb.Point{500, 500}), ErrInvalidCoordinate)
	assert.ErrorIs(t, ValidateGeometry(orb.Polygon{{{0, 0}, {0, 100}, {1, 1}}}), ErrInvalidCoordinate)
	assert.ErrorContains(t, ValidateGeometry(orb.Collection{}), "unsupported geometry type GeometryCollection")
	assert.ErrorContains(t, ValidateGeometry(orb.Polygon{{{0, 0}, {1, 1}}}), "ring 0 has 2 points")
}

func TestCentroid(t *testing.T) {
	t.Run("point is itself", func(t *testing.T) {
		c, ok := Centroid(murphys)
		assert.True(t, ok)
		assert.Equal(t, murphys, c)
	})

	t.Run("linestring is the middle vertex", func(t *testing.T) {
		c, ok := Centroid(orb.LineString{angelsCamp, murphys, arnold})
		assert.True(t, ok)
		assert.Equal(t, murphys, c)

		c, ok = Centroid(orb.LineString{angelsCamp, murphys, arnold, {0, 0}})
		assert.True(t, ok)
		assert.Equal(t, arnold, c, "index len/2 for even lengths")
	})

	t.Run("polygon is the mean of the outer ring", func(t *testing.T) {
		poly := orb.Polygon{
			{{0, 0}, {4, 0}, {4, 2}, {0, 2}},
			{{1, 1}, {1, 1}, {1, 1}},
		}
		c, ok := Centroid(poly)
		assert.True(t, ok)
		assert.InDelta(t, 2.0, c.Lon(), 1e-12)
		assert.InDelta(t, 1.0, c.Lat(), 1e-12)
	})

	t.Run("other geometries have none", func(t *testing.T) {
		for _, g := range []orb.Geometry{
			nil,
			orb.LineString{},
			orb.Polygon{},
			orb.MultiPoint{murphys},
			orb.MultiLineString{{murphys, arnold}},
			orb.MultiPolygon{{{murphys, arnold, angelsCamp}}},
			orb.Collection{murphys},
		} {
			_, ok := Centroid(g)
			assert.False(t, ok, "%T", g)
		}
	})
}
