// Package geojson serves candidates loaded from a GeoJSON FeatureCollection,
// indexed by an R-tree over feature bounds.
package geojson

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/dpup/impact.ersn.net/server/internal/lib/geo"
	"github.com/dpup/impact.ersn.net/server/internal/lib/proximity"
)

// minExtent pads zero-width bounds (points, axis-aligned lines); rtreego
// rejects rectangles with a zero side.
const minExtent = 1e-9

// Properties with a meaning of their own. Everything else passes through to
// Candidate.Properties.
var reservedProperties = []string{"id", "title", "status", "progress", "kind", "centroid"}

// Store is an immutable, in-memory candidate set
type Store struct {
	name       string
	candidates []proximity.Candidate
	tree       *rtreego.Rtree
	// unlocated indexes candidates with no usable geometry or centroid. They
	// have no bound, so every query returns them and the engine counts and
	// skips them.
	unlocated []int
}

// spatialCandidate implements rtreego.Spatial for one candidate
type spatialCandidate struct {
	index int
	bound orb.Bound
}

func (s *spatialCandidate) Bounds() rtreego.Rect {
	return toRect(s.bound)
}

// rawFeature mirrors a GeoJSON feature but keeps the geometry raw, so a
// single malformed geometry does not fail the whole collection.
type rawFeature struct {
	ID         interface{}        `json:"id,omitempty"`
	Geometry   json.RawMessage    `json:"geometry"`
	Properties geojson.Properties `json:"properties"`
}

type rawCollection struct {
	Type     string       `json:"type"`
	Features []rawFeature `json:"features"`
}

// Load reads a FeatureCollection from path
func Load(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	store, err := Parse("geojson:"+path, f)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return store, nil
}

// Parse decodes a FeatureCollection. Invalid geometries are dropped while
// the feature keeps its centroid property as a fallback location; features
// with neither are kept but never match.
func Parse(name string, r io.Reader) (*Store, error) {
	var fc rawCollection
	if err := json.NewDecoder(r).Decode(&fc); err != nil {
		return nil, fmt.Errorf("failed to decode feature collection: %w", err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("expected FeatureCollection, got %q", fc.Type)
	}

	store := &Store{
		name: name,
		tree: rtreego.NewTree(2, 25, 50),
	}

	for i, feature := range fc.Features {
		c, ok := toCandidate(i, feature)
		if !ok {
			store.unlocated = append(store.unlocated, len(store.candidates))
			store.candidates = append(store.candidates, c)
			continue
		}

		store.tree.Insert(&spatialCandidate{
			index: len(store.candidates),
			bound: candidateBound(c),
		})
		store.candidates = append(store.candidates, c)
	}

	return store, nil
}

func toCandidate(i int, feature rawFeature) (proximity.Candidate, bool) {
	props := feature.Properties
	if props == nil {
		props = geojson.Properties{}
	}

	c := proximity.Candidate{
		ID:     featureID(i, feature),
		Title:  props.MustString("title", ""),
		Status: props.MustString("status", ""),
		Kind:   props.MustString("kind", ""),
	}

	if v, ok := props["progress"].(float64); ok {
		c.Progress = &v
	}

	if g := decodeGeometry(feature.Geometry); g != nil {
		c.Geometry = g
	}
	if p, ok := centroidProperty(props); ok {
		c.Location = &p
	}
	extra := make(map[string]any)
	for k, v := range props {
		if !slices.Contains(reservedProperties, k) {
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		c.Properties = extra
	}

	return c, c.Geometry != nil || c.Location != nil
}

func featureID(i int, feature rawFeature) string {
	switch id := feature.ID.(type) {
	case string:
		if id != "" {
			return id
		}
	case float64:
		return fmt.Sprintf("%v", id)
	}
	if id := feature.Properties.MustString("id", ""); id != "" {
		return id
	}
	return fmt.Sprintf("feature-%d", i)
}

// decodeGeometry returns nil for missing, malformed or out-of-range geometry
func decodeGeometry(raw json.RawMessage) orb.Geometry {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	g, err := geojson.UnmarshalGeometry(raw)
	if err != nil || g == nil {
		return nil
	}
	if geo.ValidateGeometry(g.Geometry()) != nil {
		return nil
	}
	return g.Geometry()
}

// centroidProperty reads a [lon, lat] centroid property
func centroidProperty(props geojson.Properties) (orb.Point, bool) {
	pair, ok := props["centroid"].([]interface{})
	if !ok || len(pair) != 2 {
		return orb.Point{}, false
	}
	lon, ok1 := pair[0].(float64)
	lat, ok2 := pair[1].(float64)
	if !ok1 || !ok2 {
		return orb.Point{}, false
	}
	p := orb.Point{lon, lat}
	if !geo.IsValidPoint(p) {
		return orb.Point{}, false
	}
	return p, true
}

// candidateBound covers both the geometry and the fallback location
func candidateBound(c proximity.Candidate) orb.Bound {
	var b orb.Bound
	switch {
	case c.Geometry != nil && c.Location != nil:
		b = c.Geometry.Bound().Extend(*c.Location)
	case c.Geometry != nil:
		b = c.Geometry.Bound()
	default:
		b = c.Location.Bound()
	}
	return b
}

func toRect(b orb.Bound) rtreego.Rect {
	rect, _ := rtreego.NewRect(
		rtreego.Point{b.Min[0], b.Min[1]},
		[]float64{max(b.Max[0]-b.Min[0], minExtent), max(b.Max[1]-b.Min[1], minExtent)},
	)
	return rect
}

// Name identifies the store in logs
func (s *Store) Name() string {
	return s.name
}

// Len returns the number of candidates, including unlocated ones
func (s *Store) Len() int {
	return len(s.candidates)
}

// Skipped returns the number of candidates with neither a usable geometry nor
// a centroid. Queries return them, and the engine skips them.
func (s *Store) Skipped() int {
	return len(s.unlocated)
}

// All returns every candidate in file order
func (s *Store) All() []proximity.Candidate {
	return slices.Clone(s.candidates)
}

// Candidates returns the candidates whose bounds intersect bound, plus the
// unlocated ones, in file order.
func (s *Store) Candidates(ctx context.Context, bound orb.Bound) ([]proximity.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hits := s.tree.SearchIntersect(toRect(bound))
	indexes := make([]int, 0, len(hits)+len(s.unlocated))
	indexes = append(indexes, s.unlocated...)
	for _, hit := range hits {
		indexes = append(indexes, hit.(*spatialCandidate).index)
	}
	slices.Sort(indexes)

	out := make([]proximity.Candidate, len(indexes))
	for i, idx := range indexes {
		out[i] = s.candidates[idx]
	}
	return out, nil
}
