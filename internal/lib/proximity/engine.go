// Package proximity ranks candidate features by their distance to a route.
//
// The engine is a pure computation over its inputs. Distances come from the
// geo package: vertex sampling for geometries, planar projection onto route
// segments and a haversine measurement.
package proximity

import (
	"cmp"
	"context"
	"math"
	"runtime"
	"slices"

	"github.com/paulmach/orb"

	"github.com/dpup/impact.ersn.net/server/internal/lib/geo"
)

// DefaultParallelThreshold is the candidate count below which queries run
// on the calling goroutine.
const DefaultParallelThreshold = 64

// Engine runs proximity queries. The zero value is not usable; construct one
// with NewEngine. An Engine is safe for concurrent use.
type Engine struct {
	workers           int
	parallelThreshold int
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers sets the number of goroutines used for large queries.
// Values below 1 fall back to GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithParallelThreshold sets the candidate count at which queries fan out.
func WithParallelThreshold(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.parallelThreshold = n
		}
	}
}

// NewEngine creates a new proximity engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		workers:           runtime.GOMAXPROCS(0),
		parallelThreshold: DefaultParallelThreshold,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// resolved is the per-candidate outcome before filtering.
type resolved struct {
	distance float64
	ok       bool
}

// Query returns the candidates within bufferMeters of route, nearest first.
//
// A candidate's distance comes from its geometry when that is valid, else
// from its fallback location; a candidate with neither is skipped but still
// counted in TotalChecked. The buffer is inclusive. Distances are rounded to
// whole meters before sorting and ties keep input order.
// A route with fewer than two points, a negative buffer or an empty
// candidate list produce an empty result, never an error. The only error is
// ctx.Err() when ctx is done before the scan completes.
func (e *Engine) Query(ctx context.Context, route orb.LineString, candidates []Candidate, bufferMeters float64) (*Result, error) {
	result := &Result{
		Impacts:      []Impact{},
		TotalChecked: len(candidates),
	}

	if len(candidates) == 0 || len(route) < 2 || !(bufferMeters >= 0) {
		return result, nil
	}

	distances, err := e.resolveAll(ctx, route, candidates)
	if err != nil {
		return nil, err
	}

	survivors := make([]int, 0, len(candidates))
	for i, r := range distances {
		if r.ok && !math.IsInf(r.distance, 1) && r.distance <= bufferMeters {
			distances[i].distance = math.Round(r.distance)
			survivors = append(survivors, i)
		}
	}

	// Ordered by the reported whole-meter distance, so equal reports keep
	// input order.
	slices.SortStableFunc(survivors, func(a, b int) int {
		return cmp.Compare(distances[a].distance, distances[b].distance)
	})

	for _, i := range survivors {
		result.Impacts = append(result.Impacts, newImpact(candidates[i], distances[i].distance))
	}

	return result, nil
}

func (e *Engine) resolveAll(ctx context.Context, route orb.LineString, candidates []Candidate) ([]resolved, error) {
	if len(candidates) < e.parallelThreshold || e.workers < 2 {
		out := make([]resolved, len(candidates))
		for i := range candidates {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			out[i] = resolve(candidates[i], route)
		}
		return out, nil
	}

	workers := min(e.workers, len(candidates))
	pool := newWorkerPool[resolved](workers, len(candidates))
	pool.start(ctx, func(i int) resolved {
		return resolve(candidates[i], route)
	})
	for i := range candidates {
		pool.addJob(i)
	}
	out := pool.wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// resolve computes a single candidate's distance to the route.
func resolve(c Candidate, route orb.LineString) resolved {
	switch {
	case c.Geometry != nil && geo.IsValidGeometry(c.Geometry):
		return resolved{distance: geo.GeometryToRouteDistance(c.Geometry, route), ok: true}
	case c.Location != nil && isFinite(*c.Location):
		return resolved{distance: geo.PointToRouteDistance(*c.Location, route), ok: true}
	default:
		return resolved{}
	}
}

func newImpact(c Candidate, distance float64) Impact {
	return Impact{
		ID:             c.ID,
		DistanceMeters: int64(math.Round(distance)),
		Location:       Representative(c),
		Title:          c.Title,
		Status:         c.Status,
		Progress:       c.Progress,
		Kind:           c.Kind,
		Properties:     c.Properties,
	}
}

// Representative returns the display point for a candidate: the centroid of
// its geometry when one exists, otherwise its fallback location.
func Representative(c Candidate) *orb.Point {
	if c.Geometry != nil && geo.IsValidGeometry(c.Geometry) {
		if p, ok := geo.Centroid(c.Geometry); ok {
			return &p
		}
	}
	if c.Location != nil {
		p := *c.Location
		return &p
	}
	return nil
}

func isFinite(p orb.Point) bool {
	return !math.IsNaN(p[0]) && !math.IsNaN(p[1]) && !math.IsInf(p[0], 0) && !math.IsInf(p[1], 0)
}
