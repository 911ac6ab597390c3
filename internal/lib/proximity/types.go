package proximity

import (
	"github.com/paulmach/orb"
)

// Candidate is a feature that may affect a route. Geometry takes priority;
// Location is the fallback single point used when Geometry is absent or
// invalid.
type Candidate struct {
	ID         string         `json:"id"`
	Geometry   orb.Geometry   `json:"-"`
	Location   *orb.Point     `json:"location,omitempty"`
	Title      string         `json:"title,omitempty"`
	Status     string         `json:"status,omitempty"`
	Progress   *float64       `json:"progress,omitempty"`
	Kind       string         `json:"kind,omitempty"` // closure, construction, incident, ...
	Properties map[string]any `json:"properties,omitempty"`
}

// Impact is a candidate that falls within the buffer of a route.
type Impact struct {
	ID string `json:"id"`

	// DistanceMeters is rounded to the nearest whole meter.
	DistanceMeters int64 `json:"distance_meters"`

	// Location is a representative point for display. It is nil for
	// multi-part geometries without a fallback location.
	Location *orb.Point `json:"location,omitempty"`

	Title      string         `json:"title,omitempty"`
	Status     string         `json:"status,omitempty"`
	Progress   *float64       `json:"progress,omitempty"`
	Kind       string         `json:"kind,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Result is the ranked output of a query.
type Result struct {
	Impacts []Impact `json:"impacts"`

	// TotalChecked counts every candidate examined, including ones that were
	// skipped for having no usable geometry or location.
	TotalChecked int `json:"total_checked"`
}
