package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/paulmach/orb"

	"github.com/dpup/impact.ersn.net/server/internal/lib/proximity"
	"github.com/dpup/impact.ersn.net/server/internal/metrics"
)

// MultiSource fans a bound query out to several sources and concatenates the
// results in source order. A failing source is logged and skipped unless
// every source fails.
type MultiSource struct {
	sources []CandidateSource
}

// NewMultiSource combines sources
func NewMultiSource(sources ...CandidateSource) *MultiSource {
	return &MultiSource{sources: sources}
}

// Name lists the underlying sources
func (m *MultiSource) Name() string {
	names := make([]string, len(m.sources))
	for i, s := range m.sources {
		names[i] = s.Name()
	}
	return "multi[" + strings.Join(names, ",") + "]"
}

// Candidates queries every source concurrently
func (m *MultiSource) Candidates(ctx context.Context, bound orb.Bound) ([]proximity.Candidate, error) {
	if len(m.sources) == 0 {
		return nil, nil
	}

	results := make([][]proximity.Candidate, len(m.sources))
	errs := make([]error, len(m.sources))

	var wg sync.WaitGroup
	for i, source := range m.sources {
		wg.Add(1)
		go func(i int, source CandidateSource) {
			defer wg.Done()
			results[i], errs[i] = source.Candidates(ctx, bound)
		}(i, source)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		out    []proximity.Candidate
		failed []error
	)
	for i, source := range m.sources {
		if errs[i] != nil {
			log.Printf("Candidate source %s failed: %v", source.Name(), errs[i])
			metrics.SourceErrors.WithLabelValues(source.Name()).Inc()
			failed = append(failed, fmt.Errorf("%s: %w", source.Name(), errs[i]))
			continue
		}
		out = append(out, results[i]...)
	}

	if len(failed) == len(m.sources) {
		return nil, fmt.Errorf("all candidate sources failed: %w", errors.Join(failed...))
	}
	return out, nil
}
