package caltrans

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"github.com/dpup/impact.ersn.net/server/internal/lib/proximity"
)

// Feed is one Caltrans KML feed polled by a Source
type Feed struct {
	Type            CaltransFeedType
	URL             string
	RefreshInterval time.Duration
}

type feedSnapshot struct {
	candidates []proximity.Candidate
	fetchedAt  time.Time
}

// Source serves Caltrans feeds as proximity candidates. Each feed is fetched
// at most once per refresh interval; a failed refresh falls back to the last
// good snapshot.
type Source struct {
	parser *FeedParser
	feeds  []Feed

	mu        sync.Mutex
	snapshots map[CaltransFeedType]feedSnapshot
	now       func() time.Time
}

// NewSource creates a candidate source over the given feeds
func NewSource(parser *FeedParser, feeds ...Feed) *Source {
	return &Source{
		parser:    parser,
		feeds:     feeds,
		snapshots: make(map[CaltransFeedType]feedSnapshot),
		now:       time.Now,
	}
}

// Name identifies the source in logs
func (s *Source) Name() string {
	return "caltrans"
}

// Candidates returns every feed candidate whose geometry bound intersects
// bound. A failing feed is skipped unless every feed fails.
func (s *Source) Candidates(ctx context.Context, bound orb.Bound) ([]proximity.Candidate, error) {
	var (
		out  []proximity.Candidate
		errs []error
	)

	for _, feed := range s.feeds {
		candidates, err := s.feedCandidates(ctx, feed)
		if err != nil {
			log.Printf("Caltrans %s feed unavailable: %v", feed.Type, err)
			errs = append(errs, err)
			continue
		}
		for _, c := range candidates {
			if c.Geometry != nil && c.Geometry.Bound().Intersects(bound) {
				out = append(out, c)
			}
		}
	}

	if len(s.feeds) > 0 && len(errs) == len(s.feeds) {
		return nil, fmt.Errorf("all Caltrans feeds failed: %w", errors.Join(errs...))
	}
	return out, nil
}

func (s *Source) feedCandidates(ctx context.Context, feed Feed) ([]proximity.Candidate, error) {
	s.mu.Lock()
	snapshot, ok := s.snapshots[feed.Type]
	s.mu.Unlock()

	if ok && s.now().Sub(snapshot.fetchedAt) < feed.RefreshInterval {
		return snapshot.candidates, nil
	}

	incidents, err := s.parser.ParseFeed(ctx, feed.URL, feed.Type)
	if err != nil {
		if ok {
			log.Printf("Using stale Caltrans %s data from %v: %v", feed.Type, snapshot.fetchedAt, err)
			return snapshot.candidates, nil
		}
		return nil, err
	}

	candidates := make([]proximity.Candidate, len(incidents))
	for i, incident := range incidents {
		candidates[i] = incident.Candidate()
	}

	s.mu.Lock()
	s.snapshots[feed.Type] = feedSnapshot{candidates: candidates, fetchedAt: s.now()}
	s.mu.Unlock()

	return candidates, nil
}
