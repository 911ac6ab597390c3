package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Cache stores JSON-serializable values with a refresh interval. Entries are
// fresh until the interval elapses, then stale; backends keep stale entries
// for at least one more interval so callers can fall back to them.
type Cache interface {
	// Set stores data under key
	Set(ctx context.Context, key string, data interface{}, refreshInterval time.Duration, source string) error

	// Get decodes a fresh entry into result. Stale or missing entries report
	// false.
	Get(ctx context.Context, key string, result interface{}) (bool, error)

	// GetWithMetadata decodes the entry into result even when stale, and
	// returns its metadata. result may be nil.
	GetWithMetadata(ctx context.Context, key string, result interface{}) (*CacheEntry, bool, error)

	// Delete removes an entry
	Delete(ctx context.Context, key string) error
}

// CacheEntry represents a cached item with metadata
type CacheEntry struct {
	Key             string        `json:"key"`
	Data            []byte        `json:"data"`
	CreatedAt       time.Time     `json:"created_at"`
	ExpiresAt       time.Time     `json:"expires_at"`
	RefreshInterval time.Duration `json:"refresh_interval"`
	Source          string        `json:"source"`
}

// newEntry serializes data into a new entry created at now
func newEntry(key string, data interface{}, refreshInterval time.Duration, source string, now time.Time) (*CacheEntry, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal data for cache: %w", err)
	}

	return &CacheEntry{
		Key:             key,
		Data:            jsonData,
		CreatedAt:       now,
		ExpiresAt:       now.Add(refreshInterval),
		RefreshInterval: refreshInterval,
		Source:          source,
	}, nil
}

// IsStale reports whether the entry is past expiration
func (e *CacheEntry) IsStale(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// IsVeryStale reports whether the entry is older than twice its refresh
// interval
func (e *CacheEntry) IsVeryStale(now time.Time) bool {
	return now.After(e.CreatedAt.Add(e.RefreshInterval * 2))
}

// Decode unmarshals the entry data into result
func (e *CacheEntry) Decode(result interface{}) error {
	if err := json.Unmarshal(e.Data, result); err != nil {
		return fmt.Errorf("failed to unmarshal cached data: %w", err)
	}
	return nil
}

// RouteKey builds the cache key for a provider route between two points
func RouteKey(originLat, originLon, destLat, destLon float64) string {
	return fmt.Sprintf("route:%.5f,%.5f:%.5f,%.5f", originLat, originLon, destLat, destLon)
}
