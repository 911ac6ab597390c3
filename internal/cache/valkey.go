package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
)

// ValkeyCache stores entries in Valkey (Redis-compatible) so several server
// instances share provider results. Keys live for twice the refresh interval
// to keep the stale fallback window.
type ValkeyCache struct {
	client valkey.Client
	prefix string
	now    func() time.Time
}

var _ Cache = (*ValkeyCache)(nil)

// NewValkeyCache connects to the Valkey server at addr. Keys are namespaced
// with prefix.
func NewValkeyCache(addr, prefix string) (*ValkeyCache, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("valkey connect: %w", err)
	}
	return &ValkeyCache{client: client, prefix: prefix, now: time.Now}, nil
}

func (c *ValkeyCache) key(key string) string {
	return c.prefix + key
}

// Set stores the entry envelope with a TTL of twice the refresh interval
func (c *ValkeyCache) Set(ctx context.Context, key string, data interface{}, refreshInterval time.Duration, source string) error {
	entry, err := newEntry(key, data, refreshInterval, source, c.now())
	if err != nil {
		return err
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	ttl := max(refreshInterval*2, time.Second)
	cmd := c.client.Do(ctx,
		c.client.B().Set().Key(c.key(key)).Value(string(payload)).Ex(ttl).Build(),
	)
	return cmd.Error()
}

// Get retrieves data from cache if not stale
func (c *ValkeyCache) Get(ctx context.Context, key string, result interface{}) (bool, error) {
	entry, found, err := c.load(ctx, key)
	if err != nil || !found || entry.IsStale(c.now()) {
		return false, err
	}

	if err := entry.Decode(result); err != nil {
		return false, err
	}
	return true, nil
}

// GetWithMetadata retrieves data and cache metadata, stale or not
func (c *ValkeyCache) GetWithMetadata(ctx context.Context, key string, result interface{}) (*CacheEntry, bool, error) {
	entry, found, err := c.load(ctx, key)
	if err != nil || !found {
		return nil, false, err
	}

	if result != nil {
		if err := entry.Decode(result); err != nil {
			return entry, true, err
		}
	}
	return entry, true, nil
}

func (c *ValkeyCache) load(ctx context.Context, key string) (*CacheEntry, bool, error) {
	cmd := c.client.Do(ctx, c.client.B().Get().Key(c.key(key)).Build())
	if err := cmd.Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("valkey get: %w", err)
	}

	b, err := cmd.AsBytes()
	if err != nil {
		return nil, false, fmt.Errorf("valkey get: %w", err)
	}

	var entry CacheEntry
	if err := json.Unmarshal(b, &entry); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}
	return &entry, true, nil
}

// Delete removes a key
func (c *ValkeyCache) Delete(ctx context.Context, key string) error {
	cmd := c.client.Do(ctx, c.client.B().Del().Key(c.key(key)).Build())
	return cmd.Error()
}

// Close releases the client
func (c *ValkeyCache) Close() {
	c.client.Close()
}
