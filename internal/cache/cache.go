// Package cache provides a per-key TTL cache whose refresh falls back to
// the last good value when the source fails.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Entry is one cached payload.
type Entry[V any] struct {
	Key       string
	Payload   V
	UpdatedAt time.Time
}

// FetchFunc loads a fresh payload for key.
type FetchFunc[V any] func(ctx context.Context, key string) (V, error)

// Cache holds one entry per key. Entries are replaced wholesale, so
// racing refreshes leave whichever payload was written last.
type Cache[V any] struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]Entry[V]

	group singleflight.Group
}

// Option configures a Cache.
type Option[V any] func(*Cache[V])

// WithClock replaces time.Now, for tests.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *Cache[V]) { c.now = now }
}

// New creates a cache whose entries go stale after ttl.
func New[V any](ttl time.Duration, opts ...Option[V]) *Cache[V] {
	c := &Cache[V]{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]Entry[V]),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// TTL returns the freshness window.
func (c *Cache[V]) TTL() time.Duration { return c.ttl }

// Get returns the payload for key. A missing entry, or one older than
// the TTL, is refetched and overwritten. If the fetch fails the previous
// payload is returned when there is one; otherwise the fetch error is.
// Concurrent refreshes of the same key share a single fetch.
func (c *Cache[V]) Get(ctx context.Context, key string, fetch FetchFunc[V]) (V, error) {
	entry, ok := c.Peek(key)
	if ok && !c.stale(entry) {
		return entry.Payload, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		payload, err := fetch(ctx, key)
		if err != nil {
			return nil, err
		}
		c.Put(key, payload)
		return payload, nil
	})
	if err != nil {
		if ok {
			return entry.Payload, nil
		}
		var zero V
		return zero, fmt.Errorf("cache %s: %w", key, err)
	}
	return v.(V), nil
}

// Peek returns the entry for key without refreshing it.
func (c *Cache[V]) Peek(key string) (Entry[V], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

// Put overwrites the entry for key, stamped with the current time.
func (c *Cache[V]) Put(key string, payload V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = Entry[V]{Key: key, Payload: payload, UpdatedAt: c.now()}
}

// Len returns the number of cached keys.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache[V]) stale(e Entry[V]) bool {
	return c.now().Sub(e.UpdatedAt) > c.ttl
}
