package contextcache

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/sonatahq/sonata/internal/logging"
)

// pruneTarget is the usage fraction pruning drives the cache down to
// before an insertion that would overflow the maximum.
const pruneTarget = 0.8

// Item is one cached context payload with its access metadata.
type Item struct {
	// Payload is the cached context view. Treated as an immutable
	// snapshot: the cache copies on put and on get.
	Payload map[string]any
	// CreatedAt is when the item was inserted.
	CreatedAt time.Time
	// AccessCount is how many times the item was returned.
	AccessCount int
	// LastAccessed is when the item was last returned.
	LastAccessed time.Time
	// Size is the estimated byte size of the payload.
	Size int64
}

type entry struct {
	key  Key
	item Item
}

// FetchFunc computes a context view on a cache miss.
type FetchFunc func() (map[string]any, error)

// Cache is a size- and TTL-bounded context cache. After any insertion the
// total size of all items never exceeds the configured maximum. A
// background janitor removes entries older than the TTL regardless of
// access pattern.
type Cache struct {
	mu        sync.Mutex
	entries   map[string]*entry
	pending   map[string]*flight
	totalSize int64

	maxSize int64
	ttl     time.Duration
	logger  logging.Logger

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a cache bounded to maxSize bytes with the given TTL. The
// janitor runs every pruneInterval; a non-positive interval disables it.
func New(maxSize int64, ttl, pruneInterval time.Duration, logger logging.Logger) *Cache {
	if logger == nil {
		logger = logging.NoOp{}
	}
	c := &Cache{
		entries: make(map[string]*entry),
		pending: make(map[string]*flight),
		maxSize: maxSize,
		ttl:     ttl,
		logger:  logger,
		done:    make(chan struct{}),
	}
	if pruneInterval > 0 {
		go c.janitor(pruneInterval)
	}
	return c
}

// Close stops the background janitor.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.done) })
}

// Get returns the cached payload for the key if present and younger than
// the TTL, bumping its access metadata. A stale entry is removed and
// reported as a miss; no hit is ever returned with age >= TTL.
func (c *Cache) Get(key Key) (map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key.String()]
	if !ok {
		return nil, false
	}
	if time.Since(e.item.CreatedAt) >= c.ttl {
		c.removeLocked(key.String())
		return nil, false
	}
	e.item.AccessCount++
	e.item.LastAccessed = time.Now()
	return copyPayload(e.item.Payload), true
}

// flight tracks one in-progress fetch so concurrent misses on the same key
// share a single computation.
type flight struct {
	done    chan struct{}
	payload map[string]any
	err     error
}

// GetOrCompute returns the cached payload or computes, stores, and returns
// it via fetch. Fetches are single-flight per key: concurrent misses wait
// for the first caller's fetch instead of invoking their own.
func (c *Cache) GetOrCompute(key Key, fetch FetchFunc) (map[string]any, error) {
	if payload, ok := c.Get(key); ok {
		return payload, nil
	}

	k := key.String()
	c.mu.Lock()
	if f, ok := c.pending[k]; ok {
		c.mu.Unlock()
		<-f.done
		if f.err != nil {
			return nil, f.err
		}
		return copyPayload(f.payload), nil
	}
	f := &flight{done: make(chan struct{})}
	c.pending[k] = f
	c.mu.Unlock()

	f.payload, f.err = fetch()
	if f.err == nil {
		c.Put(key, f.payload)
	}

	c.mu.Lock()
	delete(c.pending, k)
	c.mu.Unlock()
	close(f.done)

	if f.err != nil {
		return nil, f.err
	}
	return f.payload, nil
}

// Put inserts a payload snapshot. If the insertion would push total size
// over the maximum, least-recently-accessed items are pruned until usage
// is at or below 80% of the maximum first. Payloads larger than the
// maximum on their own are not admitted.
func (c *Cache) Put(key Key, payload map[string]any) {
	snapshot := copyPayload(payload)
	size := EstimateSize(snapshot)
	if size > c.maxSize {
		c.logger.Warn("context payload exceeds cache capacity, not cached",
			"key", key.String(), "size", size, "max", c.maxSize)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key.String()]; ok {
		c.totalSize -= old.item.Size
		delete(c.entries, key.String())
	}
	if c.totalSize+size > c.maxSize {
		c.pruneLocked(size)
	}

	now := time.Now()
	c.entries[key.String()] = &entry{
		key: key,
		item: Item{
			Payload:      snapshot,
			CreatedAt:    now,
			LastAccessed: now,
			Size:         size,
		},
	}
	c.totalSize += size
}

// pruneLocked evicts least-recently-accessed entries until adding incoming
// bytes keeps usage at or below the prune target. Caller holds the lock.
func (c *Cache) pruneLocked(incoming int64) {
	target := int64(float64(c.maxSize)*pruneTarget) - incoming
	if target < 0 {
		target = 0
	}

	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return c.entries[keys[i]].item.LastAccessed.Before(c.entries[keys[j]].item.LastAccessed)
	})

	for _, k := range keys {
		if c.totalSize <= target {
			break
		}
		c.removeLocked(k)
	}
}

// Invalidate removes all entries whose key encodes the given content or
// service tag and returns how many were removed.
func (c *Cache) Invalidate(tag string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.entries {
		if e.key.MatchesTag(tag) {
			c.removeLocked(k)
			removed++
		}
	}
	return removed
}

// Stats reports the current entry count and total size.
func (c *Cache) Stats() (count int, totalSize int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries), c.totalSize
}

func (c *Cache) removeLocked(k string) {
	if e, ok := c.entries[k]; ok {
		c.totalSize -= e.item.Size
		delete(c.entries, k)
	}
}

// janitor periodically removes expired entries. Failures here are
// impossible by construction; the loop only exits on Close.
func (c *Cache) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func (c *Cache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if time.Since(e.item.CreatedAt) >= c.ttl {
			c.removeLocked(k)
		}
	}
}

// EstimateSize estimates the byte size of a payload from its serialized
// length at 2 bytes per character.
func EstimateSize(payload map[string]any) int64 {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0
	}
	return int64(2 * len(raw))
}

// copyPayload returns a fresh top-level copy so callers cannot mutate the
// cached snapshot through the returned map.
func copyPayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	cp := make(map[string]any, len(payload))
	for k, v := range payload {
		cp[k] = v
	}
	return cp
}
