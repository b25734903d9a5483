package cache

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Options configures a Cache. Zero values fall back to the defaults below.
type Options struct {
	DefaultTTL    time.Duration
	MaxEntries    int
	SweepInterval time.Duration
}

// DefaultOptions returns the options used when a zero Options is supplied.
func DefaultOptions() Options {
	return Options{
		DefaultTTL:    5 * time.Minute,
		MaxEntries:    1000,
		SweepInterval: time.Minute,
	}
}

type entry struct {
	data      any
	timestamp time.Time
	ttl       time.Duration
}

func (e entry) expired(now time.Time) bool {
	return now.After(e.timestamp.Add(e.ttl))
}

type pendingCall struct {
	done chan struct{}
	val  any
	err  error
}

// Cache is the in-memory TTL tier shared by all sessions. Keys are expected
// to be namespaced with the owning channel/user identifiers; the cache itself
// applies no scoping.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]entry
	groups   map[string]map[string]struct{}
	inflight map[string]*pendingCall
	opts     Options
	stop     chan struct{}
	stopOnce sync.Once
}

// New constructs a Cache and starts its background sweep when a sweep
// interval is configured. Callers own the lifecycle and must Close it.
func New(opts Options) *Cache {
	defaults := DefaultOptions()
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = defaults.DefaultTTL
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = defaults.MaxEntries
	}

	c := &Cache{
		entries:  make(map[string]entry),
		groups:   make(map[string]map[string]struct{}),
		inflight: make(map[string]*pendingCall),
		opts:     opts,
		stop:     make(chan struct{}),
	}
	if opts.SweepInterval > 0 {
		go c.sweepLoop()
	}
	return c
}

// Get returns the cached value for key. An entry past timestamp+ttl is
// treated as absent and evicted as a side effect.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if e.expired(time.Now()) {
		delete(c.entries, key)
		return nil, false
	}
	return e.data, true
}

// GetAs is a typed convenience wrapper over Get. A present value of the
// wrong dynamic type counts as a miss.
func GetAs[T any](c *Cache, key string) (T, bool) {
	var zero T
	v, ok := c.Get(key)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// Set inserts or overwrites key. A non-positive ttl selects the default.
// When the cache is at capacity and key is new, the globally oldest entry by
// write timestamp is evicted first.
func (c *Cache) Set(key string, data any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.opts.DefaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.opts.MaxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = entry{data: data, timestamp: time.Now(), ttl: ttl}
}

func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	first := true
	for key, e := range c.entries {
		if first || e.timestamp.Before(oldestAt) {
			oldestKey = key
			oldestAt = e.timestamp
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
	}
}

// Delete removes key if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear drops every entry and every group.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
	c.groups = make(map[string]map[string]struct{})
}

// Len reports the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// GetOrSet returns the cached value when present and unexpired, otherwise
// invokes factory, stores its result, and returns it.
func (c *Cache) GetOrSet(key string, factory func() any, ttl time.Duration) any {
	if v, ok := c.Get(key); ok {
		return v
	}
	v := factory()
	c.Set(key, v, ttl)
	return v
}

// GetOrSetAsync is the asynchronous variant with per-key in-flight
// de-duplication: concurrent callers for the same key share a single factory
// invocation instead of racing.
func (c *Cache) GetOrSetAsync(ctx context.Context, key string, factory func(context.Context) (any, error), ttl time.Duration) (val any, err error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && !e.expired(time.Now()) {
		c.mu.Unlock()
		return e.data, nil
	}
	if call, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.val, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &pendingCall{done: make(chan struct{})}
	c.inflight[key] = call
	c.mu.Unlock()

	// The key must be released and waiters resolved even when factory
	// panics, or every later caller for this key blocks forever.
	defer func() {
		if r := recover(); r != nil {
			call.err = fmt.Errorf("cache factory for %q panicked: %v", key, r)
			log.Printf("[cache] %v", call.err)
		}
		c.mu.Lock()
		delete(c.inflight, key)
		c.mu.Unlock()
		close(call.done)
		val, err = call.val, call.err
	}()

	call.val, call.err = factory(ctx)
	if call.err == nil {
		c.Set(key, call.val, ttl)
	}
	return call.val, call.err
}

// AddToGroup records key under a named invalidation group.
func (c *Cache) AddToGroup(group, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys, ok := c.groups[group]
	if !ok {
		keys = make(map[string]struct{})
		c.groups[group] = keys
	}
	keys[key] = struct{}{}
}

// RemoveFromGroup detaches key from a group without touching the entry.
func (c *Cache) RemoveFromGroup(group, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if keys, ok := c.groups[group]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(c.groups, group)
		}
	}
}

// ClearGroup evicts every entry registered under group and forgets the group.
func (c *Cache) ClearGroup(group string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.groups[group] {
		delete(c.entries, key)
	}
	delete(c.groups, group)
}

// Close stops the background sweep. Entries remain readable afterwards.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(c.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if removed := c.sweep(); removed > 0 {
				log.Printf("[cache] sweep removed %d expired entries", removed)
			}
		}
	}
}

// sweep removes all expired entries regardless of access patterns, bounding
// growth from write-once keys that are never read again.
func (c *Cache) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}
