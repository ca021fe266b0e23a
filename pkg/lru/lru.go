// Package lru provides a bounded least-recently-used cache.
//
// The cache is bounded three ways: by entry count, by an estimated memory
// footprint, and by entry age (enforced by a periodic sweep). Evictions
// are reported through an optional callback so callers can release
// resources tied to evicted values. No cache operation can fail.
package lru

import (
	"container/list"
	"sync"
	"time"
)

// Config controls cache bounds and behavior. Zero values disable the
// corresponding bound.
type Config[V any] struct {
	// MaxEntries is the entry-count bound. 0 means unbounded.
	MaxEntries int

	// MaxBytes bounds the sum of estimated entry sizes. 0 means unbounded.
	MaxBytes int64

	// MaxAge is the idle age after which the sweep removes an entry.
	// 0 disables the sweep.
	MaxAge time.Duration

	// SweepInterval is how often the age sweep runs. Defaults to one
	// minute when MaxAge is set and SweepInterval is 0.
	SweepInterval time.Duration

	// SizeOf estimates the memory footprint of a value. Defaults to
	// EstimateSize. The estimate only needs to be deterministic and
	// monotonic with the serialized size, not exact.
	SizeOf func(V) int64

	// OnEvict is called for every entry removed by size pressure or by
	// the age sweep (not by Delete or Clear). It runs outside the cache
	// lock and must not block for long.
	OnEvict func(key string, value V)
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Entries   int
	Bytes     int64
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// HitRate returns hits/(hits+misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}

	return float64(s.Hits) / float64(total)
}

type entry[V any] struct {
	key        string
	value      V
	size       int64
	lastAccess time.Time
}

// Cache is a string-keyed LRU cache. All methods are safe for concurrent
// use. The zero value is not usable; construct with New.
type Cache[V any] struct {
	mu      sync.Mutex
	cfg     Config[V]
	entries map[string]*list.Element
	order   *list.List // front = most recently used
	bytes   int64

	hits      uint64
	misses    uint64
	evictions uint64

	now      func() time.Time
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates a cache and starts the age sweep if Config.MaxAge is set.
// Callers that set MaxAge must call Close to stop the sweep goroutine.
func New[V any](cfg Config[V]) *Cache[V] {
	if cfg.SizeOf == nil {
		cfg.SizeOf = func(v V) int64 { return EstimateSize(v) }
	}

	if cfg.MaxAge > 0 && cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}

	c := &Cache[V]{
		cfg:     cfg,
		entries: make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	if cfg.MaxAge > 0 {
		go c.sweepLoop()
	} else {
		close(c.done)
	}

	return c
}

// Set stores value under key, refreshing recency, then evicts
// least-recently-used entries while either bound is exceeded.
func (c *Cache[V]) Set(key string, value V) {
	size := c.cfg.SizeOf(value)

	c.mu.Lock()

	if elem, ok := c.entries[key]; ok {
		ent := elem.Value.(*entry[V])
		c.bytes += size - ent.size
		ent.value = value
		ent.size = size
		ent.lastAccess = c.now()
		c.order.MoveToFront(elem)
	} else {
		ent := &entry[V]{key: key, value: value, size: size, lastAccess: c.now()}
		c.entries[key] = c.order.PushFront(ent)
		c.bytes += size
	}

	evicted := c.evictOverLimitLocked()

	c.mu.Unlock()

	c.notify(evicted)
}

// Get returns the value for key and whether it was present. A hit
// refreshes recency; a miss is counted in Stats.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses++

		var zero V

		return zero, false
	}

	c.hits++

	ent := elem.Value.(*entry[V])
	ent.lastAccess = c.now()
	c.order.MoveToFront(elem)

	return ent.value, true
}

// Delete removes key and reports whether it was present. No eviction
// notification is emitted for explicit deletes.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return false
	}

	c.removeLocked(elem)

	return true
}

// Clear removes all entries without emitting eviction notifications.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element)
	c.order.Init()
	c.bytes = 0
}

// Len returns the current entry count.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Entries:   len(c.entries),
		Bytes:     c.bytes,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// Close stops the age sweep goroutine. Safe to call multiple times and
// safe even if no sweep was started.
func (c *Cache[V]) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
}

// evictOverLimitLocked evicts LRU entries while a bound is exceeded and
// returns them for notification outside the lock.
func (c *Cache[V]) evictOverLimitLocked() []*entry[V] {
	var evicted []*entry[V]

	for {
		overCount := c.cfg.MaxEntries > 0 && len(c.entries) > c.cfg.MaxEntries
		overBytes := c.cfg.MaxBytes > 0 && c.bytes > c.cfg.MaxBytes

		if !overCount && !overBytes {
			return evicted
		}

		oldest := c.order.Back()
		if oldest == nil {
			return evicted
		}

		ent := oldest.Value.(*entry[V])
		c.removeLocked(oldest)
		c.evictions++
		evicted = append(evicted, ent)
	}
}

func (c *Cache[V]) removeLocked(elem *list.Element) {
	ent := elem.Value.(*entry[V])
	c.order.Remove(elem)
	delete(c.entries, ent.key)
	c.bytes -= ent.size
}

func (c *Cache[V]) notify(evicted []*entry[V]) {
	if c.cfg.OnEvict == nil {
		return
	}

	for _, ent := range evicted {
		c.cfg.OnEvict(ent.key, ent.value)
	}
}

func (c *Cache[V]) sweepLoop() {
	defer close(c.done)

	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep removes entries idle longer than MaxAge, independent of size
// pressure, so cold entries don't pin memory indefinitely.
func (c *Cache[V]) sweep() {
	cutoff := c.now().Add(-c.cfg.MaxAge)

	c.mu.Lock()

	var expired []*entry[V]

	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()

		ent := elem.Value.(*entry[V])
		if ent.lastAccess.Before(cutoff) {
			c.removeLocked(elem)
			c.evictions++
			expired = append(expired, ent)
		}

		elem = prev
	}

	c.mu.Unlock()

	c.notify(expired)
}
