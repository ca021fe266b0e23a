// Package shardstore persists one table as a directory of bounded JSON
// shard files fronted by an LRU cache of decoded shard contents.
//
// Every record lives in exactly one shard. New records land in the current
// shard until it reaches capacity, at which point the store rolls over to
// a fresh shard index. Updates and deletes are routed to the shard that
// owns the record, so closed shards shrink but are never appended to
// (compaction rewrites them densely).
//
// Shard mutation is serialized per shard: a write read-modify-writes the
// whole decoded shard map under that shard's lock and rewrites the file
// atomically. Writes to distinct shards may persist concurrently.
package shardstore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jtable/jtable/pkg/lru"
)

// Options configures a Store. Zero values fall back to defaults.
type Options struct {
	// ShardCapacity is the maximum record count per shard file.
	ShardCapacity int

	// CacheMaxEntries bounds the number of decoded shards held in memory.
	CacheMaxEntries int

	// CacheMaxBytes bounds the estimated memory held by decoded shards.
	CacheMaxBytes int64

	// CacheMaxAge expires decoded shards not touched for this long.
	CacheMaxAge time.Duration

	// SweepInterval is how often the cache age sweep runs.
	SweepInterval time.Duration

	// IndexFields are secondary indices built during load.
	IndexFields []string

	// Logger receives corrupt-shard and eviction events. Defaults to a
	// discard logger.
	Logger *slog.Logger
}

// Default option values.
const (
	DefaultShardCapacity   = 2500
	DefaultCacheMaxEntries = 64
	DefaultCacheMaxBytes   = 64 << 20
	DefaultCacheMaxAge     = 5 * time.Minute
	DefaultSweepInterval   = time.Minute
)

// Store owns the shard files of one table directory.
type Store struct {
	dir      string
	capacity int
	logger   *slog.Logger
	cache    *lru.Cache[map[string]Record]
	idx      *indexSet

	// compactMu excludes compaction (and index rebuilds) from regular
	// reads and writes. Regular operations hold the read side.
	compactMu sync.RWMutex

	// mu guards routing metadata only; it is never held across disk I/O.
	mu         sync.Mutex
	locations  map[string]int // record id -> owning shard index
	counts     map[int]int    // shard index -> live record count
	current    int            // index of the appendable shard
	shardLocks map[int]*sync.Mutex
	closed     bool
}

// Open loads the table directory: existing shards are decoded in ascending
// index order into the cache, the record location map is built, the current
// shard cursor is set to the highest index seen, and the requested indices
// are built. Corrupt shard files are logged and treated as empty; they
// never fail Open.
func Open(dir string, opts Options) (*Store, error) {
	if dir == "" {
		return nil, errors.New("open shard store: directory is empty")
	}

	applyDefaults(&opts)

	err := os.MkdirAll(dir, 0o750)
	if err != nil {
		return nil, fmt.Errorf("open shard store: create directory: %w", err)
	}

	s := &Store{
		dir:        dir,
		capacity:   opts.ShardCapacity,
		logger:     opts.Logger,
		idx:        newIndexSet(),
		locations:  make(map[string]int),
		counts:     make(map[int]int),
		shardLocks: make(map[int]*sync.Mutex),
	}

	s.cache = lru.New(lru.Config[map[string]Record]{
		MaxEntries:    opts.CacheMaxEntries,
		MaxBytes:      opts.CacheMaxBytes,
		MaxAge:        opts.CacheMaxAge,
		SweepInterval: opts.SweepInterval,
		SizeOf:        shardSize,
		OnEvict: func(key string, value map[string]Record) {
			s.logger.Debug("shard evicted from cache", "shard", key, "records", len(value))
		},
	})

	loadErr := s.load(opts.IndexFields)
	if loadErr != nil {
		s.cache.Close()

		return nil, fmt.Errorf("open shard store: %w", loadErr)
	}

	return s, nil
}

func applyDefaults(opts *Options) {
	if opts.ShardCapacity <= 0 {
		opts.ShardCapacity = DefaultShardCapacity
	}

	if opts.CacheMaxEntries <= 0 {
		opts.CacheMaxEntries = DefaultCacheMaxEntries
	}

	if opts.CacheMaxBytes <= 0 {
		opts.CacheMaxBytes = DefaultCacheMaxBytes
	}

	if opts.CacheMaxAge <= 0 {
		opts.CacheMaxAge = DefaultCacheMaxAge
	}

	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
}

// load decodes all existing shards and builds routing state and indices.
func (s *Store) load(indexFields []string) error {
	indexes, err := listShardIndexes(s.dir)
	if err != nil {
		return err
	}

	all := make(map[string]Record)

	for _, index := range indexes {
		records, decodeErr := decodeShardFile(shardPath(s.dir, index))
		if decodeErr != nil {
			if !errors.Is(decodeErr, ErrCorruptShard) {
				return decodeErr
			}

			s.logger.Warn("corrupt shard treated as empty", "shard", shardFileName(index), "err", decodeErr)

			records = map[string]Record{}
		}

		s.cache.Set(shardFileName(index), records)
		s.counts[index] = len(records)

		for id, rec := range records {
			s.locations[id] = index
			all[id] = rec
		}

		if index > s.current {
			s.current = index
		}
	}

	for _, field := range indexFields {
		if field == "" {
			continue
		}

		s.idx.build(field, all)
	}

	return nil
}

// Write inserts or overwrites one record in its owning shard and persists
// the whole shard. New records land in the current shard, rolling over
// first if it is at capacity, so a single write never spans two shards.
func (s *Store) Write(id string, rec Record) error {
	if id == "" {
		return errors.New("write record: id is empty")
	}

	s.compactMu.RLock()
	defer s.compactMu.RUnlock()

	target, isNew, lock, err := s.route(id)
	if err != nil {
		return err
	}

	lock.Lock()

	writeErr := s.writeToShard(target, id, rec)

	lock.Unlock()

	if writeErr != nil {
		if isNew {
			s.unroute(id, target)
		}

		return writeErr
	}

	return nil
}

// writeToShard performs the read-modify-write-persist cycle for one record.
// Caller holds the shard lock.
func (s *Store) writeToShard(index int, id string, rec Record) error {
	records, err := s.loadShard(index)
	if err != nil {
		return err
	}

	old, existed := records[id]

	updated := copyShard(records)
	updated[id] = rec

	encodeErr := encodeShardFile(shardPath(s.dir, index), updated)
	if encodeErr != nil {
		return encodeErr
	}

	s.cache.Set(shardFileName(index), updated)
	s.idx.update(id, old.Value, existed, rec.Value)

	return nil
}

// Delete removes one record from its owning shard and persists the shard.
// It reports whether the record existed.
func (s *Store) Delete(id string) (bool, error) {
	s.compactMu.RLock()
	defer s.compactMu.RUnlock()

	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()

		return false, ErrClosed
	}

	index, ok := s.locations[id]
	if !ok {
		s.mu.Unlock()

		return false, nil
	}

	lock := s.shardLockLocked(index)
	s.mu.Unlock()

	lock.Lock()

	old, err := s.deleteFromShard(index, id)

	lock.Unlock()

	if err != nil {
		return false, err
	}

	s.mu.Lock()
	delete(s.locations, id)
	s.counts[index]--
	s.mu.Unlock()

	s.idx.remove(id, old.Value)

	return true, nil
}

// deleteFromShard removes id from the decoded shard and persists it.
// Caller holds the shard lock. Returns the removed record for index
// maintenance.
func (s *Store) deleteFromShard(index int, id string) (Record, error) {
	records, err := s.loadShard(index)
	if err != nil {
		return Record{}, err
	}

	old, existed := records[id]
	if !existed {
		// Routing said the record is here but the shard map disagrees
		// (e.g. the shard went corrupt-empty on a cache re-read).
		// Nothing to persist.
		return Record{}, nil
	}

	updated := copyShard(records)
	delete(updated, id)

	encodeErr := encodeShardFile(shardPath(s.dir, index), updated)
	if encodeErr != nil {
		return Record{}, encodeErr
	}

	s.cache.Set(shardFileName(index), updated)

	return old, nil
}

// Read returns the record for id, reporting whether it exists. Cached
// shard contents are consulted first; a cache miss re-reads the owning
// shard from disk and caches it.
func (s *Store) Read(id string) (Record, bool, error) {
	s.compactMu.RLock()
	defer s.compactMu.RUnlock()

	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()

		return Record{}, false, ErrClosed
	}

	index, ok := s.locations[id]
	if !ok {
		s.mu.Unlock()

		return Record{}, false, nil
	}

	lock := s.shardLockLocked(index)
	s.mu.Unlock()

	lock.Lock()

	records, err := s.loadShard(index)

	lock.Unlock()

	if err != nil {
		return Record{}, false, fmt.Errorf("read record %q: %w", id, err)
	}

	rec, found := records[id]

	return rec, found, nil
}

// All returns a snapshot of every live record, keyed by id. The table
// layer uses it to build the authoritative in-memory map at open.
func (s *Store) All() (map[string]Record, error) {
	s.compactMu.RLock()
	defer s.compactMu.RUnlock()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return nil, ErrClosed
	}

	return s.allLocked()
}

// allLocked gathers all records. Caller holds compactMu (either side).
func (s *Store) allLocked() (map[string]Record, error) {
	s.mu.Lock()

	byShard := make(map[int][]string)
	for id, index := range s.locations {
		byShard[index] = append(byShard[index], id)
	}

	total := len(s.locations)
	s.mu.Unlock()

	out := make(map[string]Record, total)

	for index, ids := range byShard {
		s.mu.Lock()
		lock := s.shardLockLocked(index)
		s.mu.Unlock()

		lock.Lock()

		records, err := s.loadShard(index)

		lock.Unlock()

		if err != nil {
			return nil, err
		}

		for _, id := range ids {
			if rec, ok := records[id]; ok {
				out[id] = rec
			}
		}
	}

	return out, nil
}

// Len returns the number of live records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.locations)
}

// ShardFor returns the affinity key for a pending write: the owning shard
// for known records, the current shard for new ones. The write queue uses
// it to group batch items; correctness does not depend on it because
// shard mutation is locked per shard regardless.
func (s *Store) ShardFor(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index, ok := s.locations[id]; ok {
		return index
	}

	return s.current
}

// CreateIndex builds (or rebuilds) the index for field from the current
// loaded state. Building excludes concurrent writes so the scan cannot
// miss an in-flight mutation.
func (s *Store) CreateIndex(field string) error {
	if field == "" {
		return errors.New("create index: field is empty")
	}

	s.compactMu.Lock()
	defer s.compactMu.Unlock()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return ErrClosed
	}

	records, err := s.allLocked()
	if err != nil {
		return fmt.Errorf("create index %q: %w", field, err)
	}

	s.idx.build(field, records)

	return nil
}

// DropIndex removes the index for field, reporting whether it existed.
func (s *Store) DropIndex(field string) bool {
	return s.idx.drop(field)
}

// Indices returns the indexed field names in sorted order.
func (s *Store) Indices() []string {
	return s.idx.names()
}

// HasIndex reports whether field has an active index.
func (s *Store) HasIndex(field string) bool {
	return s.idx.tracked(field)
}

// GetByIndex returns all records whose payload field equals value, in id
// order. The result is empty (never an error) if field is not indexed.
func (s *Store) GetByIndex(field string, value any) ([]Record, error) {
	ids, tracked := s.idx.lookup(field, value)
	if !tracked || len(ids) == 0 {
		return nil, nil
	}

	out := make([]Record, 0, len(ids))

	for _, id := range ids {
		rec, ok, err := s.Read(id)
		if err != nil {
			return nil, fmt.Errorf("get by index %q: %w", field, err)
		}

		if ok {
			out = append(out, rec)
		}
	}

	return out, nil
}

// CacheStats returns the shard cache counters.
func (s *Store) CacheStats() lru.Stats {
	return s.cache.Stats()
}

// Close marks the store closed and stops the cache sweeper. Records
// already persisted stay on disk; Close never discards data.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cache.Close()
}

// route assigns a target shard for a write and returns that shard's lock.
// New ids are recorded in the location map immediately; the caller must
// call unroute on write failure so a failed insert leaves no trace.
func (s *Store) route(id string) (int, bool, *sync.Mutex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, false, nil, ErrClosed
	}

	if index, ok := s.locations[id]; ok {
		return index, false, s.shardLockLocked(index), nil
	}

	if s.counts[s.current] >= s.capacity {
		s.current++
	}

	target := s.current
	s.locations[id] = target
	s.counts[target]++

	return target, true, s.shardLockLocked(target), nil
}

// unroute rolls back the routing entry of a failed insert.
func (s *Store) unroute(id string, index int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if loc, ok := s.locations[id]; ok && loc == index {
		delete(s.locations, id)
		s.counts[index]--
	}
}

// shardLockLocked returns the mutex for a shard index. Caller holds s.mu.
func (s *Store) shardLockLocked(index int) *sync.Mutex {
	lock, ok := s.shardLocks[index]
	if !ok {
		lock = &sync.Mutex{}
		s.shardLocks[index] = lock
	}

	return lock
}

// loadShard returns the decoded contents of a shard, from the cache when
// possible. Caller holds the shard lock. The returned map is shared and
// must not be mutated; writers copy before modifying.
func (s *Store) loadShard(index int) (map[string]Record, error) {
	name := shardFileName(index)

	if records, ok := s.cache.Get(name); ok {
		return records, nil
	}

	records, err := decodeShardFile(shardPath(s.dir, index))
	if err != nil {
		if !errors.Is(err, ErrCorruptShard) {
			return nil, err
		}

		s.logger.Warn("corrupt shard treated as empty", "shard", name, "err", err)

		records = map[string]Record{}
	}

	s.cache.Set(name, records)

	return records, nil
}

func copyShard(records map[string]Record) map[string]Record {
	out := make(map[string]Record, len(records)+1)
	for id, rec := range records {
		out[id] = rec
	}

	return out
}

// shardSize estimates the memory held by a decoded shard for the cache
// byte budget.
func shardSize(records map[string]Record) int64 {
	size := int64(64)
	for id, rec := range records {
		size += int64(len(id)) + 96 + lru.EstimateSize(rec.Value)
	}

	return size
}
