package jtable

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jtable/jtable/internal/shardstore"
	"github.com/jtable/jtable/internal/writequeue"
)

// Record is one table row. The Value payload is schema-less; CreatedAt,
// UpdatedAt and Version are maintained by the table.
type Record = shardstore.Record

// Entry is one (id, payload) pair for SaveMany. An empty ID gets a
// generated one.
type Entry struct {
	ID    string
	Value map[string]any
}

// Table is an embedded, file-backed key-value table.
//
// All reads are served synchronously from the authoritative in-memory
// record map. Mutations update that map first, then enqueue persistence,
// so a caller always observes its own write immediately; the returned
// completion channel reports when (and whether) the write reached disk.
//
// A Table is safe for concurrent use. Close flushes pending writes.
type Table struct {
	dir    string
	cfg    Config
	logger *slog.Logger
	store  *shardstore.Store
	queue  *writequeue.Queue

	mu      sync.RWMutex
	records map[string]Record
	pending map[string]int // id -> accepted saves not yet persisted
	closed  bool

	now func() time.Time
}

// Open opens (creating if needed) the table stored in dir.
//
// Configuration precedence, highest last: defaults, the optional
// jtable.json file in dir, explicit options. Existing shard files are
// loaded; corrupt ones are logged through the configured logger and
// treated as empty.
func Open(dir string, opts ...Option) (*Table, error) {
	if dir == "" {
		return nil, errors.New("open table: directory is empty")
	}

	cfg, err := loadConfig(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open table: %w", err)
	}

	store, err := shardstore.Open(dir, shardstore.Options{
		ShardCapacity:   cfg.ShardCapacity,
		CacheMaxEntries: cfg.CacheMaxEntries,
		CacheMaxBytes:   cfg.CacheMaxBytes,
		CacheMaxAge:     cfg.CacheMaxAge,
		SweepInterval:   cfg.SweepInterval,
		IndexFields:     cfg.IndexFields,
		Logger:          cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open table: %w", err)
	}

	records, err := store.All()
	if err != nil {
		store.Close()

		return nil, fmt.Errorf("open table: load records: %w", err)
	}

	queue := writequeue.New(store, writequeue.Options{
		BatchSize: cfg.WriteBatchSize,
		Logger:    cfg.Logger,
	})

	return &Table{
		dir:     dir,
		cfg:     cfg,
		logger:  cfg.Logger,
		store:   store,
		queue:   queue,
		records: records,
		pending: make(map[string]int),
		now:     time.Now,
	}, nil
}

// Save inserts or overwrites one record. An empty id gets a generated
// UUIDv7. The returned record is immediately visible to reads; the
// completion channel resolves once this write's persistence attempt
// finishes. The table takes ownership of value.
func (t *Table) Save(id string, value map[string]any) (Record, <-chan error, error) {
	if id == "" {
		generated, err := newRecordID()
		if err != nil {
			return Record{}, nil, fmt.Errorf("save: %w", err)
		}

		id = generated
	}

	t.mu.Lock()

	if t.closed {
		t.mu.Unlock()

		return Record{}, nil, ErrTableClosed
	}

	rec := t.upsertLocked(id, value)
	done := t.enqueuePutLocked(rec)

	t.mu.Unlock()

	return rec, done, nil
}

// SaveMany inserts or overwrites a batch of records. All records are
// visible to reads before SaveMany returns; the completion channel
// resolves after every entry's persistence attempt, joining any failures.
func (t *Table) SaveMany(entries []Entry) ([]Record, <-chan error, error) {
	recs := make([]Record, 0, len(entries))
	ids := make([]string, 0, len(entries))

	for _, entry := range entries {
		id := entry.ID
		if id == "" {
			generated, err := newRecordID()
			if err != nil {
				return nil, nil, fmt.Errorf("save many: %w", err)
			}

			id = generated
		}

		ids = append(ids, id)
	}

	t.mu.Lock()

	if t.closed {
		t.mu.Unlock()

		return nil, nil, ErrTableClosed
	}

	completions := make([]<-chan error, 0, len(entries))

	for i, entry := range entries {
		rec := t.upsertLocked(ids[i], entry.Value)
		recs = append(recs, rec)
		completions = append(completions, t.enqueuePutLocked(rec))
	}

	t.mu.Unlock()

	return recs, joinCompletions(completions), nil
}

// enqueuePutLocked enqueues persistence for rec while the caller still
// holds t.mu. Memory application and queue acceptance happen under the
// same critical section, so two mutations of one id persist in the order
// they became visible to reads; Enqueue never blocks on disk I/O.
// The pending count lets indexed lookups consult records the index has
// not absorbed yet.
func (t *Table) enqueuePutLocked(rec Record) <-chan error {
	t.pending[rec.ID]++

	return t.queue.Enqueue(writequeue.Op{
		Kind:   writequeue.Put,
		ID:     rec.ID,
		Record: rec,
		OnDone: func(error) { t.persistFinished(rec.ID) },
	})
}

// persistFinished drops one pending count for id. Runs on the queue's
// drain goroutine.
func (t *Table) persistFinished(id string) {
	t.mu.Lock()

	t.pending[id]--
	if t.pending[id] <= 0 {
		delete(t.pending, id)
	}

	t.mu.Unlock()
}

// upsertLocked updates the in-memory map and returns the stored record.
// Caller holds t.mu.
func (t *Table) upsertLocked(id string, value map[string]any) Record {
	now := t.now().UTC()

	rec := Record{
		ID:        id,
		Value:     value,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}

	if old, ok := t.records[id]; ok {
		rec.CreatedAt = old.CreatedAt
		rec.Version = old.Version + 1
	}

	t.records[id] = rec

	return rec
}

// Remove deletes one record, reporting whether it existed. The record is
// gone from reads immediately and is removed from its owning shard file;
// the completion channel resolves after the shard rewrite.
func (t *Table) Remove(id string) (bool, <-chan error) {
	t.mu.Lock()

	if t.closed {
		t.mu.Unlock()

		return false, resolved(ErrTableClosed)
	}

	_, existed := t.records[id]
	if !existed {
		t.mu.Unlock()

		return false, resolved(nil)
	}

	delete(t.records, id)

	// Enqueued under t.mu for the same reason as saves: a concurrent save
	// of this id must persist on the same side of the delete that it
	// landed on in memory.
	done := t.queue.Enqueue(writequeue.Op{Kind: writequeue.Delete, ID: id})

	t.mu.Unlock()

	return true, done
}

// RemoveMany deletes a batch of ids and returns how many existed.
func (t *Table) RemoveMany(ids []string) (int, <-chan error) {
	var (
		removed     int
		completions []<-chan error
	)

	for _, id := range ids {
		ok, done := t.Remove(id)
		if ok {
			removed++
		}

		completions = append(completions, done)
	}

	return removed, joinCompletions(completions)
}

// CreateIndex builds an equality index on a payload field. Subsequent
// writes maintain it incrementally.
func (t *Table) CreateIndex(field string) error {
	err := t.store.CreateIndex(field)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}

	return nil
}

// DropIndex removes the index on field, reporting whether it existed.
func (t *Table) DropIndex(field string) bool {
	return t.store.DropIndex(field)
}

// ListIndices returns the indexed field names in sorted order.
func (t *Table) ListIndices() []string {
	return t.store.Indices()
}

// Flush blocks until every previously accepted write has been persisted
// or failed, or until ctx is done.
func (t *Table) Flush(ctx context.Context) error {
	err := t.queue.Flush(ctx)
	if err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	return nil
}

// Compact flushes pending writes, then rewrites all shards densely,
// dropping files emptied by deletes.
func (t *Table) Compact(ctx context.Context) error {
	err := t.Flush(ctx)
	if err != nil {
		return fmt.Errorf("compact: %w", err)
	}

	compactErr := t.store.Compact()
	if compactErr != nil {
		return fmt.Errorf("compact: %w", compactErr)
	}

	return nil
}

// Dir returns the table directory.
func (t *Table) Dir() string {
	return t.dir
}

// Config returns the effective configuration resolved at Open.
func (t *Table) Config() Config {
	return t.cfg
}

// Stats returns a snapshot of the table counters.
func (t *Table) Stats() Stats {
	t.mu.RLock()
	entryCount := len(t.records)
	t.mu.RUnlock()

	return Stats{
		EntryCount:   entryCount,
		CacheHitRate: t.store.CacheStats().HitRate(),
		QueueDepth:   t.queue.Depth(),
	}
}

// Close flushes pending writes, stops background work, and marks the
// table closed. Close is idempotent; operations after Close return
// ErrTableClosed.
func (t *Table) Close(ctx context.Context) error {
	t.mu.Lock()

	if t.closed {
		t.mu.Unlock()

		return nil
	}

	t.closed = true

	t.mu.Unlock()

	err := t.queue.Close(ctx)

	t.store.Close()

	if err != nil {
		return fmt.Errorf("close table: %w", err)
	}

	return nil
}

// resolved returns a completion channel that already carries err (or a
// nil success value).
func resolved(err error) <-chan error {
	done := make(chan error, 1)
	done <- err
	close(done)

	return done
}

// joinCompletions fans a set of completion channels into one that
// resolves after all of them, joining any failures.
func joinCompletions(completions []<-chan error) <-chan error {
	done := make(chan error, 1)

	go func() {
		var errs []error

		for _, completion := range completions {
			err := <-completion
			if err != nil {
				errs = append(errs, err)
			}
		}

		done <- errors.Join(errs...)
		close(done)
	}()

	return done
}
