// Package writequeue decouples write acknowledgment from durable
// persistence. Accepted operations are drained in batches against a
// persistence sink; every accepted operation eventually reaches the sink
// or its caller observes the failure through the completion channel.
//
// Batches overlap I/O only across shards: items in one batch are grouped
// by their target shard and each group is persisted sequentially in
// enqueue order, while distinct groups run concurrently. Two writes to the
// same shard therefore never race on the shard's read-modify-write cycle,
// and completion order per id is FIFO.
package writequeue

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/jtable/jtable/internal/shardstore"
)

// ErrClosed is returned on the completion channel of operations enqueued
// after Close.
var ErrClosed = errors.New("write queue is closed")

// Kind discriminates queued operations.
type Kind uint8

// Operation kinds.
const (
	Put Kind = iota
	Delete
)

// String returns the kind name for log output.
func (k Kind) String() string {
	switch k {
	case Put:
		return "put"
	case Delete:
		return "delete"
	default:
		return "unknown"
	}
}

// Op is one pending persistence request.
type Op struct {
	Kind   Kind
	ID     string
	Record shardstore.Record

	// OnDone, if set, is called with the persistence result after the
	// attempt finishes and before the completion channel resolves. It
	// runs on the drain goroutine and must not block.
	OnDone func(error)
}

// Sink is the persistence target the queue drains into.
type Sink interface {
	// Write persists one record into its owning shard.
	Write(id string, rec shardstore.Record) error

	// Delete removes one record from its owning shard.
	Delete(id string) (bool, error)

	// ShardFor returns the shard an operation on id will target. Used as
	// the batch grouping key; it only needs to be stable per id within a
	// batch.
	ShardFor(id string) int
}

// Options configures a Queue.
type Options struct {
	// BatchSize is the maximum number of operations taken per drain
	// round. Defaults to 32.
	BatchSize int

	// Logger receives persistence failures. Defaults to a discard logger.
	Logger *slog.Logger
}

// DefaultBatchSize is the drain batch size when Options.BatchSize is 0.
const DefaultBatchSize = 32

type item struct {
	op   Op
	done chan error
}

// Queue accepts persistence operations and drains them asynchronously.
type Queue struct {
	sink      Sink
	batchSize int
	logger    *slog.Logger

	mu       sync.Mutex
	pending  []item
	draining bool
	inflight int
	closed   bool
	waiters  []chan struct{}
}

// New creates a queue draining into sink.
func New(sink Sink, opts Options) *Queue {
	if sink == nil {
		panic("writequeue: sink is nil")
	}

	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	return &Queue{
		sink:      sink,
		batchSize: opts.BatchSize,
		logger:    opts.Logger,
	}
}

// Enqueue accepts one operation and returns its completion channel. The
// channel receives exactly one value after this specific operation's
// persistence attempt finishes, then is closed. Enqueue never blocks on
// disk I/O.
func (q *Queue) Enqueue(op Op) <-chan error {
	done := make(chan error, 1)

	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()

		done <- ErrClosed
		close(done)

		return done
	}

	q.pending = append(q.pending, item{op: op, done: done})

	if !q.draining {
		q.draining = true

		go q.drain()
	}

	q.mu.Unlock()

	return done
}

// Depth returns the number of accepted operations not yet persisted.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.pending) + q.inflight
}

// Flush blocks until every operation accepted before the call has been
// persisted (or failed), or until ctx is done.
func (q *Queue) Flush(ctx context.Context) error {
	for {
		q.mu.Lock()

		if len(q.pending) == 0 && !q.draining {
			q.mu.Unlock()

			return nil
		}

		wait := make(chan struct{})
		q.waiters = append(q.waiters, wait)
		q.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close drains all accepted operations, then rejects further enqueues.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	return q.Flush(ctx)
}

// drain is the single active drain loop. It repeatedly takes a batch,
// persists it, and re-checks for more pending items before giving up the
// draining flag, so a burst of enqueues never strands items.
func (q *Queue) drain() {
	for {
		q.mu.Lock()

		if len(q.pending) == 0 {
			q.draining = false
			waiters := q.waiters
			q.waiters = nil
			q.mu.Unlock()

			for _, wait := range waiters {
				close(wait)
			}

			return
		}

		n := min(q.batchSize, len(q.pending))

		batch := make([]item, n)
		copy(batch, q.pending[:n])
		q.pending = q.pending[n:]
		q.inflight += n

		q.mu.Unlock()

		q.runBatch(batch)

		q.mu.Lock()
		q.inflight -= n
		q.mu.Unlock()
	}
}

// runBatch persists one batch: items are grouped by target shard in
// enqueue order, groups run concurrently, items within a group run
// sequentially.
func (q *Queue) runBatch(batch []item) {
	var (
		order  []int
		groups = make(map[int][]item)
	)

	for _, it := range batch {
		shard := q.sink.ShardFor(it.op.ID)

		if _, seen := groups[shard]; !seen {
			order = append(order, shard)
		}

		groups[shard] = append(groups[shard], it)
	}

	var wg sync.WaitGroup

	for _, shard := range order {
		group := groups[shard]

		wg.Add(1)

		go func() {
			defer wg.Done()

			q.runGroup(group)
		}()
	}

	wg.Wait()
}

func (q *Queue) runGroup(group []item) {
	for _, it := range group {
		err := q.apply(it.op)
		if err != nil {
			q.logger.Error("persist failed", "op", it.op.Kind, "id", it.op.ID, "err", err)
		}

		if it.op.OnDone != nil {
			it.op.OnDone(err)
		}

		it.done <- err
		close(it.done)
	}
}

func (q *Queue) apply(op Op) error {
	switch op.Kind {
	case Put:
		return q.sink.Write(op.ID, op.Record)
	case Delete:
		_, err := q.sink.Delete(op.ID)

		return err
	default:
		return errors.New("unknown operation kind")
	}
}
