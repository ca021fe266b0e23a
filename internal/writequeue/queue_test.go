package writequeue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jtable/jtable/internal/shardstore"
)

// fakeSink records applied operations and can fail specific ids.
type fakeSink struct {
	mu      sync.Mutex
	applied []Op
	fail    map[string]error
	shards  map[string]int // id -> shard affinity; default 0
	gate    chan struct{}  // if set, Write blocks until the gate closes
}

func newFakeSink() *fakeSink {
	return &fakeSink{fail: make(map[string]error), shards: make(map[string]int)}
}

func (f *fakeSink) Write(id string, rec shardstore.Record) error {
	if f.gate != nil {
		<-f.gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.fail[id]; ok {
		return err
	}

	f.applied = append(f.applied, Op{Kind: Put, ID: id, Record: rec})

	return nil
}

func (f *fakeSink) Delete(id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.fail[id]; ok {
		return false, err
	}

	f.applied = append(f.applied, Op{Kind: Delete, ID: id})

	return true, nil
}

func (f *fakeSink) ShardFor(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.shards[id]
}

func (f *fakeSink) appliedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := make([]string, len(f.applied))
	for i, op := range f.applied {
		ids[i] = op.ID
	}

	return ids
}

func TestEnqueueCompletes(t *testing.T) {
	t.Parallel()

	sink := newFakeSink()
	queue := New(sink, Options{})

	done := queue.Enqueue(Op{Kind: Put, ID: "a", Record: shardstore.Record{ID: "a", Version: 1}})

	requireCompletion(t, done, nil)

	require.Equal(t, []string{"a"}, sink.appliedIDs())
}

func TestCompletionCarriesError(t *testing.T) {
	t.Parallel()

	sink := newFakeSink()
	sinkErr := errors.New("disk full")
	sink.fail["bad"] = sinkErr

	queue := New(sink, Options{})

	badDone := queue.Enqueue(Op{Kind: Put, ID: "bad", Record: shardstore.Record{ID: "bad"}})
	goodDone := queue.Enqueue(Op{Kind: Put, ID: "good", Record: shardstore.Record{ID: "good"}})

	requireCompletion(t, badDone, sinkErr)
	// One item's failure must not affect other items in the batch.
	requireCompletion(t, goodDone, nil)
}

func TestFIFOPerShard(t *testing.T) {
	t.Parallel()

	sink := newFakeSink()
	queue := New(sink, Options{BatchSize: 64})

	var last <-chan error

	const writes = 50

	for i := range writes {
		last = queue.Enqueue(Op{
			Kind:   Put,
			ID:     "same-id",
			Record: shardstore.Record{ID: "same-id", Version: int64(i + 1)},
		})
	}

	requireCompletion(t, last, nil)

	err := queue.Flush(context.Background())
	require.NoError(t, err)

	// All writes share one shard, so they must have been applied in
	// enqueue order.
	sink.mu.Lock()
	defer sink.mu.Unlock()

	require.Len(t, sink.applied, writes)

	for i, op := range sink.applied {
		require.Equal(t, int64(i+1), op.Record.Version, "write %d applied out of order", i)
	}
}

func TestDrainContinuesAcrossBatches(t *testing.T) {
	t.Parallel()

	sink := newFakeSink()
	queue := New(sink, Options{BatchSize: 4})

	for i := range 20 {
		queue.Enqueue(Op{Kind: Put, ID: fmt.Sprintf("id-%02d", i), Record: shardstore.Record{}})
	}

	err := queue.Flush(context.Background())
	require.NoError(t, err)

	require.Len(t, sink.appliedIDs(), 20)
	require.Equal(t, 0, queue.Depth())
}

func TestDepthAndFlush(t *testing.T) {
	t.Parallel()

	sink := newFakeSink()
	sink.gate = make(chan struct{})

	queue := New(sink, Options{BatchSize: 2})

	for i := range 6 {
		queue.Enqueue(Op{Kind: Put, ID: fmt.Sprintf("id-%d", i), Record: shardstore.Record{}})
	}

	require.Positive(t, queue.Depth())

	close(sink.gate)

	err := queue.Flush(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, queue.Depth())
}

func TestFlushHonorsContext(t *testing.T) {
	t.Parallel()

	sink := newFakeSink()
	sink.gate = make(chan struct{})
	defer close(sink.gate)

	queue := New(sink, Options{})
	queue.Enqueue(Op{Kind: Put, ID: "stuck", Record: shardstore.Record{}})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := queue.Flush(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseDrainsThenRejects(t *testing.T) {
	t.Parallel()

	sink := newFakeSink()
	queue := New(sink, Options{})

	queue.Enqueue(Op{Kind: Put, ID: "a", Record: shardstore.Record{}})

	err := queue.Close(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, sink.appliedIDs())

	done := queue.Enqueue(Op{Kind: Put, ID: "b", Record: shardstore.Record{}})
	requireCompletion(t, done, ErrClosed)
}

func TestDeleteOp(t *testing.T) {
	t.Parallel()

	sink := newFakeSink()
	queue := New(sink, Options{})

	done := queue.Enqueue(Op{Kind: Delete, ID: "a"})
	requireCompletion(t, done, nil)

	sink.mu.Lock()
	defer sink.mu.Unlock()

	require.Len(t, sink.applied, 1)
	require.Equal(t, Delete, sink.applied[0].Kind)
}

func TestOnDoneRunsBeforeCompletion(t *testing.T) {
	t.Parallel()

	sink := newFakeSink()
	sink.fail["bad"] = errors.New("disk full")

	queue := New(sink, Options{})

	var (
		mu      sync.Mutex
		results []error
	)

	record := func(err error) {
		mu.Lock()
		results = append(results, err)
		mu.Unlock()
	}

	goodDone := queue.Enqueue(Op{Kind: Put, ID: "good", Record: shardstore.Record{}, OnDone: record})
	requireCompletion(t, goodDone, nil)

	// The callback happens before the channel resolves, so the result is
	// already recorded here.
	mu.Lock()
	require.Equal(t, []error{nil}, results)
	mu.Unlock()

	badDone := queue.Enqueue(Op{Kind: Put, ID: "bad", Record: shardstore.Record{}, OnDone: record})
	requireCompletion(t, badDone, sink.fail["bad"])

	mu.Lock()
	require.Len(t, results, 2)
	require.ErrorContains(t, results[1], "disk full")
	mu.Unlock()
}

func requireCompletion(t *testing.T, done <-chan error, want error) {
	t.Helper()

	select {
	case err := <-done:
		if want == nil {
			require.NoError(t, err)
		} else {
			require.ErrorIs(t, err, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("completion channel never resolved")
	}
}
