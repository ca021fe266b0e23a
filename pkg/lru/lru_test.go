package lru

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestSetGetDelete(t *testing.T) {
	t.Parallel()

	cache := New(Config[string]{MaxEntries: 10})
	defer cache.Close()

	cache.Set("a", "1")
	cache.Set("b", "2")

	got, ok := cache.Get("a")
	if !ok || got != "1" {
		t.Fatalf("Get(a) = %q, %v; want 1, true", got, ok)
	}

	if !cache.Delete("a") {
		t.Fatal("Delete(a) = false, want true")
	}

	if cache.Delete("a") {
		t.Fatal("second Delete(a) = true, want false")
	}

	if _, ok := cache.Get("a"); ok {
		t.Fatal("Get(a) after delete should miss")
	}
}

func TestEntryCountBound(t *testing.T) {
	t.Parallel()

	var evicted []string

	cache := New(Config[int]{
		MaxEntries: 3,
		OnEvict:    func(key string, _ int) { evicted = append(evicted, key) },
	})
	defer cache.Close()

	cache.Set("a", 1)
	cache.Set("b", 2)
	cache.Set("c", 3)

	// Touch "a" so "b" is now least recently used.
	cache.Get("a")

	cache.Set("d", 4)

	if cache.Len() != 3 {
		t.Fatalf("Len = %d, want 3", cache.Len())
	}

	if diff := cmp.Diff([]string{"b"}, evicted); diff != "" {
		t.Fatalf("evicted keys mismatch (-want +got):\n%s", diff)
	}
}

func TestMemoryBound(t *testing.T) {
	t.Parallel()

	cache := New(Config[string]{
		MaxBytes: 100,
		SizeOf:   func(v string) int64 { return int64(len(v)) },
	})
	defer cache.Close()

	for _, key := range []string{"a", "b", "c", "d", "e"} {
		cache.Set(key, string(make([]byte, 40)))

		stats := cache.Stats()
		if stats.Bytes > 100 {
			t.Fatalf("after Set(%s): bytes %d exceeds budget", key, stats.Bytes)
		}
	}

	if cache.Len() != 2 {
		t.Fatalf("Len = %d, want 2 (2x40 bytes fit in 100)", cache.Len())
	}
}

func TestBoundsNeverExceededUnderChurn(t *testing.T) {
	t.Parallel()

	cache := New(Config[map[string]any]{MaxEntries: 8, MaxBytes: 4096})
	defer cache.Close()

	for i := range 500 {
		key := string(rune('a' + i%26))
		cache.Set(key, map[string]any{"n": i, "pad": "xxxxxxxxxxxxxxxx"})

		stats := cache.Stats()
		if stats.Entries > 8 {
			t.Fatalf("entries %d exceeds max 8", stats.Entries)
		}

		if stats.Bytes > 4096 {
			t.Fatalf("bytes %d exceeds max 4096", stats.Bytes)
		}
	}
}

func TestStatsHitRate(t *testing.T) {
	t.Parallel()

	cache := New(Config[int]{MaxEntries: 4})
	defer cache.Close()

	cache.Set("a", 1)

	cache.Get("a")
	cache.Get("a")
	cache.Get("missing")

	stats := cache.Stats()

	if stats.Hits != 2 || stats.Misses != 1 {
		t.Fatalf("hits/misses = %d/%d, want 2/1", stats.Hits, stats.Misses)
	}

	want := 2.0 / 3.0
	if got := stats.HitRate(); got != want {
		t.Fatalf("HitRate = %v, want %v", got, want)
	}

	if got := (Stats{}).HitRate(); got != 0 {
		t.Fatalf("HitRate with no lookups = %v, want 0", got)
	}
}

func TestAgeSweep(t *testing.T) {
	t.Parallel()

	var evicted []string

	cache := New(Config[int]{
		MaxAge:        time.Minute,
		SweepInterval: time.Hour, // sweep driven manually below
		OnEvict:       func(key string, _ int) { evicted = append(evicted, key) },
	})
	defer cache.Close()

	base := time.Now()
	cache.now = func() time.Time { return base }

	cache.Set("old", 1)
	cache.Set("older", 2)

	cache.now = func() time.Time { return base.Add(30 * time.Second) }
	cache.Set("fresh", 3)

	cache.now = func() time.Time { return base.Add(70 * time.Second) }
	cache.sweep()

	if _, ok := cache.Get("fresh"); !ok {
		t.Fatal("fresh entry should survive the sweep")
	}

	if cache.Len() != 1 {
		t.Fatalf("Len after sweep = %d, want 1", cache.Len())
	}

	if len(evicted) != 2 {
		t.Fatalf("evicted = %v, want the two stale keys", evicted)
	}
}

func TestClear(t *testing.T) {
	t.Parallel()

	cache := New(Config[int]{MaxEntries: 4})
	defer cache.Close()

	cache.Set("a", 1)
	cache.Set("b", 2)
	cache.Clear()

	if cache.Len() != 0 {
		t.Fatalf("Len after Clear = %d, want 0", cache.Len())
	}

	if stats := cache.Stats(); stats.Bytes != 0 {
		t.Fatalf("Bytes after Clear = %d, want 0", stats.Bytes)
	}
}

func TestEstimateSizeMonotonic(t *testing.T) {
	t.Parallel()

	small := map[string]any{"a": "x"}
	larger := map[string]any{"a": "xxxxxxxx"}
	more := map[string]any{"a": "xxxxxxxx", "b": 1}

	if EstimateSize(small) >= EstimateSize(larger) {
		t.Fatal("longer string should not shrink the estimate")
	}

	if EstimateSize(larger) >= EstimateSize(more) {
		t.Fatal("additional field should not shrink the estimate")
	}

	if EstimateSize(nil) <= 0 {
		t.Fatal("nil should still have positive size")
	}
}
