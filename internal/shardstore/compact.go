package shardstore

import (
	"fmt"
	"sort"
)

// Compact rewrites all live records densely into consecutive shards at
// full capacity, removes the shard files left empty by the rewrite, and
// rebuilds the routing state, cache contents, and every active index.
//
// Record order is deterministic: ascending owning-shard index, then
// ascending id within a shard, so repeated compactions of the same data
// produce identical files.
//
// Compaction excludes all other store operations for its duration.
func (s *Store) Compact() error {
	s.compactMu.Lock()
	defer s.compactMu.Unlock()

	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()

		return ErrClosed
	}

	s.mu.Unlock()

	records, err := s.allLocked()
	if err != nil {
		return fmt.Errorf("compact: %w", err)
	}

	ordered := s.compactionOrder(records)

	existing, err := listShardIndexes(s.dir)
	if err != nil {
		return fmt.Errorf("compact: %w", err)
	}

	shards := packShards(ordered, records, s.capacity)

	for index, shard := range shards {
		writeErr := encodeShardFile(shardPath(s.dir, index), shard)
		if writeErr != nil {
			return fmt.Errorf("compact: %w", writeErr)
		}
	}

	for _, index := range existing {
		if index < len(shards) {
			continue
		}

		removeErr := removeShardFile(shardPath(s.dir, index))
		if removeErr != nil {
			return fmt.Errorf("compact: %w", removeErr)
		}
	}

	s.mu.Lock()

	s.locations = make(map[string]int, len(records))
	s.counts = make(map[int]int, len(shards))
	s.cache.Clear()

	for index, shard := range shards {
		s.counts[index] = len(shard)
		s.cache.Set(shardFileName(index), shard)

		for id := range shard {
			s.locations[id] = index
		}
	}

	s.current = 0
	if len(shards) > 0 {
		s.current = len(shards) - 1
	}

	s.mu.Unlock()

	s.idx.rebuildAll(records)

	return nil
}

// compactionOrder returns record ids ordered by owning shard, then id.
func (s *Store) compactionOrder(records map[string]Record) []string {
	s.mu.Lock()

	type placement struct {
		id    string
		shard int
	}

	ordered := make([]placement, 0, len(records))
	for id := range records {
		ordered = append(ordered, placement{id: id, shard: s.locations[id]})
	}

	s.mu.Unlock()

	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].shard != ordered[j].shard {
			return ordered[i].shard < ordered[j].shard
		}

		return ordered[i].id < ordered[j].id
	})

	ids := make([]string, len(ordered))
	for i, p := range ordered {
		ids[i] = p.id
	}

	return ids
}

// packShards splits ordered records into consecutive full shards. An empty
// table yields a single empty shard so the table directory always has a
// current shard file after compaction.
func packShards(ids []string, records map[string]Record, capacity int) []map[string]Record {
	if len(ids) == 0 {
		return []map[string]Record{{}}
	}

	var shards []map[string]Record

	for start := 0; start < len(ids); start += capacity {
		end := min(start+capacity, len(ids))

		shard := make(map[string]Record, end-start)
		for _, id := range ids[start:end] {
			shard[id] = records[id]
		}

		shards = append(shards, shard)
	}

	return shards
}
