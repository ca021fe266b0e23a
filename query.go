package jtable

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/jtable/jtable/internal/shardstore"
)

// GetAll orderings.
const (
	OrderAsc  = "asc"
	OrderDesc = "desc"
)

// Find returns the record for id, reporting whether it exists. It is
// served from memory and always reflects the caller's own prior writes,
// even before they reach disk.
func (t *Table) Find(id string) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.records[id]

	return rec, ok
}

// Exists reports whether a record with id exists.
func (t *Table) Exists(id string) bool {
	_, ok := t.Find(id)

	return ok
}

// GetAll returns all records ordered by id. Order is OrderAsc or
// OrderDesc; the empty string means ascending.
func (t *Table) GetAll(order string) ([]Record, error) {
	switch order {
	case "", OrderAsc, OrderDesc:
	default:
		return nil, fmt.Errorf("get all: %w: %q", ErrInvalidOrder, order)
	}

	records := t.snapshotSorted()

	if order == OrderDesc {
		for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
			records[i], records[j] = records[j], records[i]
		}
	}

	return records, nil
}

// GetWhere returns the records matching predicate, in id order. A nil
// predicate matches everything.
func (t *Table) GetWhere(predicate func(Record) bool) []Record {
	records := t.snapshotSorted()

	if predicate == nil {
		return records
	}

	matched := records[:0]

	for _, rec := range records {
		if predicate(rec) {
			matched = append(matched, rec)
		}
	}

	return matched
}

// FindBy returns the records whose payload field equals value, in id
// order. With an active index on field the candidate set comes from the
// index; otherwise the table is scanned. Only scalar values (string,
// number, bool, null) can match; numbers compare by value, so saving 42
// and looking up 42.0 match.
func (t *Table) FindBy(field string, value any) ([]Record, error) {
	if t.store.HasIndex(field) {
		return t.findByIndexed(field, value), nil
	}

	key, indexable := shardstore.IndexKey(value)
	if !indexable {
		return nil, nil
	}

	matched := t.GetWhere(func(rec Record) bool {
		return fieldMatchesKey(rec, field, key)
	})

	return matched, nil
}

// findByIndexed serves an indexed lookup. The index reflects persisted
// state only, so its candidate set can be stale both ways: it may name
// records whose in-memory payload no longer matches, and it misses saves
// the queue has not drained yet. Candidates are therefore merged with the
// pending ids and every id is matched against the current in-memory
// payload, so a caller always sees its own latest save and never a
// removed or re-valued record.
func (t *Table) findByIndexed(field string, value any) []Record {
	candidates, err := t.store.GetByIndex(field, value)
	if err != nil {
		// Index candidates resolve through cached shards; on a read
		// failure fall back to the pending set only.
		t.logger.Warn("indexed lookup fell back to memory", "field", field, "err", err)
	}

	key, indexable := shardstore.IndexKey(value)
	if !indexable {
		return nil
	}

	matched := make([]Record, 0, len(candidates))
	checked := make(map[string]struct{}, len(candidates))

	t.mu.RLock()

	for _, candidate := range candidates {
		checked[candidate.ID] = struct{}{}

		if rec, ok := t.records[candidate.ID]; ok && fieldMatchesKey(rec, field, key) {
			matched = append(matched, rec)
		}
	}

	for id := range t.pending {
		if _, done := checked[id]; done {
			continue
		}

		if rec, ok := t.records[id]; ok && fieldMatchesKey(rec, field, key) {
			matched = append(matched, rec)
		}
	}

	t.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	return matched
}

// fieldMatchesKey reports whether a record's payload field canonicalizes
// to the given index key.
func fieldMatchesKey(rec Record, field, key string) bool {
	fieldValue, ok := rec.Field(field)
	if !ok {
		return false
	}

	fieldKey, scalar := shardstore.IndexKey(fieldValue)

	return scalar && fieldKey == key
}

// Search returns the records where any of the given payload fields
// contains query as a case-insensitive substring. String-typed field
// values are searched; other types never match. With no fields given,
// every payload field is searched. Results are in id order.
func (t *Table) Search(query string, fields ...string) []Record {
	needle := strings.ToLower(query)

	return t.GetWhere(func(rec Record) bool {
		if len(fields) == 0 {
			for _, fieldValue := range rec.Value {
				if stringContains(fieldValue, needle) {
					return true
				}
			}

			return false
		}

		for _, field := range fields {
			fieldValue, ok := rec.Field(field)
			if ok && stringContains(fieldValue, needle) {
				return true
			}
		}

		return false
	})
}

func stringContains(value any, needle string) bool {
	text, ok := value.(string)
	if !ok {
		return false
	}

	return strings.Contains(strings.ToLower(text), needle)
}

// Count returns the number of records matching predicate. A nil
// predicate counts everything.
func (t *Table) Count(predicate func(Record) bool) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if predicate == nil {
		return len(t.records)
	}

	count := 0

	for _, rec := range t.records {
		if predicate(rec) {
			count++
		}
	}

	return count
}

// Random returns n records sampled uniformly with replacement. An empty
// table or n <= 0 yields an empty result.
func (t *Table) Random(n int) []Record {
	t.mu.RLock()

	ids := make([]string, 0, len(t.records))
	for id := range t.records {
		ids = append(ids, id)
	}

	t.mu.RUnlock()

	if n <= 0 || len(ids) == 0 {
		return nil
	}

	out := make([]Record, 0, n)

	for range n {
		id := ids[rand.IntN(len(ids))]

		t.mu.RLock()
		rec, ok := t.records[id]
		t.mu.RUnlock()

		if ok {
			out = append(out, rec)
		}
	}

	return out
}

// snapshotSorted copies the in-memory map into an id-ordered slice.
// Ids are unique, so the order is total.
func (t *Table) snapshotSorted() []Record {
	t.mu.RLock()

	records := make([]Record, 0, len(t.records))
	for _, rec := range t.records {
		records = append(records, rec)
	}

	t.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	return records
}
