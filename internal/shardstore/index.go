package shardstore

import (
	"encoding/json"
	"sort"
	"strconv"
	"sync"
)

// indexSet holds the secondary indices for one table:
// field name -> canonical value key -> set of record ids.
//
// Only scalar payload values (string, number, bool, null) are indexable.
// Composite values (objects, arrays) are skipped, matching the equality
// semantics of FindBy. Value keys are canonicalized so that a record saved
// in memory with an int field matches the same record decoded from disk
// as a float64.
type indexSet struct {
	mu     sync.RWMutex
	fields map[string]map[string]idSet
}

type idSet map[string]struct{}

func newIndexSet() *indexSet {
	return &indexSet{fields: make(map[string]map[string]idSet)}
}

// NumberOf coerces a JSON-like value to a float64, reporting whether the
// value is numeric. Strings and bools are not coerced.
func NumberOf(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return 0, false
		}

		return parsed, true
	default:
		return 0, false
	}
}

// IndexKey canonicalizes a scalar value into the string key used by the
// index maps, reporting whether the value is indexable.
func IndexKey(v any) (string, bool) {
	if v == nil {
		return "z:", true
	}

	if num, ok := NumberOf(v); ok {
		return "n:" + strconv.FormatFloat(num, 'g', -1, 64), true
	}

	switch val := v.(type) {
	case string:
		return "s:" + val, true
	case bool:
		if val {
			return "b:1", true
		}

		return "b:0", true
	default:
		return "", false
	}
}

// tracked reports whether the field has an active index.
func (x *indexSet) tracked(field string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()

	_, ok := x.fields[field]

	return ok
}

// names returns the indexed field names in sorted order.
func (x *indexSet) names() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()

	names := make([]string, 0, len(x.fields))
	for field := range x.fields {
		names = append(names, field)
	}

	sort.Strings(names)

	return names
}

// build (re)creates the index for field from a record snapshot.
func (x *indexSet) build(field string, records map[string]Record) {
	values := make(map[string]idSet)

	for id, rec := range records {
		value, ok := rec.Field(field)
		if !ok {
			continue
		}

		key, indexable := IndexKey(value)
		if !indexable {
			continue
		}

		set, exists := values[key]
		if !exists {
			set = make(idSet)
			values[key] = set
		}

		set[id] = struct{}{}
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	x.fields[field] = values
}

// drop removes the index for field, reporting whether it existed.
func (x *indexSet) drop(field string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	_, ok := x.fields[field]
	delete(x.fields, field)

	return ok
}

// update applies one record mutation to every tracked field: the old value
// entry (if any) is removed first, then the new value entry is added.
// Empty id-sets are dropped so lookups never see stale values.
func (x *indexSet) update(id string, old map[string]any, hadOld bool, updated map[string]any) {
	x.mu.Lock()
	defer x.mu.Unlock()

	for field, values := range x.fields {
		if hadOld {
			removeIndexEntry(values, field, id, old)
		}

		addIndexEntry(values, field, id, updated)
	}
}

// remove drops one record from every tracked field.
func (x *indexSet) remove(id string, old map[string]any) {
	x.mu.Lock()
	defer x.mu.Unlock()

	for field, values := range x.fields {
		removeIndexEntry(values, field, id, old)
	}
}

// lookup returns the ids indexed under (field, value). The second result
// reports whether field has an active index at all.
func (x *indexSet) lookup(field string, value any) ([]string, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	values, tracked := x.fields[field]
	if !tracked {
		return nil, false
	}

	key, indexable := IndexKey(value)
	if !indexable {
		return nil, true
	}

	set := values[key]
	if len(set) == 0 {
		return nil, true
	}

	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids, true
}

// rebuildAll recreates every tracked index from a record snapshot.
func (x *indexSet) rebuildAll(records map[string]Record) {
	x.mu.RLock()

	fields := make([]string, 0, len(x.fields))
	for field := range x.fields {
		fields = append(fields, field)
	}

	x.mu.RUnlock()

	for _, field := range fields {
		x.build(field, records)
	}
}

func removeIndexEntry(values map[string]idSet, field, id string, payload map[string]any) {
	value, ok := payload[field]
	if !ok {
		return
	}

	key, indexable := IndexKey(value)
	if !indexable {
		return
	}

	set, exists := values[key]
	if !exists {
		return
	}

	delete(set, id)

	if len(set) == 0 {
		delete(values, key)
	}
}

func addIndexEntry(values map[string]idSet, field, id string, payload map[string]any) {
	value, ok := payload[field]
	if !ok {
		return
	}

	key, indexable := IndexKey(value)
	if !indexable {
		return
	}

	set, exists := values[key]
	if !exists {
		set = make(idSet)
		values[key] = set
	}

	set[id] = struct{}{}
}
