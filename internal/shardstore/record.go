package shardstore

import (
	"errors"
	"time"
)

// Store errors.
var (
	// ErrCorruptShard reports an undecodable shard file. Load logs it and
	// treats the shard as empty; it is never fatal.
	ErrCorruptShard = errors.New("corrupt shard")

	// ErrClosed reports an operation on a closed store.
	ErrClosed = errors.New("store is closed")
)

// Record is one table row: an opaque JSON-like payload plus bookkeeping
// fields maintained by the table layer. A copy of every record is embedded
// in whichever shard file currently owns it on disk.
type Record struct {
	ID        string         `json:"id"`
	Value     map[string]any `json:"value"`
	CreatedAt time.Time      `json:"created_at"` //nolint:tagliatelle // snake_case on disk
	UpdatedAt time.Time      `json:"updated_at"` //nolint:tagliatelle // snake_case on disk
	Version   int64          `json:"version"`
}

// Field returns the named field of the record payload.
func (r Record) Field(name string) (any, bool) {
	if r.Value == nil {
		return nil, false
	}

	value, ok := r.Value[name]

	return value, ok
}
