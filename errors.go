package jtable

import "errors"

// ErrTableClosed reports an operation on a table after Close.
var ErrTableClosed = errors.New("table is closed")

// ErrUnknownAggregate reports an aggregate operation name that is not one
// of sum, avg, min, max, count.
var ErrUnknownAggregate = errors.New("unknown aggregate operation")

// ErrNoNumericValues reports a min or max aggregate over zero numeric
// values, where no deterministic result exists.
var ErrNoNumericValues = errors.New("no numeric values")

// ErrInvalidOrder reports a GetAll order that is neither OrderAsc nor
// OrderDesc.
var ErrInvalidOrder = errors.New("invalid order")

// Config errors.
var (
	errConfigFileRead        = errors.New("cannot read config file")
	errConfigInvalid         = errors.New("invalid config file")
	errShardCapacityInvalid  = errors.New("shard_capacity must not be negative")
	errCacheLimitsInvalid    = errors.New("cache limits must not be negative")
	errWriteBatchSizeInvalid = errors.New("write_batch_size must not be negative")
)
