package jtable

// Stats is a point-in-time snapshot of table counters.
type Stats struct {
	// EntryCount is the number of live records.
	EntryCount int

	// CacheHitRate is the shard cache hit rate since open, in [0, 1].
	CacheHitRate float64

	// QueueDepth is the number of accepted writes not yet persisted.
	QueueDepth int
}
