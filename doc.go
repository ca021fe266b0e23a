// Package jtable is an embedded, file-backed key-value store for
// JSON-like records.
//
// A table is a directory of bounded shard files (data.00000.json,
// data.00001.json, ...), each holding a JSON object mapping record id to
// record. Decoded shards are held in a bounded LRU cache so repeated
// access avoids re-parsing files. All reads are served synchronously from
// an in-memory record map; mutations update that map immediately and are
// persisted asynchronously through a batching write queue, with a
// per-write completion channel for callers that need a durability
// barrier.
//
// Optional secondary indices provide equality lookup on payload fields.
//
// Basic usage:
//
//	tbl, err := jtable.Open("users", jtable.WithIndexFields("email"))
//	if err != nil { ... }
//	defer tbl.Close(context.Background())
//
//	rec, done, err := tbl.Save("alice", map[string]any{"email": "a@example.com", "age": 34})
//	if err != nil { ... }
//	<-done // optional: wait for durability
//
//	byEmail, err := tbl.FindBy("email", "a@example.com")
//
// jtable is single-process: it performs no network access and no
// multi-process coordination.
package jtable
