// Package lru provides a generic, fixed-capacity key-value store with
// least-recently-used eviction that is safe for concurrent use.
//
// The store bounds the memory held for partially received messages: every
// in-flight reassembly lives in one entry, and when a peer opens more of them
// than the capacity allows, the entry touched least recently is dropped.
//
// Features and Guarantees:
//
//   - Strict LRU: both Get and Put refresh an entry; entries with equal recency
//     leave in insertion order.
//   - Atomic get-or-insert: GetOrInsertWith computes a missing value exactly
//     once, even when several goroutines race on the same key.
//   - Lazy shrinking: Resize only records the new capacity. The next insert of a
//     new key evicts as many entries as needed to get back under it.
//   - Eviction hook: an optional callback observes capacity evictions after the
//     lock is released, so it may log or update metrics freely.
//
// The list bookkeeping is delegated to hashicorp/golang-lru's simplelru, which
// is not synchronized by itself; a single mutex guards every operation.
package lru
