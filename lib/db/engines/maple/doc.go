// Package maple implements db.KVDB as a sharded in-memory map with ttl
// based garbage collection.
//
// Layout:
//
//   - Keys are spread over a fixed number of shards (default: one per CPU) by
//     a seeded FNV-1a hash. Each shard holds an xsync.MapOf from key to entry
//     and a deadline heap of keys that carry a ttl.
//
//   - Every write goes through xsync's Compute, so a single key is updated
//     atomically: SetEIfUnset and DeleteIfEqual see and change the entry in
//     one step. Multi-key atomicity is not provided here, the stores layer it
//     on top.
//
//   - An entry carries the write index of its last update. A write with a
//     lower index than the stored entry is ignored (stale write).
//
// Time:
//
// The engine has no clock of its own. TTLs are offsets on the caller's write
// index, and an entry counts as gone as soon as the current index reaches its
// deadline, even before the collector removed it. The collector goroutine
// wakes every GCInterval and physically drops due entries.
//
// Persistence:
//
// Save writes a fuzzy snapshot (concurrent writes allowed) with the format
//
//	"MAPLEDB\x00" | version u8 | write index u64 | count u64 |
//	count * ( keyLen u32 | key | deleteAt u64 | index u64 | valueLen u32 | value )
//
// Load replaces the content and restores the write index.
package maple
