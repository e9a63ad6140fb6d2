// Package cmd implements the dlock command-line interface.
//
// Subpackages:
//
//   - serve: runs a dLock server with store and lock manager shards
//   - kv: raw store operations against a store shard (set, get, del, keys, has, info)
//   - lock: lock operations (read, write, read-release, write-release) and a
//     contention benchmark (perf), either through a lock manager shard of a
//     server or client-side on redis
//   - util: shared flag and configuration helpers
//
// Every flag can also be set as environment variable DLOCK_<FLAG> (dashes
// become underscores), .env and .env.local are loaded on start.
package cmd
