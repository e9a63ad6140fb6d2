// Package lstore implements store.IStore in process on top of a db.KVDB
// engine. Nothing is persisted.
//
// Write index: every write gets the wall clock in milliseconds, forced to be
// strictly increasing. Since the engine measures ttl in index units, a ttl of
// 30s really expires after 30 seconds. Reads advance the engine clock first,
// so an expired lock key disappears on time even if nobody writes.
//
// Atomicity: batches that contain a write (and all single writes) hold the
// store lock exclusively, read-only work shares it. That makes every lock
// acquisition batch atomic with respect to every other store operation.
package lstore
