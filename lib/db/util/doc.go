// Package util provides helpers shared by the db.KVDB implementations.
//
// The package contains:
//   - functions: seeding, key hashing, shard selection and the millisecond clock
//   - mapheap: a deadline priority queue with key based access used for ttl garbage collection
package util
