// Package rstore implements store.IStore on top of a redis server using
// github.com/redis/go-redis/v9.
//
// Mapping of the store operations:
//
//   - SetE / SetEIfUnset: SET with PX (and NX), ttl 0 means no expiry
//   - DeleteIfEqual: a Lua compare-and-delete script
//   - Keys: KEYS with the prefix glob-escaped, sorted client side
//   - Exec: MULTI/EXEC, the batch runs without other clients interleaving
//
// Expiry is handled by redis itself, the store keeps no clock. KEYS is O(n) in
// the number of keys, fine for lock keys in a dedicated database but not for a
// shared production keyspace.
//
// Usage:
//
//	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{"localhost:6379"}})
//	s := rstore.NewRedisStore(client, 5*time.Second)
package rstore
