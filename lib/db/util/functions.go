package util

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// GenerateSeed returns a random seed for shard selection.
func GenerateSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// HashString hashes s with FNV-1a mixed with seed.
func HashString(s string, seed uint64) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)

	hash := uint64(offset64) ^ seed
	for i := 0; i < len(s); i++ {
		hash ^= uint64(s[i])
		hash *= prime64
	}
	return hash
}

// ShardIndex maps key onto one of n shards.
func ShardIndex(key string, seed uint64, n int) int {
	// the low bits of FNV are weak for short keys
	return int((HashString(key, seed) >> 7) % uint64(n))
}

// NowMillis returns the wall clock in unix milliseconds, the write index unit
// used by all stores.
func NowMillis() uint64 {
	return uint64(time.Now().UnixMilli())
}
