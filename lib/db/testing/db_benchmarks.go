package testing

import (
	"bytes"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/dLock/lib/db"
)

// RunKVDBBenchmarks runs the engine benchmarks. The lock workload is the
// pattern a lock store issues per acquisition attempt.
func RunKVDBBenchmarks(b *testing.B, name string, factory DBFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("SetE", func(b *testing.B) {
			benchmarkSetE(b, factory())
		})

		b.Run("Get", func(b *testing.B) {
			benchmarkGet(b, factory())
		})

		b.Run("KeysWithPrefix", func(b *testing.B) {
			benchmarkKeysWithPrefix(b, factory())
		})

		b.Run("LockWorkload", func(b *testing.B) {
			benchmarkLockWorkload(b, factory())
		})

		b.Run("Save", func(b *testing.B) {
			benchmarkSave(b, factory())
		})
	})
}

func benchmarkSetE(b *testing.B, database db.KVDB) {
	b.Cleanup(func() { database.Close() })
	requireFeature(b, database, db.FeatureSetE)

	var idx atomic.Uint64
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := fmt.Sprintf("test-key-%d", counter%10_000)
			database.SetE(key, []byte("v"), idx.Add(1), 1_000)
			counter++
		}
	})
}

func benchmarkGet(b *testing.B, database db.KVDB) {
	b.Cleanup(func() { database.Close() })
	requireFeature(b, database, db.FeatureSet|db.FeatureGet)

	for i := 0; i < 10_000; i++ {
		database.Set(fmt.Sprintf("test-key-%d", i), []byte("v"), uint64(i+1))
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			database.Get(fmt.Sprintf("test-key-%d", counter%10_000))
			counter++
		}
	})
}

func benchmarkKeysWithPrefix(b *testing.B, database db.KVDB) {
	b.Cleanup(func() { database.Close() })
	requireFeature(b, database, db.FeatureSet|db.FeatureKeys)

	for i := 0; i < 10_000; i++ {
		database.Set(fmt.Sprintf("read:id-%d:%d", i%100, i), []byte("1"), uint64(i+1))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		database.KeysWithPrefix(fmt.Sprintf("read:id-%d:", i%100))
	}
}

// benchmarkLockWorkload runs write-lock attempts (set-if-unset + reader scan +
// compare-and-delete) against a small set of contended ids.
func benchmarkLockWorkload(b *testing.B, database db.KVDB) {
	b.Cleanup(func() { database.Close() })
	requireFeature(b, database, db.FeatureSetEIfUnset|db.FeatureKeys|db.FeatureDeleteIfEqual)

	var idx atomic.Uint64
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			id := counter % 16
			token := []byte(fmt.Sprintf("token-%d", counter))
			writeKey := fmt.Sprintf("write:%d", id)
			database.SetEIfUnset(writeKey, token, idx.Add(1), 30_000)
			database.KeysWithPrefix(fmt.Sprintf("read:%d:", id))
			database.DeleteIfEqual(writeKey, token, idx.Add(1))
			counter++
		}
	})
}

func benchmarkSave(b *testing.B, database db.KVDB) {
	b.Cleanup(func() { database.Close() })
	requireFeature(b, database, db.FeatureSet|db.FeatureSave)

	for i := 0; i < 100_000; i++ {
		database.Set(fmt.Sprintf("test-key-%d", i), []byte("test-value"), uint64(i+1))
	}

	var buf bytes.Buffer
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		if err := database.Save(&buf); err != nil {
			b.Fatal(err)
		}
	}
}
