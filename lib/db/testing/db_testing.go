package testing

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/dLock/lib/db"
)

// DBFactory is a function that creates a new instance of a KVDB implementation
type DBFactory func() db.KVDB

// RunKVDBTests runs the conformance suite for a KVDB implementation.
func RunKVDBTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Set&Get", func(t *testing.T) {
			testSetGet(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("DeleteIfEqual", func(t *testing.T) {
			testDeleteIfEqual(t, factory())
		})

		t.Run("Has", func(t *testing.T) {
			testHas(t, factory())
		})

		t.Run("SetEIfUnset", func(t *testing.T) {
			testSetEIfUnset(t, factory())
		})

		t.Run("KeyExpiry", func(t *testing.T) {
			testKeyExpiry(t, factory())
		})

		t.Run("ManyExpiringKeys", func(t *testing.T) {
			testManyExpiringKeys(t, factory())
		})

		t.Run("KeysWithPrefix", func(t *testing.T) {
			testKeysWithPrefix(t, factory())
		})

		t.Run("StaleWrites", func(t *testing.T) {
			testStaleWrites(t, factory())
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, factory())
		})

		t.Run("ConcurrentSetIfUnset", func(t *testing.T) {
			testConcurrentSetIfUnset(t, factory())
		})

		t.Run("RealisticUsage", func(t *testing.T) {
			testRealisticUsage(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the database supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, database db.KVDB, feature db.Feature) {
	if !database.SupportsFeature(feature) {
		t.Skipf("feature %s not supported", feature)
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testSetGet(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet)

	testKey := "test-key"
	testValue1 := []byte("test-value1")
	testValue2 := []byte("test-value2")

	database.Set(testKey, testValue1, 1)

	result, exists := database.Get(testKey)
	if !exists {
		t.Errorf("Expected key %s to exist after Set", testKey)
	}
	if !bytes.Equal(result, testValue1) {
		t.Errorf("Expected value %s, got %s", testValue1, result)
	}

	database.Set(testKey, testValue2, 2)

	result, exists = database.Get(testKey)
	if !exists || !bytes.Equal(result, testValue2) {
		t.Errorf("Expected value %s, got %s (exists=%v)", testValue2, result, exists)
	}

	if _, exists = database.Get("nonexistent-key"); exists {
		t.Errorf("Expected nonexistent key to return exists=false")
	}

	retrievedValue, _ := database.Get(testKey)
	retrievedValue[0] = 'X'

	originalValue, _ := database.Get(testKey)
	if bytes.Equal(retrievedValue, originalValue) {
		t.Errorf("Get should return a copy, not a reference to the stored value")
	}
}

func testDelete(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet|db.FeatureDelete)

	testKey := "delete-test-key"
	database.Set(testKey, []byte("delete-test-value"), 1)

	if !database.Delete(testKey, 10) {
		t.Errorf("Delete of existing key %s should report true", testKey)
	}
	if _, exists := database.Get(testKey); exists {
		t.Errorf("Expected key %s to not exist after Delete", testKey)
	}
	if database.Has(testKey) {
		t.Errorf("Expected Has(%s) to be false after Delete", testKey)
	}
	if database.Delete(testKey, 11) {
		t.Errorf("Second Delete of %s should report false", testKey)
	}
	if database.Delete("nonexistent-key", 12) {
		t.Errorf("Delete of nonexistent key should report false")
	}
}

func testDeleteIfEqual(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSetE|db.FeatureGet|db.FeatureDeleteIfEqual)

	key := "write:job"
	database.SetE(key, []byte("token-a"), 1, 100)

	if database.DeleteIfEqual(key, []byte("token-b"), 2) {
		t.Errorf("DeleteIfEqual with foreign value must not delete")
	}
	if value, exists := database.Get(key); !exists || string(value) != "token-a" {
		t.Errorf("Entry must survive a foreign DeleteIfEqual, got %q (exists=%v)", value, exists)
	}
	if !database.DeleteIfEqual(key, []byte("token-a"), 3) {
		t.Errorf("DeleteIfEqual with owning value should delete")
	}
	if database.Has(key) {
		t.Errorf("Key should be gone after DeleteIfEqual")
	}
	if database.DeleteIfEqual(key, []byte("token-a"), 4) {
		t.Errorf("DeleteIfEqual on a missing key should report false")
	}

	// an expired entry can't be deleted any more, its value no longer exists
	database.SetE(key, []byte("token-c"), 10, 5)
	database.SetWriteIdx(15)
	if database.DeleteIfEqual(key, []byte("token-c"), 15) {
		t.Errorf("DeleteIfEqual on an expired entry should report false")
	}
}

func testHas(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSetE|db.FeatureHas)

	testKey := "has-test-key"

	if database.Has(testKey) {
		t.Errorf("Expected Has to return false for nonexistent key")
	}

	database.SetE(testKey, []byte("v"), 1, 10)
	if !database.Has(testKey) {
		t.Errorf("Expected Has to return true after SetE")
	}

	database.SetWriteIdx(11)
	if database.Has(testKey) {
		t.Errorf("Expected Has to return false after the ttl passed")
	}
}

func testSetEIfUnset(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSetEIfUnset|db.FeatureGet)

	testKey := "test-key"
	testValue1 := []byte("test-value")
	testValue2 := []byte("test-value2")

	if !database.SetEIfUnset(testKey, testValue1, 1, 10) {
		t.Errorf("SetEIfUnset on an empty key should store")
	}

	result, exists := database.Get(testKey)
	if !exists || !bytes.Equal(result, testValue1) {
		t.Errorf("Expected value %s, got %s (exists=%v)", testValue1, result, exists)
	}

	if database.SetEIfUnset(testKey, testValue2, 5, 20) {
		t.Errorf("SetEIfUnset on a live key should not store")
	}

	result, _ = database.Get(testKey)
	if !bytes.Equal(result, testValue1) {
		t.Errorf("Expected value %s, got %s", testValue1, result)
	}

	database.SetWriteIdx(11)
	if _, exists = database.Get(testKey); exists {
		t.Errorf("Expected key %s to not exist after ttl expired", testKey)
	}

	// an expired key counts as unset
	if !database.SetEIfUnset(testKey, testValue2, 12, 0) {
		t.Errorf("SetEIfUnset on an expired key should store")
	}
	if result, _ = database.Get(testKey); !bytes.Equal(result, testValue2) {
		t.Errorf("Expected value %s, got %s", testValue2, result)
	}
}

func testKeyExpiry(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSetE|db.FeatureGet|db.FeatureHas)

	testKey := "expiring-key"
	testValue := []byte("expiring-value")

	database.SetE(testKey, testValue, 100, 20)

	database.SetWriteIdx(119)
	if result, exists := database.Get(testKey); !exists || !bytes.Equal(result, testValue) {
		t.Errorf("Key should still exist at index 119")
	}

	database.SetWriteIdx(120)
	if _, exists := database.Get(testKey); exists {
		t.Errorf("Key should have been deleted at index 120 (get)")
	}
	if database.Has(testKey) {
		t.Errorf("Key should not exist at index 120 (has)")
	}

	// lower indices are ignored, time does not go backwards
	database.SetWriteIdx(110)
	if database.WriteIdx() != 120 {
		t.Errorf("Write index moved backwards to %d", database.WriteIdx())
	}
	if database.Has(testKey) {
		t.Errorf("Expired key came back after a lower SetWriteIdx")
	}

	testKey3 := "not-expiring-key"
	database.SetE(testKey3, []byte("forever"), 300, 0)
	database.SetWriteIdx(1_000_000)
	if !database.Has(testKey3) {
		t.Errorf("Key with TTL=0 should never expire")
	}
}

func testManyExpiringKeys(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSetE|db.FeatureGet)

	numKeys := 1000
	baseIndex := uint64(1000)

	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("expire-key-%d", i)
		database.SetE(key, []byte(fmt.Sprintf("expire-value-%d", i)), baseIndex, uint64(i%100))
		if !database.Has(key) {
			t.Fatalf("Key %s not found after Set", key)
		}
	}

	for offset := uint64(0); offset <= 100; offset += 10 {
		database.SetWriteIdx(baseIndex + offset)
		for i := 0; i < numKeys; i++ {
			key := fmt.Sprintf("expire-key-%d", i)
			ttl := uint64(i % 100)
			_, exists := database.Get(key)
			shouldExist := ttl == 0 || ttl > offset
			if exists != shouldExist {
				t.Fatalf("Key %s at offset %d (TTL=%d): exists=%v want %v", key, offset, ttl, exists, shouldExist)
			}
		}
	}
}

func testKeysWithPrefix(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSetE|db.FeatureKeys|db.FeatureDelete)

	database.SetE("read:a:3", []byte("x"), 1, 0)
	database.SetE("read:a:1", []byte("x"), 2, 0)
	database.SetE("read:a:2", []byte("x"), 3, 10)
	database.SetE("read:ab:1", []byte("x"), 4, 0)
	database.SetE("write:a", []byte("x"), 5, 0)

	got := fmt.Sprint(database.KeysWithPrefix("read:a:"))
	if want := "[read:a:1 read:a:2 read:a:3]"; got != want {
		t.Errorf("KeysWithPrefix = %s, want %s", got, want)
	}

	database.Delete("read:a:3", 6)
	database.SetWriteIdx(13)
	got = fmt.Sprint(database.KeysWithPrefix("read:a:"))
	if want := "[read:a:1]"; got != want {
		t.Errorf("KeysWithPrefix after delete and expiry = %s, want %s", got, want)
	}

	if keys := database.KeysWithPrefix("nothing:"); keys == nil || len(keys) != 0 {
		t.Errorf("KeysWithPrefix without matches should return an empty slice, got %#v", keys)
	}
	if n := len(database.KeysWithPrefix("")); n != 3 {
		t.Errorf("empty prefix should list all 3 live keys, got %d", n)
	}
}

func testStaleWrites(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet)

	database.Set("k", []byte("new"), 10)
	database.Set("k", []byte("old"), 5)

	if value, _ := database.Get("k"); string(value) != "new" {
		t.Errorf("a write with a lower index must be ignored, got %q", value)
	}
}

func testSaveLoad(t *testing.T, factory DBFactory) {
	database := factory()
	database2 := factory()

	defer database.Close()
	defer database2.Close()

	requireFeature(t, database, db.FeatureSetE|db.FeatureGet|db.FeatureSave|db.FeatureLoad)

	numEntries := 1000
	for i := 0; i < numEntries; i++ {
		var ttl uint64
		if i%2 == 0 {
			ttl = 10_000
		}
		database.SetE(fmt.Sprintf("save-load-key-%d", i), []byte(fmt.Sprintf("save-load-value-%d", i)), uint64(i+1), ttl)
	}
	database.SetE("short-lived", []byte("gone"), 1001, 1)
	database.SetWriteIdx(1002)

	var buf bytes.Buffer
	if err := database.Save(&buf); err != nil {
		t.Fatalf("Unexpected error during Save: %v", err)
	}
	if err := database2.Load(&buf); err != nil {
		t.Fatalf("Unexpected error during Load: %v", err)
	}

	if database2.WriteIdx() != database.WriteIdx() {
		t.Errorf("write index not restored: %d != %d", database2.WriteIdx(), database.WriteIdx())
	}
	if database2.Has("short-lived") {
		t.Errorf("expired entries must not be restored")
	}

	for i := 0; i < numEntries; i++ {
		key := fmt.Sprintf("save-load-key-%d", i)
		value, exists := database2.Get(key)
		if !exists || string(value) != fmt.Sprintf("save-load-value-%d", i) {
			t.Fatalf("Key %s not restored correctly: %q (exists=%v)", key, value, exists)
		}
	}

	// ttl survives the round trip: even keys were written at i+1 with ttl 10000
	database2.SetWriteIdx(1 + 10_000)
	if database2.Has("save-load-key-0") {
		t.Errorf("ttl of save-load-key-0 was not restored")
	}
	if !database2.Has("save-load-key-1") {
		t.Errorf("save-load-key-1 has no ttl and must survive")
	}

	if err := database2.Load(bytes.NewReader([]byte("garbage!"))); err == nil {
		t.Errorf("Load should reject data without the magic header")
	}
}

func testEdgeCases(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSet|db.FeatureGet)

	database.Set("", []byte("value for empty key"), 1)
	if result, exists := database.Get(""); !exists || string(result) != "value for empty key" {
		t.Errorf("Empty key not stored correctly")
	}

	database.Set("nil-value-key", nil, 2)
	if result, exists := database.Get("nil-value-key"); !exists || len(result) != 0 {
		t.Errorf("Nil value not stored as empty value: %v (exists=%v)", result, exists)
	}

	largeKey := string(make([]byte, 1000))
	database.Set(largeKey, []byte("large key"), 3)
	if result, exists := database.Get(largeKey); !exists || string(result) != "large key" {
		t.Errorf("Large key not stored correctly")
	}

	unicodeKey := "read:ünïcødé/😀:token"
	database.Set(unicodeKey, []byte("x"), 4)
	if !database.Has(unicodeKey) {
		t.Errorf("Unicode key not stored")
	}
}

func testConcurrentSetIfUnset(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSetEIfUnset)

	const workers = 32
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(id int) {
			defer wg.Done()
			if database.SetEIfUnset("write:contended", []byte(fmt.Sprint(id)), uint64(id+1), 0) {
				winners.Add(1)
			}
		}(w)
	}
	wg.Wait()

	if winners.Load() != 1 {
		t.Errorf("exactly one SetEIfUnset may win, got %d", winners.Load())
	}
}

func testRealisticUsage(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureSetE|db.FeatureGet|db.FeatureDelete)

	numWorkers := 8
	opsPerWorker := 2000
	var idx atomic.Uint64

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func(workerId int) {
			defer wg.Done()
			for i := 0; i < opsPerWorker; i++ {
				key := fmt.Sprintf("key-%d-%d", workerId, i%100)
				if i%5 == 0 {
					key = fmt.Sprintf("hot-key-%d", i%10)
				}
				switch i % 10 {
				case 7, 8:
					database.Get(key)
				case 9:
					database.Delete(key, idx.Add(1))
				default:
					database.SetE(key, []byte(key), idx.Add(1), 0)
				}
			}
		}(w)
	}
	wg.Wait()

	// every worker-private key that still exists must hold its own name
	for w := 0; w < numWorkers; w++ {
		for i := 0; i < 100; i++ {
			key := fmt.Sprintf("key-%d-%d", w, i)
			if value, exists := database.Get(key); exists && string(value) != key {
				t.Errorf("Key %s holds %q", key, value)
			}
		}
	}
}
