package maple

import (
	"testing"
	"time"

	"github.com/ValentinKolb/dLock/lib/db"
	dbtesting "github.com/ValentinKolb/dLock/lib/db/testing"
)

func Test(t *testing.T) {
	dbtesting.RunKVDBTests(t, "MapleDB", func() db.KVDB {
		return NewMapleDB(nil)
	})
}

func TestSingleShard(t *testing.T) {
	dbtesting.RunKVDBTests(t, "MapleDB(1 shard)", func() db.KVDB {
		return NewMapleDB(&DBOptions{NumShards: 1})
	})
}

func TestGarbageCollection(t *testing.T) {
	database := NewMapleDB(&DBOptions{NumShards: 2, GCInterval: 5 * time.Millisecond}).(*mapleImpl)
	defer database.Close()

	database.SetE("short", []byte("x"), 1, 10)
	database.SetE("long", []byte("x"), 2, 1_000)
	database.Set("forever", []byte("x"), 3)
	database.SetWriteIdx(20)

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, stillThere := database.shard("short").Data.Load("short")
		if !stillThere {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expired entry was never collected")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, ok := database.shard("long").Data.Load("long"); !ok {
		t.Error("entry with a pending ttl was collected")
	}
	if _, ok := database.shard("forever").Data.Load("forever"); !ok {
		t.Error("entry without ttl was collected")
	}
}

func TestRewriteMovesDeadline(t *testing.T) {
	database := NewMapleDB(&DBOptions{NumShards: 1, GCInterval: time.Hour}).(*mapleImpl)
	defer database.Close()

	database.SetE("k", []byte("a"), 1, 10)
	database.Set("k", []byte("b"), 2)
	database.SetWriteIdx(100)
	database.collect()

	if value, ok := database.Get("k"); !ok || string(value) != "b" {
		t.Fatalf("rewritten entry without ttl must survive collection, got %q (ok=%v)", value, ok)
	}
	if pending := database.shards[0].Pending(); pending != 0 {
		t.Errorf("no deadlines should be pending, got %d", pending)
	}
}

func TestGetInfo(t *testing.T) {
	database := NewMapleDB(nil)
	defer database.Close()

	database.SetE("a", []byte("123"), 1, 0)
	database.SetE("b", []byte("4"), 2, 1)
	database.SetWriteIdx(5)

	info := database.GetInfo()
	if info.DbType != db.ImplMaple {
		t.Errorf("unexpected db type %s", info.DbType)
	}
	if info.SizeBytes != len("a")+3+16 {
		t.Errorf("size should only count the live entry, got %d", info.SizeBytes)
	}
	if len(info.SupportedFeatures) != 11 {
		t.Errorf("expected all 11 features, got %v", info.SupportedFeatures)
	}
}

func Benchmark(b *testing.B) {
	dbtesting.RunKVDBBenchmarks(b, "MapleDB", func() db.KVDB {
		return NewMapleDB(nil)
	})
}
