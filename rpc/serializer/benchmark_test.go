package serializer

import (
	"testing"
	"time"

	"github.com/ValentinKolb/dLock/lib/store"
	"github.com/ValentinKolb/dLock/rpc/common"
)

const (
	benchID    = "invoice:42"
	benchToken = "0f4e9a0c-1b7d-4c55-8e0b-3f7d2b9f6d11"
)

// lockFlowMessages are the messages of one lock round trip, from the client
// request down to the store batches of a lockmgr(dstore) shard.
func lockFlowMessages() map[string]common.Message {
	readKey := "read:" + benchID + ":" + benchToken
	return map[string]common.Message{
		"LockRequest":  *common.NewLockRequest(common.MsgTLCKReadLock, benchID),
		"LockResponse": *common.NewLockResponse(common.MsgTLCKReadLock, benchToken, nil),
		"LockTaken":    *common.NewLockResponse(common.MsgTLCKWriteLock, "", nil),
		"Release":      *common.NewReleaseRequest(common.MsgTLCKWriteRelease, benchID, benchToken),
		"ReadAttempt": *common.NewExecRequest(store.NewBatch().
			SetEIfUnset(readKey, []byte("anyvalue"), 240*time.Second).
			Get("write:" + benchID).Ops),
		"WriteAttempt": *common.NewExecRequest(store.NewBatch().
			SetEIfUnset("write:"+benchID, []byte(benchToken), 30*time.Second).
			Keys("read:" + benchID + ":").Ops),
		"WriteAttemptResult": *common.NewExecResponse([]store.Result{
			{Ok: true},
			{Ok: true, Keys: []string{readKey, "read:" + benchID + ":8d3c1e77-52a4-4b1f-9c07-5e2a61f0b3a8"}},
		}, nil),
		"StoreError": *common.NewExecResponse(nil, store.NewError(store.RetCInternalError, "raft: shard not ready")),
		"LargeValue": *common.NewSetERequest("key", make([]byte, 16*1024), time.Minute),
	}
}

// BenchmarkSerializers reports time per encode and decode and the payload
// size of every message for every serializer
func BenchmarkSerializers(b *testing.B) {
	for name, factory := range testSerializers {
		s := factory()
		for msgName, msg := range lockFlowMessages() {
			data, err := s.Serialize(msg)
			if err != nil {
				b.Fatalf("%s: failed to serialize %s: %v", name, msgName, err)
			}

			b.Run(name+"/Serialize/"+msgName, func(b *testing.B) {
				b.ReportAllocs()
				b.ReportMetric(float64(len(data)), "bytes")
				for i := 0; i < b.N; i++ {
					if _, err := s.Serialize(msg); err != nil {
						b.Fatal(err)
					}
				}
			})

			b.Run(name+"/Deserialize/"+msgName, func(b *testing.B) {
				b.ReportAllocs()
				var out common.Message
				for i := 0; i < b.N; i++ {
					if err := s.Deserialize(data, &out); err != nil {
						b.Fatal(err)
					}
				}
			})
		}
	}
}
