// Package storetesting provides the conformance suite for store.IStore
// implementations.
//
//	func TestStore(t *testing.T) {
//		storetesting.RunStoreTests(t, "MyStore", func(t *testing.T) storetesting.Env {
//			s := NewMyStore()
//			t.Cleanup(func() { _ = s.Close() })
//			return storetesting.Env{Store: s, Wait: time.Sleep}
//		})
//	}
package storetesting
