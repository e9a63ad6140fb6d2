// Package testing provides the conformance tests and benchmarks every
// db.KVDB implementation has to pass.
//
//	func Test(t *testing.T) {
//		dbtesting.RunKVDBTests(t, "MyDatabase", func() db.KVDB {
//			return NewMyDatabase()
//		})
//	}
//
//	func Benchmark(b *testing.B) {
//		dbtesting.RunKVDBBenchmarks(b, "MyDatabase", factory)
//	}
package testing
