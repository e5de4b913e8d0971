// Package testing provides a reusable conformance test suite and
// benchmarks for implementations of the store.IDataStore contract.
//
// Any adapter implementation can validate itself with a single test:
//
//	func Test(t *testing.T) {
//		storetesting.RunDataStoreTests(t, "MyStore", func() store.IDataStore {
//			return mystore.New(nil)
//		})
//	}
package testing
