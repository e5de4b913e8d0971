// Package memstore provides an ordered in-memory implementation of the
// store.IDataStore contract, backed by a btree.
//
// It is the engine used by the serve and perf commands and by the test
// suites. Every entry remembers the watermark at which it was written,
// so range counts and scans taken with an older watermark are stable
// against concurrent writes.
package memstore
