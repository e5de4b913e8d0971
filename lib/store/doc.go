// Package store defines the adapter contract between the sync engine and
// the node's local storage.
//
// The engine never owns data: it reads and writes through an IDataStore
// that the hosting application provides. The contract is deliberately
// small - point load/store, bounded range counting and iteration, and a
// logical clock - so that any ordered key-value storage (in-memory trees,
// LSM engines, SQL tables with a blob key column) can be adapted.
//
// All range queries take a Watermark. A store must answer a query as of
// that watermark: entries written after it are invisible, which gives the
// reconciliation protocol a stable snapshot view even while local writes
// continue concurrently.
package store
