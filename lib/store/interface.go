package store

import (
	"fmt"
	"time"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

// Watermark is a logical point in time (milliseconds since the unix epoch).
// Range queries are evaluated as of a watermark so that concurrent local
// writes do not change the result of a query that is repeated with the
// same watermark.
type Watermark int64

// Now returns the current wall clock as a Watermark.
func Now() Watermark {
	return Watermark(time.Now().UnixMilli())
}

// Min returns the smaller of two watermarks.
func (w Watermark) Min(other Watermark) Watermark {
	if other < w {
		return other
	}
	return w
}

// StoreResult is the outcome of a Store operation.
type StoreResult uint8

const (
	// StoreResultStored means the value was new or replaced a differing value.
	StoreResultStored StoreResult = iota
	// StoreResultDuplicate means the exact value was already present.
	StoreResultDuplicate
)

func (r StoreResult) String() string {
	switch r {
	case StoreResultStored:
		return "stored"
	case StoreResultDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// DataStoreFactory is a function type that creates a new data store.
// This is used to abstract the creation of the store from its consumers
// (the sync engine, the shared test suite).
type DataStoreFactory func() IDataStore

// IDataStore is the adapter contract between the sync engine and the
// underlying storage. Keys are opaque fixed-length byte sequences ordered
// byte-wise; values are opaque byte sequences bounded by MaxValueSize.
// All range bounds are inclusive.
//
// Implementations must be safe for concurrent use: Load, Store, Count and
// ForEach may be called from many reconcilers at once, and a completed
// Store must be visible to the next Count/ForEach issued after it returns.
type IDataStore interface {
	// Clock returns the store's current logical time. It must be
	// monotonic enough to serve as a range-query watermark.
	Clock() Watermark
	// Domain identifies the logical data set this adapter represents.
	Domain() string
	// KeySize returns the fixed length in bytes of every key.
	KeySize() int
	// MaxValueSize returns the largest valid value size in bytes.
	MaxValueSize() int
	// Load returns the value for a key as of the given watermark.
	// The boolean return value indicates whether the key was found.
	Load(w Watermark, key []byte) (value []byte, found bool, err error)
	// Store inserts or replaces the value for a key. It is idempotent:
	// storing a value that is byte-identical to the present one returns
	// StoreResultDuplicate and changes nothing.
	Store(key, value []byte) (StoreResult, error)
	// Count returns the number of keys in [start, end] as of the given
	// watermark. Repeating the query with the same watermark returns the
	// same result regardless of concurrent writes.
	Count(w Watermark, start, end []byte) (uint64, error)
	// TotalCount returns the number of keys currently in the store.
	TotalCount() uint64
	// ForEach visits every (key, value) pair in [start, end] as of the
	// given watermark in ascending key order. The visitor returns false
	// to stop early. The callback must not retain the slices it is given.
	ForEach(w Watermark, start, end []byte, visit func(key, value []byte) bool) error
}

// --------------------------------------------------------------------------
// Validation Helpers
// --------------------------------------------------------------------------

// ValidateKey checks that a key has the length the store expects.
func ValidateKey(s IDataStore, key []byte) error {
	if len(key) != s.KeySize() {
		return fmt.Errorf("invalid key length %d (store %q expects %d)", len(key), s.Domain(), s.KeySize())
	}
	return nil
}

// ValidateValue checks that a value does not exceed the store's limit.
func ValidateValue(s IDataStore, value []byte) error {
	if len(value) > s.MaxValueSize() {
		return fmt.Errorf("value of %d bytes exceeds limit of %d (store %q)", len(value), s.MaxValueSize(), s.Domain())
	}
	return nil
}
