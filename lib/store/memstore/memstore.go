package memstore

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dSync/lib/store"
	"github.com/google/btree"
)

// --------------------------------------------------------------------------
// Constants and Options
// --------------------------------------------------------------------------

const (
	defaultKeySize      = 64
	defaultMaxValueSize = 1024
	defaultBTreeDegree  = 32
)

// Options configures the memstore behavior during initialization.
type Options struct {
	Domain       string // Name of the logical data set (default: "default")
	KeySize      int    // Fixed key length in bytes (default: 64)
	MaxValueSize int    // Largest valid value in bytes (default: 1024)
}

// DefaultOptions returns the default memstore options.
func DefaultOptions() *Options {
	return &Options{
		Domain:       "default",
		KeySize:      defaultKeySize,
		MaxValueSize: defaultMaxValueSize,
	}
}

// --------------------------------------------------------------------------
// Core memstore structure
// --------------------------------------------------------------------------

// entry is a key-value pair with the watermark at which it was written.
type entry struct {
	key     []byte
	value   []byte
	written store.Watermark
}

// memStore implements store.IDataStore on top of an ordered in-memory
// btree. The tree itself is not safe for concurrent use, so all access
// goes through a read-write mutex.
type memStore struct {
	opts  Options
	mu    sync.RWMutex
	tree  *btree.BTreeG[*entry]
	clock atomic.Int64 // last watermark handed out, strictly increasing
}

// New creates a new in-memory data store with the specified options
// (optional).
//
// Thread-safety: the returned store is safe for concurrent use; this
// function itself should only be called once per store during setup.
func New(opts *Options) store.IDataStore {
	if opts == nil {
		opts = DefaultOptions()
	}
	s := &memStore{
		opts: *opts,
		tree: btree.NewG(defaultBTreeDegree, func(a, b *entry) bool {
			return bytes.Compare(a.key, b.key) < 0
		}),
	}
	return s
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store.IDataStore)
// --------------------------------------------------------------------------

func (s *memStore) Clock() store.Watermark {
	// Strictly increasing so that a write always lands after any
	// watermark taken before it, even within one millisecond.
	now := time.Now().UnixMilli()
	for {
		last := s.clock.Load()
		next := now
		if next <= last {
			next = last + 1
		}
		if s.clock.CompareAndSwap(last, next) {
			return store.Watermark(next)
		}
	}
}

func (s *memStore) Domain() string {
	return s.opts.Domain
}

func (s *memStore) KeySize() int {
	return s.opts.KeySize
}

func (s *memStore) MaxValueSize() int {
	return s.opts.MaxValueSize
}

func (s *memStore) Load(w store.Watermark, key []byte) ([]byte, bool, error) {
	if err := store.ValidateKey(s, key); err != nil {
		return nil, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.tree.Get(&entry{key: key})
	if !ok || e.written > w {
		return nil, false, nil
	}

	// Return a copy so callers cannot corrupt the stored value
	value := make([]byte, len(e.value))
	copy(value, e.value)
	return value, true, nil
}

func (s *memStore) Store(key, value []byte) (store.StoreResult, error) {
	if err := store.ValidateKey(s, key); err != nil {
		return 0, err
	}
	if err := store.ValidateValue(s, value); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.tree.Get(&entry{key: key}); ok && bytes.Equal(old.value, value) {
		return store.StoreResultDuplicate, nil
	}

	// Copy key and value to decouple them from the caller's buffers
	e := &entry{
		key:     append([]byte(nil), key...),
		value:   append([]byte(nil), value...),
		written: s.Clock(),
	}
	s.tree.ReplaceOrInsert(e)
	return store.StoreResultStored, nil
}

func (s *memStore) Count(w store.Watermark, start, end []byte) (uint64, error) {
	if err := s.validateRange(start, end); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var count uint64
	s.ascendRange(start, end, func(e *entry) bool {
		if e.written <= w {
			count++
		}
		return true
	})
	return count, nil
}

func (s *memStore) TotalCount() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(s.tree.Len())
}

func (s *memStore) ForEach(w store.Watermark, start, end []byte, visit func(key, value []byte) bool) error {
	if err := s.validateRange(start, end); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	s.ascendRange(start, end, func(e *entry) bool {
		if e.written > w {
			return true
		}
		return visit(e.key, e.value)
	})
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// ascendRange visits all entries in the inclusive range [start, end].
// btree's own AscendRange excludes the upper bound, so iteration stops
// manually once a key beyond end is reached.
//
// The caller must hold at least a read lock.
func (s *memStore) ascendRange(start, end []byte, visit func(*entry) bool) {
	s.tree.AscendGreaterOrEqual(&entry{key: start}, func(e *entry) bool {
		if bytes.Compare(e.key, end) > 0 {
			return false
		}
		return visit(e)
	})
}

// validateRange checks both bounds and their ordering.
func (s *memStore) validateRange(start, end []byte) error {
	if err := store.ValidateKey(s, start); err != nil {
		return err
	}
	if err := store.ValidateKey(s, end); err != nil {
		return err
	}
	if bytes.Compare(start, end) > 0 {
		return fmt.Errorf("invalid range: start is greater than end")
	}
	return nil
}
