package testing

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/ValentinKolb/dSync/lib/store"
)

// RunDataStoreTests runs a conformance test suite against an IDataStore
// implementation. The factory must return a fresh, empty store per call.
func RunDataStoreTests(t *testing.T, name string, factory store.DataStoreFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Store&Load", func(t *testing.T) {
			testStoreLoad(t, factory())
		})

		t.Run("Idempotence", func(t *testing.T) {
			testIdempotence(t, factory())
		})

		t.Run("OversizedValue", func(t *testing.T) {
			testOversizedValue(t, factory())
		})

		t.Run("InvalidKey", func(t *testing.T) {
			testInvalidKey(t, factory())
		})

		t.Run("CountMatchesForEach", func(t *testing.T) {
			testCountMatchesForEach(t, factory())
		})

		t.Run("WatermarkSnapshot", func(t *testing.T) {
			testWatermarkSnapshot(t, factory())
		})

		t.Run("ForEachEarlyStop", func(t *testing.T) {
			testForEachEarlyStop(t, factory())
		})

		t.Run("ConcurrentAccess", func(t *testing.T) {
			testConcurrentAccess(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Key builds a fixed-length key for the store with the given fill pattern
// and an index encoded in the trailing bytes.
func Key(s store.IDataStore, i int) []byte {
	k := make([]byte, s.KeySize())
	for j := range k {
		k[j] = byte(i >> (8 * (len(k) - 1 - j)))
	}
	return k
}

// FullRange returns the minimum and maximum key of the store's key space.
func FullRange(s store.IDataStore) (start, end []byte) {
	start = make([]byte, s.KeySize())
	end = make([]byte, s.KeySize())
	for i := range end {
		end[i] = 0xff
	}
	return start, end
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testStoreLoad(t *testing.T, s store.IDataStore) {
	key := Key(s, 1)
	value := []byte("test-value")

	res, err := s.Store(key, value)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if res != store.StoreResultStored {
		t.Errorf("Expected StoreResultStored, got %s", res)
	}

	got, found, err := s.Load(s.Clock(), key)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !found {
		t.Fatalf("Expected key to be found after Store")
	}
	if !bytes.Equal(got, value) {
		t.Errorf("Expected value %q, got %q", value, got)
	}

	// Mutating the returned slice must not affect the stored value
	got[0] = 'X'
	again, _, _ := s.Load(s.Clock(), key)
	if bytes.Equal(got, again) {
		t.Errorf("Load should return a copy, not a reference to the stored value")
	}

	_, found, err = s.Load(s.Clock(), Key(s, 2))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if found {
		t.Errorf("Expected missing key to report found=false")
	}
}

func testIdempotence(t *testing.T, s store.IDataStore) {
	key := Key(s, 1)
	other := Key(s, 2)

	if _, err := s.Store(other, []byte("other")); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	res, err := s.Store(key, []byte("v1"))
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if res != store.StoreResultStored {
		t.Errorf("First store: expected StoreResultStored, got %s", res)
	}

	res, err = s.Store(key, []byte("v1"))
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if res != store.StoreResultDuplicate {
		t.Errorf("Second store of same value: expected StoreResultDuplicate, got %s", res)
	}

	res, err = s.Store(key, []byte("v2"))
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if res != store.StoreResultStored {
		t.Errorf("Store of differing value: expected StoreResultStored, got %s", res)
	}

	// The unrelated key must be untouched
	got, found, err := s.Load(s.Clock(), other)
	if err != nil || !found || !bytes.Equal(got, []byte("other")) {
		t.Errorf("Unrelated key changed by idempotent store: value=%q found=%v err=%v", got, found, err)
	}
}

func testOversizedValue(t *testing.T, s store.IDataStore) {
	key := Key(s, 1)
	oversized := make([]byte, s.MaxValueSize()+1)

	if _, err := s.Store(key, oversized); err == nil {
		t.Errorf("Expected error storing value of %d bytes (limit %d)", len(oversized), s.MaxValueSize())
	}

	if _, found, _ := s.Load(s.Clock(), key); found {
		t.Errorf("Rejected store must not mutate the store")
	}

	// A value exactly at the limit is valid
	if _, err := s.Store(key, make([]byte, s.MaxValueSize())); err != nil {
		t.Errorf("Value at the size limit should be accepted: %v", err)
	}
}

func testInvalidKey(t *testing.T, s store.IDataStore) {
	short := make([]byte, s.KeySize()-1)

	if _, err := s.Store(short, []byte("v")); err == nil {
		t.Errorf("Expected error for key of wrong length")
	}
	if _, _, err := s.Load(s.Clock(), short); err == nil {
		t.Errorf("Expected error for key of wrong length")
	}
	start, end := FullRange(s)
	if _, err := s.Count(s.Clock(), short, end); err == nil {
		t.Errorf("Expected error for range start of wrong length")
	}
	if _, err := s.Count(s.Clock(), end, start); err == nil {
		t.Errorf("Expected error for inverted range")
	}
}

func testCountMatchesForEach(t *testing.T, s store.IDataStore) {
	for i := 0; i < 100; i++ {
		if _, err := s.Store(Key(s, i*3), []byte(fmt.Sprintf("value-%d", i))); err != nil {
			t.Fatalf("Store failed: %v", err)
		}
	}

	w := s.Clock()
	start, end := FullRange(s)

	// Check the full range and a few sub-ranges
	ranges := [][2][]byte{
		{start, end},
		{Key(s, 10), Key(s, 200)},
		{Key(s, 0), Key(s, 0)},
		{Key(s, 1), Key(s, 2)}, // empty gap
	}

	for _, r := range ranges {
		count, err := s.Count(w, r[0], r[1])
		if err != nil {
			t.Fatalf("Count failed: %v", err)
		}

		var visited uint64
		err = s.ForEach(w, r[0], r[1], func(key, value []byte) bool {
			visited++
			return true
		})
		if err != nil {
			t.Fatalf("ForEach failed: %v", err)
		}

		if count != visited {
			t.Errorf("Count=%d but ForEach visited %d for range [%x, %x]", count, visited, r[0][:4], r[1][:4])
		}
	}

	if total := s.TotalCount(); total != 100 {
		t.Errorf("Expected TotalCount=100, got %d", total)
	}
}

func testWatermarkSnapshot(t *testing.T, s store.IDataStore) {
	start, end := FullRange(s)

	for i := 0; i < 10; i++ {
		if _, err := s.Store(Key(s, i), []byte("before")); err != nil {
			t.Fatalf("Store failed: %v", err)
		}
	}

	w := s.Clock()

	// Writes after the watermark must be invisible to queries at it
	for i := 10; i < 20; i++ {
		if _, err := s.Store(Key(s, i), []byte("after")); err != nil {
			t.Fatalf("Store failed: %v", err)
		}
	}

	count, err := s.Count(w, start, end)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 10 {
		t.Errorf("Expected count of 10 at old watermark, got %d", count)
	}

	if _, found, _ := s.Load(w, Key(s, 15)); found {
		t.Errorf("Key written after the watermark must not be loadable at it")
	}

	// Re-querying with the same watermark is idempotent
	again, _ := s.Count(w, start, end)
	if again != count {
		t.Errorf("Repeated count at same watermark changed: %d -> %d", count, again)
	}

	// The current watermark sees everything
	now, _ := s.Count(s.Clock(), start, end)
	if now != 20 {
		t.Errorf("Expected count of 20 at current watermark, got %d", now)
	}
}

func testForEachEarlyStop(t *testing.T, s store.IDataStore) {
	for i := 0; i < 50; i++ {
		if _, err := s.Store(Key(s, i), []byte("v")); err != nil {
			t.Fatalf("Store failed: %v", err)
		}
	}

	start, end := FullRange(s)
	var visited int
	err := s.ForEach(s.Clock(), start, end, func(key, value []byte) bool {
		visited++
		return visited < 7
	})
	if err != nil {
		t.Fatalf("ForEach failed: %v", err)
	}
	if visited != 7 {
		t.Errorf("Expected iteration to stop after 7 visits, got %d", visited)
	}
}

func testConcurrentAccess(t *testing.T, s store.IDataStore) {
	const (
		writers       = 4
		keysPerWriter = 200
	)

	var wg sync.WaitGroup
	for g := 0; g < writers; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < keysPerWriter; i++ {
				key := Key(s, g*keysPerWriter+i)
				if _, err := s.Store(key, []byte(fmt.Sprintf("w%d-%d", g, i))); err != nil {
					t.Errorf("Store failed: %v", err)
					return
				}
				if _, found, err := s.Load(s.Clock(), key); err != nil || !found {
					t.Errorf("Load after Store failed: found=%v err=%v", found, err)
					return
				}
			}
		}(g)
	}

	// Concurrent range scans must not corrupt state
	done := make(chan struct{})
	go func() {
		defer close(done)
		start, end := FullRange(s)
		for i := 0; i < 100; i++ {
			w := s.Clock()
			count, err := s.Count(w, start, end)
			if err != nil {
				t.Errorf("Count failed: %v", err)
				return
			}
			var visited uint64
			if err := s.ForEach(w, start, end, func(k, v []byte) bool {
				visited++
				return true
			}); err != nil {
				t.Errorf("ForEach failed: %v", err)
				return
			}
			if visited != count {
				t.Errorf("Snapshot mismatch under concurrency: count=%d visited=%d", count, visited)
				return
			}
		}
	}()

	wg.Wait()
	<-done

	if total := s.TotalCount(); total != writers*keysPerWriter {
		t.Errorf("Expected %d keys, got %d", writers*keysPerWriter, total)
	}
}
