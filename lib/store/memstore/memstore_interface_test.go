package memstore

import (
	"testing"

	"github.com/ValentinKolb/dSync/lib/store"
	storetesting "github.com/ValentinKolb/dSync/lib/store/testing"
)

func Test(t *testing.T) {
	storetesting.RunDataStoreTests(t, "MemStore", func() store.IDataStore {
		return New(nil)
	})
}

func Benchmark(b *testing.B) {
	storetesting.RunDataStoreBenchmarks(b, "MemStore", func() store.IDataStore {
		return New(nil)
	})
}

func TestOptions(t *testing.T) {
	s := New(&Options{Domain: "things", KeySize: 8, MaxValueSize: 16})

	if s.Domain() != "things" {
		t.Errorf("Expected domain %q, got %q", "things", s.Domain())
	}
	if s.KeySize() != 8 {
		t.Errorf("Expected key size 8, got %d", s.KeySize())
	}
	if s.MaxValueSize() != 16 {
		t.Errorf("Expected max value size 16, got %d", s.MaxValueSize())
	}

	if _, err := s.Store(make([]byte, 8), make([]byte, 16)); err != nil {
		t.Errorf("Store within limits failed: %v", err)
	}
	if _, err := s.Store(make([]byte, 64), []byte("v")); err == nil {
		t.Errorf("Expected error for 64-byte key on an 8-byte-key store")
	}
}

func TestClockStrictlyIncreasing(t *testing.T) {
	s := New(nil)
	last := s.Clock()
	for i := 0; i < 1000; i++ {
		next := s.Clock()
		if next <= last {
			t.Fatalf("Clock not strictly increasing: %d then %d", last, next)
		}
		last = next
	}
}
