package testing

import (
	"testing"

	"github.com/ValentinKolb/dSync/lib/store"
)

// RunDataStoreBenchmarks runs a benchmark suite against an IDataStore
// implementation.
func RunDataStoreBenchmarks(b *testing.B, name string, factory store.DataStoreFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("Store", func(b *testing.B) {
			s := factory()
			value := []byte("benchmark-value")
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := s.Store(Key(s, i), value); err != nil {
					b.Fatalf("Store failed: %v", err)
				}
			}
		})

		b.Run("StoreDuplicate", func(b *testing.B) {
			s := factory()
			key := Key(s, 1)
			value := []byte("benchmark-value")
			if _, err := s.Store(key, value); err != nil {
				b.Fatalf("Store failed: %v", err)
			}
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := s.Store(key, value); err != nil {
					b.Fatalf("Store failed: %v", err)
				}
			}
		})

		b.Run("Load", func(b *testing.B) {
			s := factory()
			const keys = 1024
			for i := 0; i < keys; i++ {
				if _, err := s.Store(Key(s, i), []byte("benchmark-value")); err != nil {
					b.Fatalf("Store failed: %v", err)
				}
			}
			w := s.Clock()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, _, err := s.Load(w, Key(s, i%keys)); err != nil {
					b.Fatalf("Load failed: %v", err)
				}
			}
		})

		b.Run("Count", func(b *testing.B) {
			s := factory()
			const keys = 4096
			for i := 0; i < keys; i++ {
				if _, err := s.Store(Key(s, i), []byte("v")); err != nil {
					b.Fatalf("Store failed: %v", err)
				}
			}
			w := s.Clock()
			start, end := FullRange(s)
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := s.Count(w, start, end); err != nil {
					b.Fatalf("Count failed: %v", err)
				}
			}
		})

		b.Run("MixedParallel", func(b *testing.B) {
			s := factory()
			value := []byte("benchmark-value")
			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				i := 0
				for pb.Next() {
					key := Key(s, i%2048)
					if i%4 == 0 {
						if _, err := s.Store(key, value); err != nil {
							b.Errorf("Store failed: %v", err)
							return
						}
					} else {
						if _, _, err := s.Load(s.Clock(), key); err != nil {
							b.Errorf("Load failed: %v", err)
							return
						}
					}
					i++
				}
			})
		})
	})
}
