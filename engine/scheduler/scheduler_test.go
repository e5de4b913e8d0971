package scheduler

import (
	"encoding/binary"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dSync/engine/common"
	"github.com/ValentinKolb/dSync/lib/store"
	"github.com/ValentinKolb/dSync/lib/store/memstore"
)

// fakeSession pairs local stores with remote ones and serves the remote
// side of the protocol in-process.
type fakeSession struct {
	local  map[string]store.IDataStore
	remote map[string]store.IDataStore
	closed atomic.Bool
}

func newFakeSession(domains ...string) *fakeSession {
	f := &fakeSession{
		local:  make(map[string]store.IDataStore),
		remote: make(map[string]store.IDataStore),
	}
	for _, d := range domains {
		f.local[d] = memstore.New(&memstore.Options{Domain: d, KeySize: 8, MaxValueSize: 64})
		f.remote[d] = memstore.New(&memstore.Options{Domain: d, KeySize: 8, MaxValueSize: 64})
	}
	return f
}

func (f *fakeSession) Domains() []string {
	var out []string
	for d := range f.local {
		out = append(out, d)
	}
	return out
}

func (f *fakeSession) StoreFor(domain string) (store.IDataStore, bool) {
	st, ok := f.local[domain]
	return st, ok
}

func (f *fakeSession) IsClosed() bool      { return f.closed.Load() }
func (f *fakeSession) RemoteAddress() string { return "fake:9420" }

func (f *fakeSession) RangeCount(domain string, start, end []byte, w store.Watermark) (uint64, store.Watermark, error) {
	if f.closed.Load() {
		return 0, 0, errors.New("session closed")
	}
	st := f.remote[domain]
	cw := w.Min(st.Clock())
	count, err := st.Count(cw, start, end)
	return count, cw, err
}

func (f *fakeSession) KeyList(domain string, start, end []byte, w store.Watermark) ([][]byte, store.Watermark, error) {
	if f.closed.Load() {
		return nil, 0, errors.New("session closed")
	}
	st := f.remote[domain]
	cw := w.Min(st.Clock())
	var keys [][]byte
	err := st.ForEach(cw, start, end, func(key, _ []byte) bool {
		keys = append(keys, append([]byte(nil), key...))
		return true
	})
	return keys, cw, err
}

func (f *fakeSession) RequestRecord(domain string, key []byte, _ int) ([]byte, bool, error) {
	if f.closed.Load() {
		return nil, false, errors.New("session closed")
	}
	st := f.remote[domain]
	return st.Load(st.Clock(), key)
}

func (f *fakeSession) PushRecord(domain string, key, value []byte) error {
	if f.closed.Load() {
		return errors.New("session closed")
	}
	_, err := f.remote[domain].Store(key, value)
	return err
}

func seed(t *testing.T, st store.IDataStore, base, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, uint64(base+i)*0x0101010101010101)
		if _, err := st.Store(key, []byte("v")); err != nil {
			t.Fatal(err)
		}
	}
}

func testReconcilerConf() common.ReconcilerConf {
	return common.ReconcilerConf{
		ExactExchangeThreshold: 8,
		RangeBudgetPerTurn:     4,
		IdleRestartSec:         0, // restart immediately once converged
		MaxInFlightPerSession:  2,
		MaxInFlightGlobal:      4,
		Workers:                2,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestSchedulerConvergesAllDomains(t *testing.T) {
	s := New(testReconcilerConf())
	s.Start()
	defer s.Close()

	f := newFakeSession("alpha", "beta")
	seed(t, f.remote["alpha"], 0, 40)
	seed(t, f.local["alpha"], 100, 10)
	seed(t, f.remote["beta"], 0, 20)

	s.Register(f)

	waitFor(t, "alpha to converge", func() bool {
		return f.local["alpha"].TotalCount() == 50 && f.remote["alpha"].TotalCount() == 50
	})
	waitFor(t, "beta to converge", func() bool {
		return f.local["beta"].TotalCount() == 20 && f.remote["beta"].TotalCount() == 20
	})
}

func TestSchedulerRestartsAfterConvergence(t *testing.T) {
	s := New(testReconcilerConf())
	s.Start()
	defer s.Close()

	f := newFakeSession("alpha")
	seed(t, f.remote["alpha"], 0, 5)
	s.Register(f)

	waitFor(t, "initial convergence", func() bool {
		return f.local["alpha"].TotalCount() == 5
	})

	// Data arriving after convergence is found by the restarted cursor
	seed(t, f.remote["alpha"], 50, 5)
	waitFor(t, "restart to pick up new data", func() bool {
		return f.local["alpha"].TotalCount() == 10
	})
}

func TestSchedulerUnregisterStopsWork(t *testing.T) {
	s := New(testReconcilerConf())
	s.Start()
	defer s.Close()

	f := newFakeSession("alpha")
	s.Register(f)
	waitFor(t, "registration to settle", func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.sessions) == 1
	})

	s.Unregister(f)

	seed(t, f.remote["alpha"], 0, 5)
	time.Sleep(100 * time.Millisecond)
	if got := f.local["alpha"].TotalCount(); got != 0 {
		t.Errorf("unregistered session must not reconcile, got %d records", got)
	}
}

func TestSchedulerDropsClosedSession(t *testing.T) {
	s := New(testReconcilerConf())
	s.Start()
	defer s.Close()

	f := newFakeSession("alpha")
	seed(t, f.remote["alpha"], 0, 100)
	s.Register(f)
	f.closed.Store(true)

	waitFor(t, "closed session to be dropped", func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.sessions) == 0
	})
}

func TestSchedulerSharesWorkAcrossSessions(t *testing.T) {
	cfg := testReconcilerConf()
	cfg.IdleRestartSec = 3600 // one run per pair
	s := New(cfg)
	s.Start()
	defer s.Close()

	var sessions []*fakeSession
	for i := 0; i < 4; i++ {
		f := newFakeSession("alpha")
		seed(t, f.remote["alpha"], i*100, 30)
		sessions = append(sessions, f)
		s.Register(f)
	}

	waitFor(t, "all sessions to converge", func() bool {
		for _, f := range sessions {
			if f.local["alpha"].TotalCount() != 30 {
				return false
			}
		}
		return true
	})
}
