package scheduler

import (
	"sync"
	"time"

	"github.com/ValentinKolb/dSync/engine/common"
	"github.com/ValentinKolb/dSync/engine/reconcile"
	"github.com/ValentinKolb/dSync/lib/store"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("scheduler")

var (
	turnsRun       = metrics.NewCounter("dsync_scheduler_turns_total")
	turnsFailed    = metrics.NewCounter("dsync_scheduler_turn_errors_total")
	cursorsStarted = metrics.NewCounter("dsync_scheduler_cursors_started_total")
	convergences   = metrics.NewCounter("dsync_scheduler_convergences_total")
)

// ISyncSession is what the scheduler needs from a session: the remote
// call surface the cursors run on plus enough introspection to manage
// their lifecycle. *session.Session implements it.
type ISyncSession interface {
	reconcile.IPeer
	Domains() []string
	StoreFor(domain string) (store.IDataStore, bool)
	IsClosed() bool
	RemoteAddress() string
}

// --------------------------------------------------------------------------
// Task bookkeeping
// --------------------------------------------------------------------------

// task is the reconciliation state for one (session, domain) pair. At
// most one cursor exists per pair, and at most one turn runs on it at a
// time; this is what keeps the session's per-domain request ordering
// strict.
type task struct {
	st        store.IDataStore
	cursor    *reconcile.Cursor // nil between convergence and restart
	running   bool
	restUntil time.Time // next restart no earlier than this
}

type sessionEntry struct {
	sess     ISyncSession
	tasks    []*task
	next     int // round-robin position within this session's tasks
	inFlight int // turns currently running for this session
}

// --------------------------------------------------------------------------
// Scheduler
// --------------------------------------------------------------------------

// Scheduler owns all reconciliation cursors and spreads their work
// fairly over a bounded worker pool: sessions are served round-robin,
// and within a session the domains are served round-robin. Per-session
// and global in-flight caps stop one peer from monopolizing the pool.
type Scheduler struct {
	cfg common.ReconcilerConf

	mu          sync.Mutex
	sessions    []*sessionEntry
	nextSession int
	inFlight    int // turns currently running across all sessions

	runCh     chan struct{} // dispatcher wake-up
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a scheduler with the given tuning. Call Start to launch
// the dispatcher and worker pool.
func New(cfg common.ReconcilerConf) *Scheduler {
	return &Scheduler{
		cfg:   cfg,
		runCh: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Start launches the worker pool.
func (s *Scheduler) Start() {
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	Logger.Infof("scheduler started with %d workers (in-flight caps: %d per session, %d global)",
		s.cfg.Workers, s.cfg.MaxInFlightPerSession, s.cfg.MaxInFlightGlobal)
}

// Close stops the worker pool and waits for running turns to finish.
// Cursors are discarded; sessions are not closed.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}

// Register adds a session's shared domains to the schedule. Fresh
// cursors are started immediately for each domain.
func (s *Scheduler) Register(sess ISyncSession) {
	entry := &sessionEntry{sess: sess}
	for _, domain := range sess.Domains() {
		st, ok := sess.StoreFor(domain)
		if !ok {
			// Domains() only lists domains both sides store, so this
			// cannot happen; skip rather than crash
			Logger.Errorf("session %s shares domain %q with no local store", sess.RemoteAddress(), domain)
			continue
		}
		entry.tasks = append(entry.tasks, &task{st: st})
	}
	if len(entry.tasks) == 0 {
		Logger.Warningf("session %s shares no domains, nothing to reconcile", sess.RemoteAddress())
		return
	}

	s.mu.Lock()
	s.sessions = append(s.sessions, entry)
	s.mu.Unlock()

	Logger.Infof("scheduling %d domain(s) for session %s", len(entry.tasks), sess.RemoteAddress())
	s.wake()
}

// Unregister drops a session's cursors. Running turns finish on their
// own and their results are discarded.
func (s *Scheduler) Unregister(sess ISyncSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, entry := range s.sessions {
		if entry.sess == sess {
			s.removeLocked(i)
			return
		}
	}
}

// removeLocked drops the session entry at index i. Caller holds s.mu.
func (s *Scheduler) removeLocked(i int) {
	s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)
	if s.nextSession > i {
		s.nextSession--
	}
}

// wake nudges the worker pool after new work appeared.
func (s *Scheduler) wake() {
	select {
	case s.runCh <- struct{}{}:
	default:
	}
}

// --------------------------------------------------------------------------
// Dispatch
// --------------------------------------------------------------------------

// worker repeatedly picks a runnable (session, domain) task and runs one
// budgeted turn on its cursor. With no runnable task it sleeps until
// woken or until the next rest period can expire.
func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		entry, t := s.pick()
		if t != nil {
			s.runTurn(entry, t)
			continue
		}
		select {
		case <-s.done:
			return
		case <-s.runCh:
		case <-time.After(time.Second):
			// Re-check for expired rest periods
		}
	}
}

// pick selects the next runnable task round-robin and marks it running.
// It returns nil when nothing is runnable right now.
func (s *Scheduler) pick() (*sessionEntry, *task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.MaxInFlightGlobal > 0 && s.inFlight >= s.cfg.MaxInFlightGlobal {
		return nil, nil
	}

	now := time.Now()
	for range s.sessions {
		if len(s.sessions) == 0 {
			break
		}
		if s.nextSession >= len(s.sessions) {
			s.nextSession = 0
		}
		entry := s.sessions[s.nextSession]
		s.nextSession++

		if entry.sess.IsClosed() {
			// Retire the entry once no turn is running on it anymore;
			// the node's close path also unregisters, this covers
			// sessions that die without one
			if entry.inFlight == 0 {
				s.removeLocked(s.nextSession - 1)
			}
			continue
		}
		if s.cfg.MaxInFlightPerSession > 0 && entry.inFlight >= s.cfg.MaxInFlightPerSession {
			continue
		}
		for range entry.tasks {
			if entry.next >= len(entry.tasks) {
				entry.next = 0
			}
			t := entry.tasks[entry.next]
			entry.next++

			if t.running || now.Before(t.restUntil) {
				continue
			}
			if t.cursor == nil {
				t.cursor = reconcile.NewCursor(entry.sess, t.st, s.cfg.ExactExchangeThreshold)
				cursorsStarted.Inc()
			}
			t.running = true
			entry.inFlight++
			s.inFlight++
			return entry, t
		}
	}
	return nil, nil
}

// runTurn executes one budgeted turn and re-files the task.
func (s *Scheduler) runTurn(entry *sessionEntry, t *task) {
	done, err := t.cursor.Step(s.cfg.RangeBudgetPerTurn)
	turnsRun.Inc()

	s.mu.Lock()
	t.running = false
	entry.inFlight--
	s.inFlight--
	s.mu.Unlock()

	switch {
	case err != nil:
		turnsFailed.Inc()
		if entry.sess.IsClosed() {
			// The session close path unregisters the entry; the partial
			// cursor dies with it
			Logger.Infof("dropping cursor for closed session %s", entry.sess.RemoteAddress())
			s.Unregister(entry.sess)
		} else {
			// Transient failure (e.g. remote store error); the failed
			// range stays on the cursor's frontier and is retried
			Logger.Warningf("reconciliation turn for session %s failed: %v", entry.sess.RemoteAddress(), err)
		}
	case done:
		convergences.Inc()
		stats := t.cursor.Stats()
		Logger.Infof("domain %q converged with session %s (%d ranges compared, %d pulled, %d pushed)",
			t.cursor.Domain(), entry.sess.RemoteAddress(), stats.RangesCompared, stats.KeysPulled, stats.KeysPushed)
		s.mu.Lock()
		t.cursor = nil
		t.restUntil = time.Now().Add(time.Duration(s.cfg.IdleRestartSec) * time.Second)
		s.mu.Unlock()
	}

	s.wake()
}
