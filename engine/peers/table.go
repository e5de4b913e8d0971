package peers

import (
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("peers")

// --------------------------------------------------------------------------
// Constants and Errors
// --------------------------------------------------------------------------

// Backoff curve for outbound attempts against an unreachable address:
// 50ms base doubling up to 30s, with a +-10% jitter.
const (
	backoffBase   = 50 * time.Millisecond
	backoffFactor = 2
	backoffMax    = 30 * time.Second
)

var (
	// ErrDuplicateSession is returned when an outbound attempt targets an
	// address that already has a live session, regardless of direction.
	ErrDuplicateSession = errors.New("session to address already exists")
	// ErrInboundLimitReached is returned when a new inbound connection
	// would exceed the configured maximum.
	ErrInboundLimitReached = errors.New("inbound session limit reached")
	// ErrBackoff is returned when an address is still inside its backoff
	// window after a failed attempt.
	ErrBackoff = errors.New("address is backing off")
)

var inboundRefused = metrics.NewCounter("dsync_inbound_refused_total")

// --------------------------------------------------------------------------
// Peer Table
// --------------------------------------------------------------------------

// Table maintains the mapping from address to peer descriptor and
// arbitrates which addresses may have connection attempts. It is the only
// component that creates or retires descriptors.
//
// Thread-safety: all methods are safe for concurrent use.
type Table struct {
	peers      *xsync.MapOf[string, *Descriptor]
	maxInbound int
	inbound    atomic.Int64
}

// NewTable creates a peer table. maxInbound bounds concurrently live
// inbound sessions; inbound attempts beyond it are refused immediately.
func NewTable(maxInbound int) *Table {
	return &Table{
		peers:      xsync.NewMapOf[string, *Descriptor](),
		maxInbound: maxInbound,
	}
}

// --------------------------------------------------------------------------
// Session Admission
// --------------------------------------------------------------------------

// BeginOutbound registers an outbound connection attempt to the given
// address and moves its descriptor to Connecting. It fails with
// ErrDuplicateSession if any live session to the address exists
// (direction-agnostic dedup) and with ErrBackoff while the address is
// inside its backoff window.
func (t *Table) BeginOutbound(address string) (*Descriptor, error) {
	d, _ := t.peers.LoadOrCompute(address, func() *Descriptor {
		return &Descriptor{address: address, state: StateIdle}
	})

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state.active() {
		return nil, fmt.Errorf("%w: %s is %s", ErrDuplicateSession, address, d.state)
	}
	if now := time.Now(); now.Before(d.nextAttempt) {
		return nil, fmt.Errorf("%w: %s for another %s", ErrBackoff, address, d.nextAttempt.Sub(now).Round(time.Millisecond))
	}

	d.inbound = false
	d.state = StateConnecting
	d.lastActivity = time.Now()
	return d, nil
}

// AcceptInbound registers an accepted inbound connection from the given
// remote address and moves its descriptor to Handshaking. Beyond the
// inbound limit the connection is refused immediately, without queueing.
func (t *Table) AcceptInbound(remoteAddress string) (*Descriptor, error) {
	if t.inbound.Add(1) > int64(t.maxInbound) {
		t.inbound.Add(-1)
		inboundRefused.Inc()
		return nil, fmt.Errorf("%w (%d)", ErrInboundLimitReached, t.maxInbound)
	}

	d, _ := t.peers.LoadOrCompute(remoteAddress, func() *Descriptor {
		return &Descriptor{address: remoteAddress}
	})

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state.active() {
		// The same remote endpoint cannot legally open a second session
		t.inbound.Add(-1)
		return nil, fmt.Errorf("%w: %s is %s", ErrDuplicateSession, remoteAddress, d.state)
	}

	d.inbound = true
	d.state = StateHandshaking
	d.wasEstablished = false
	d.lastActivity = time.Now()
	return d, nil
}

// --------------------------------------------------------------------------
// State Transitions
// --------------------------------------------------------------------------

// MarkHandshaking moves an outbound descriptor from Connecting to
// Handshaking once the transport connected.
func (t *Table) MarkHandshaking(d *Descriptor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = StateHandshaking
	d.wasEstablished = false
	d.lastActivity = time.Now()
}

// MarkEstablished records a completed handshake: the negotiated protocol
// version, the peer's declared name, and a cleared backoff.
func (t *Table) MarkEstablished(d *Descriptor, name string, version uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = StateEstablished
	d.wasEstablished = true
	d.name = name
	d.version = version
	d.failures = 0
	d.nextAttempt = time.Time{}
	d.lastActivity = time.Now()
}

// MarkClosing moves a live descriptor to Closing.
func (t *Table) MarkClosing(d *Descriptor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateClosed {
		d.state = StateClosing
		d.lastActivity = time.Now()
	}
}

// MarkClosed retires a session. A session that never reached Established
// counts as a failed attempt and extends the address's backoff window.
func (t *Table) MarkClosed(d *Descriptor) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateClosed {
		return
	}
	wasInbound := d.inbound && d.state.activeOrClosing()

	d.state = StateClosed
	d.lastActivity = time.Now()

	if wasInbound {
		t.inbound.Add(-1)
		return
	}

	if !d.wasEstablished {
		d.failures++
		backoff := backoffBase
		for i := 1; i < d.failures; i++ {
			backoff *= backoffFactor
			if backoff >= backoffMax {
				backoff = backoffMax
				break
			}
		}
		// +-10% jitter so many nodes do not redial in lockstep
		jitter := 0.9 + 0.2*rand.Float64()
		backoff = time.Duration(float64(backoff) * jitter)
		d.nextAttempt = time.Now().Add(backoff)
		Logger.Debugf("peer %s failed %d time(s), next attempt in %s", d.address, d.failures, backoff.Round(time.Millisecond))
	}
}

// activeOrClosing is used by MarkClosed to decide whether an inbound slot
// is being released.
func (s State) activeOrClosing() bool {
	return s.active() || s == StateClosing
}

// --------------------------------------------------------------------------
// Queries
// --------------------------------------------------------------------------

// Get returns the descriptor for an address, if known.
func (t *Table) Get(address string) (*Descriptor, bool) {
	return t.peers.Load(address)
}

// EstablishedCount returns the number of sessions currently in the
// Established state.
func (t *Table) EstablishedCount() int {
	count := 0
	t.peers.Range(func(_ string, d *Descriptor) bool {
		if d.State() == StateEstablished {
			count++
		}
		return true
	})
	return count
}

// WantsOutbound reports whether an outbound attempt to the address would
// currently be admitted (no live session, backoff elapsed).
func (t *Table) WantsOutbound(address string) bool {
	d, ok := t.peers.Load(address)
	if !ok {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.state.active() && !time.Now().Before(d.nextAttempt)
}
