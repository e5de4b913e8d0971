package peers

import (
	"sync"
	"time"

	"github.com/ValentinKolb/dSync/lib/host"
)

// --------------------------------------------------------------------------
// Session State
// --------------------------------------------------------------------------

// State is the lifecycle state of a peer connection.
type State uint8

const (
	// StateIdle means no session exists for the address.
	StateIdle State = iota
	// StateConnecting means an outbound dial is in progress.
	StateConnecting
	// StateHandshaking means the hello exchange is in progress.
	StateHandshaking
	// StateEstablished means the session is live and reconciling.
	StateEstablished
	// StateClosing means the session is being torn down.
	StateClosing
	// StateClosed is the terminal state.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateEstablished:
		return "established"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// active reports whether the state blocks another session to the same
// address.
func (s State) active() bool {
	switch s {
	case StateConnecting, StateHandshaking, StateEstablished:
		return true
	default:
		return false
	}
}

// --------------------------------------------------------------------------
// Peer Descriptor
// --------------------------------------------------------------------------

// Descriptor is the table's view of one known peer address. It is owned
// exclusively by the Table; sessions reference their descriptor but the
// table decides its lifecycle.
type Descriptor struct {
	mu sync.Mutex

	address      string
	name         string // declared node name, learned during handshake
	inbound      bool
	state        State
	version      uint16 // negotiated protocol version
	lastActivity time.Time

	// true once the handshake completed, sticky across Closing/Closed
	wasEstablished bool

	// outbound backoff bookkeeping
	failures    int
	nextAttempt time.Time
}

// Address returns the peer's endpoint.
func (d *Descriptor) Address() string {
	return d.address
}

// Inbound reports whether the peer dialed us.
func (d *Descriptor) Inbound() bool {
	return d.inbound
}

// State returns the current lifecycle state.
func (d *Descriptor) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Name returns the peer's declared node name ("" if anonymous or not yet
// handshaked).
func (d *Descriptor) Name() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.name
}

// LastActivity returns the time of the last state change or traffic.
func (d *Descriptor) LastActivity() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastActivity
}

// Touch records traffic on the peer's session.
func (d *Descriptor) Touch() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastActivity = time.Now()
}

// Info returns a read-only snapshot for host policy callbacks.
func (d *Descriptor) Info() host.PeerInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return host.PeerInfo{
		Address:         d.address,
		Name:            d.name,
		Inbound:         d.inbound,
		ProtocolVersion: d.version,
		Established:     d.wasEstablished,
	}
}
