package session

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dSync/engine/peers"
	"github.com/ValentinKolb/dSync/engine/proto"
	"github.com/ValentinKolb/dSync/engine/serializer"
	"github.com/ValentinKolb/dSync/engine/transport"
	"github.com/ValentinKolb/dSync/lib/host"
	"github.com/ValentinKolb/dSync/lib/store"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("session")

// --------------------------------------------------------------------------
// Errors and Metrics
// --------------------------------------------------------------------------

var (
	// ErrClosed is returned by calls against a session that has been
	// torn down.
	ErrClosed = errors.New("session closed")
	// ErrVersionMismatch is returned when the handshake finds no common
	// protocol version.
	ErrVersionMismatch = errors.New("no common protocol version")
)

// Terminal close reasons surfaced through the host policy callback.
const (
	ReasonTimeout           = "timeout"
	ReasonTransportError    = "transport error"
	ReasonProtocolViolation = "protocol violation"
	ReasonVersionMismatch   = "protocol version mismatch"
	ReasonShutdown          = "node shutting down"
)

var (
	sessionsEstablished = metrics.NewCounter("dsync_sessions_established_total")
	sessionsClosed      = metrics.NewCounter("dsync_sessions_closed_total")
	handshakeFailures   = metrics.NewCounter("dsync_handshake_failures_total")
	protocolViolations  = metrics.NewCounter("dsync_protocol_violations_total")
	recordsApplied      = metrics.NewCounter("dsync_records_applied_total")
	recordsDuplicate    = metrics.NewCounter("dsync_records_duplicate_total")
)

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// Config holds the session-level timeouts and limits, derived from the
// node configuration.
type Config struct {
	HandshakeTimeout time.Duration
	RequestTimeout   time.Duration
	PingInterval     time.Duration
	IdleTimeout      time.Duration
	MaxFrameSize     int
}

// --------------------------------------------------------------------------
// Session
// --------------------------------------------------------------------------

// Session owns one transport stream to one remote node. It runs the
// handshake, frames and dispatches protocol messages, answers the remote
// side's requests from the local stores, and reports liveness and failure
// upward.
//
// Lifecycle: New -> Handshake -> Start -> (Close exactly once).
type Session struct {
	conn       net.Conn
	desc       *peers.Descriptor
	table      *peers.Table
	hostPolicy host.IHost
	codec      serializer.IMessageSerializer
	cfg        Config

	// local stores by domain; sharedDomains is the handshake intersection
	stores        map[string]store.IDataStore
	sharedDomains []string
	remoteName    string

	writeMu     sync.Mutex
	pending     *xsync.MapOf[string, chan *proto.Message]
	closed      chan struct{}
	closeOnce   sync.Once
	lastTraffic atomic.Int64 // unix nanos of the last frame in either direction

	// onClosed lets the owning node unregister the session and discard
	// its reconciliation cursors.
	onClosed func(*Session)
}

// New creates a session over an already-connected transport stream. The
// descriptor must have been admitted through the peer table
// (BeginOutbound or AcceptInbound).
func New(
	conn net.Conn,
	desc *peers.Descriptor,
	table *peers.Table,
	hostPolicy host.IHost,
	codec serializer.IMessageSerializer,
	stores map[string]store.IDataStore,
	cfg Config,
	onClosed func(*Session),
) *Session {
	s := &Session{
		conn:       conn,
		desc:       desc,
		table:      table,
		hostPolicy: hostPolicy,
		codec:      codec,
		cfg:        cfg,
		stores:     stores,
		pending:    xsync.NewMapOf[string, chan *proto.Message](),
		closed:     make(chan struct{}),
		onClosed:   onClosed,
	}
	s.lastTraffic.Store(time.Now().UnixNano())
	return s
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// Descriptor returns the session's peer descriptor (owned by the table).
func (s *Session) Descriptor() *peers.Descriptor {
	return s.desc
}

// RemoteAddress returns the remote peer's endpoint.
func (s *Session) RemoteAddress() string {
	return s.desc.Address()
}

// Domains returns the domains both sides offer, fixed at handshake time.
func (s *Session) Domains() []string {
	return s.sharedDomains
}

// StoreFor returns the local store adapter for a shared domain.
func (s *Session) StoreFor(domain string) (store.IDataStore, bool) {
	st, ok := s.stores[domain]
	return st, ok
}

// Closed returns a channel that is closed when the session terminates.
func (s *Session) Closed() <-chan struct{} {
	return s.closed
}

// IsClosed reports whether the session has terminated.
func (s *Session) IsClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Start launches the read loop and the liveness loop. It must be called
// exactly once, after a successful Handshake.
func (s *Session) Start() {
	go s.readLoop()
	go s.livenessLoop()
}

// Close tears the session down with the given terminal reason. It is
// idempotent; only the first call's reason is surfaced. The host
// policy's connection-closed callback fires exactly once per session.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.table.MarkClosing(s.desc)
		close(s.closed)
		_ = s.conn.Close()
		s.table.MarkClosed(s.desc)

		sessionsClosed.Inc()
		Logger.Infof("session with %s closed: %s", s.desc.Address(), reason)
		s.hostPolicy.OnConnectionClosed(s.desc.Info(), reason)

		if s.onClosed != nil {
			s.onClosed(s)
		}
	})
}

// closeProtocolViolation closes the session for a protocol violation,
// sending a best-effort error notice first.
func (s *Session) closeProtocolViolation(detail string) {
	protocolViolations.Inc()
	reason := fmt.Sprintf("%s: %s", ReasonProtocolViolation, detail)
	_ = s.send(proto.NewError(reason))
	s.Close(reason)
}

// --------------------------------------------------------------------------
// Frame I/O
// --------------------------------------------------------------------------

// send serializes and writes one message. Writes are mutex-serialized
// since the read loop, the liveness loop and reconciler calls all write.
func (s *Session) send(msg *proto.Message) error {
	raw, err := s.codec.Serialize(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %v", msg.MsgType, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.cfg.RequestTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.RequestTimeout)); err != nil {
			return err
		}
	}
	if err := transport.WriteFrame(s.conn, raw); err != nil {
		return err
	}
	s.lastTraffic.Store(time.Now().UnixNano())
	return nil
}

// receive reads and deserializes one message, bounded by the idle
// timeout.
func (s *Session) receive() (*proto.Message, error) {
	if s.cfg.IdleTimeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout)); err != nil {
			return nil, err
		}
	}

	raw, err := transport.ReadFrame(s.conn, s.cfg.MaxFrameSize)
	if err != nil {
		return nil, err
	}

	var msg proto.Message
	if err := s.codec.Deserialize(raw, &msg); err != nil {
		return nil, fmt.Errorf("malformed message: %v", err)
	}

	s.lastTraffic.Store(time.Now().UnixNano())
	s.desc.Touch()
	return &msg, nil
}
