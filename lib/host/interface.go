package host

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

// PeerInfo is a read-only view of a peer connection, handed to the
// observability callbacks. The engine owns the underlying descriptor;
// callbacks must not retain or mutate it beyond the call.
type PeerInfo struct {
	// Address is the remote peer's endpoint ("host:port").
	Address string
	// Name is the peer's declared node name, empty if anonymous.
	Name string
	// Inbound is true if the peer dialed us, false if we dialed the peer.
	Inbound bool
	// ProtocolVersion is the negotiated protocol version, zero before the
	// handshake completes.
	ProtocolVersion uint16
	// Established is true once the handshake completed successfully.
	Established bool
}

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IHost is the capability interface through which the hosting application
// configures and observes a sync node. Any concrete policy simply
// satisfies this interface.
//
// All callbacks are invoked synchronously from engine goroutines and must
// return quickly; each fires exactly once per event.
type IHost interface {
	// FixedPeers returns the static list of peer addresses this node
	// should always try to keep a connection to.
	FixedPeers() []string
	// Name returns this node's declared identity, or "" to stay anonymous.
	Name() string
	// OnConnectAttempt is invoked once per outbound dial, before the
	// transport connects.
	OnConnectAttempt(address string)
	// OnConnect is invoked once per session when it reaches the
	// established state.
	OnConnect(info PeerInfo)
	// OnConnectionClosed is invoked once per session when it is torn
	// down, with a non-empty human-readable reason.
	OnConnectionClosed(info PeerInfo, reason string)
	// GetSecureRandom fills buf with cryptographically suitable random
	// bytes, used for protocol nonces.
	GetSecureRandom(buf []byte)
}
