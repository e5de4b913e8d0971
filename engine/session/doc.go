// Package session implements the connection state machine between two
// sync nodes: handshake with protocol version negotiation, message
// framing and dispatch, liveness probing, and the strictly-ordered
// request/response surface the reconciler runs on.
//
// A session moves through Connecting -> Handshaking -> Established ->
// Closing -> Closed. Every terminal close surfaces exactly one reason
// string through the host policy callback; no peer misbehavior can
// affect more than its own session.
package session
