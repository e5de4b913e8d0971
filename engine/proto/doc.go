// Package proto defines the peer-to-peer wire protocol of the sync
// engine: one Message struct shared by all message kinds, typed factory
// functions, and protocol version negotiation.
//
// A connection starts with both sides sending a Hello. After version
// negotiation succeeds, the session carries liveness probes (Ping/Pong)
// and domain-scoped reconciliation traffic: range count digests, literal
// key lists for small ranges, and record transfers.
package proto
