// Package peers implements the node's peer table: the authoritative
// mapping from peer address to connection descriptor.
//
// The table arbitrates session admission - it deduplicates outbound
// attempts against live sessions regardless of direction, enforces an
// exponential per-address backoff after failed attempts, and refuses
// inbound connections beyond the configured limit without queueing.
package peers
