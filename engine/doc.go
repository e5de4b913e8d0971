// Package engine assembles the sync node from its parts: peer table,
// TCP transport, sessions, and the reconciliation scheduler.
//
// Applications create a Node with their host policy and one store
// adapter per domain; the node then keeps connections to the configured
// fixed peers and continuously reconciles every shared domain with every
// live peer.
package engine
