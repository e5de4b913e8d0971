// Package host defines the policy interface a hosting application
// implements to configure and observe a sync node: which peers to
// connect to, how the node identifies itself, and lifecycle callbacks
// for connection events.
//
// NewStaticHost provides a ready-made policy for the common case of a
// fixed peer list.
package host
