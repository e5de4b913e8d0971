// Package transport provides the byte-level plumbing under a session:
// length-prefixed message framing and the IConnector abstraction for
// dialing, listening and socket tuning. The tcp subpackage is the
// production connector.
package transport
