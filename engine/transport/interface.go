package transport

import (
	"net"

	"github.com/ValentinKolb/dSync/engine/common"
)

// IConnector defines the transport-specific operations the session layer
// needs: dialing peers, listening for them, and applying protocol
// specific socket tuning to an established connection.
type IConnector interface {
	// Dial establishes a connection to the given endpoint.
	Dial(endpoint string) (net.Conn, error)

	// Listen creates a listener on the given endpoint and returns it.
	Listen(endpoint string) (net.Listener, error)

	// Upgrade applies transport-specific settings to an established
	// connection.
	Upgrade(conn net.Conn, conf common.TransportConf) error

	// GetName returns the name of the transport type (e.g. "tcp").
	GetName() string
}
