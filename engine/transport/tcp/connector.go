package tcp

import (
	"fmt"
	"net"
	"time"

	"github.com/ValentinKolb/dSync/engine/common"
	"github.com/ValentinKolb/dSync/engine/transport"
)

// connector implements the transport.IConnector interface for TCP sockets
type connector struct {
	dialTimeout time.Duration
}

// NewConnector creates a new TCP connector. The dial timeout bounds how
// long an outbound connection attempt may block.
func NewConnector(dialTimeout time.Duration) transport.IConnector {
	return &connector{dialTimeout: dialTimeout}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IConnector)
// --------------------------------------------------------------------------

func (c *connector) GetName() string {
	return "tcp"
}

func (c *connector) Dial(endpoint string) (net.Conn, error) {
	return net.DialTimeout("tcp", endpoint, c.dialTimeout)
}

func (c *connector) Listen(endpoint string) (net.Listener, error) {
	listener, err := net.Listen("tcp", endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create TCP listener: %v", err)
	}
	return listener, nil
}

// Upgrade applies performance settings to a TCP connection using the
// configured transport values.
func (c *connector) Upgrade(conn net.Conn, conf common.TransportConf) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil // Not a TCP connection, nothing to upgrade
	}

	// Disable Nagle's algorithm (TCP_NODELAY) if configured
	if err := tcpConn.SetNoDelay(conf.TCPNoDelay); err != nil {
		return err
	}

	// Set socket write buffer size if configured
	if conf.WriteBufferSize > 0 {
		if err := tcpConn.SetWriteBuffer(conf.WriteBufferSize); err != nil {
			return err
		}
	}

	// Set socket read buffer size if configured
	if conf.ReadBufferSize > 0 {
		if err := tcpConn.SetReadBuffer(conf.ReadBufferSize); err != nil {
			return err
		}
	}

	// Enable TCP keep-alive if configured
	if conf.TCPKeepAliveSec > 0 {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			return err
		}
		if err := tcpConn.SetKeepAlivePeriod(time.Duration(conf.TCPKeepAliveSec) * time.Second); err != nil {
			return err
		}
	}

	// Set TCP linger option if configured
	if conf.TCPLingerSec >= 0 {
		if err := tcpConn.SetLinger(conf.TCPLingerSec); err != nil {
			return err
		}
	}

	return nil
}
