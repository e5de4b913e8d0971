package common

import (
	"fmt"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Transport configuration structs
// --------------------------------------------------------------------------

// SocketConf holds generic socket buffer settings.
type SocketConf struct {
	WriteBufferSize int // Socket write buffer in bytes (0 = OS default)
	ReadBufferSize  int // Socket read buffer in bytes (0 = OS default)
}

// TCPConf holds TCP-specific tuning settings.
type TCPConf struct {
	TCPNoDelay      bool // Disable Nagle's algorithm
	TCPKeepAliveSec int  // Keep-alive interval in seconds (0 = disabled)
	TCPLingerSec    int  // Linger time in seconds (negative = OS default)
}

// TransportConf groups all transport-level settings.
type TransportConf struct {
	MaxFrameSize int // Largest accepted wire frame in bytes
	SocketConf
	TCPConf
}

// --------------------------------------------------------------------------
// Sync engine configuration structs
// --------------------------------------------------------------------------

// ReconcilerConf tunes the anti-entropy reconciliation protocol.
type ReconcilerConf struct {
	// ExactExchangeThreshold is the range cardinality at or below which
	// the reconciler stops comparing counts and exchanges literal key
	// lists instead. Larger values cost bandwidth, smaller values cost
	// round trips.
	ExactExchangeThreshold uint64
	// RangeBudgetPerTurn caps how many range comparisons one cursor may
	// perform per scheduling turn.
	RangeBudgetPerTurn int
	// IdleRestartSec is how long a converged (session, domain) pair rests
	// before a fresh full-range cursor is scheduled.
	IdleRestartSec int
	// MaxInFlightPerSession caps concurrently running reconciliation
	// turns per session.
	MaxInFlightPerSession int
	// MaxInFlightGlobal caps concurrently running reconciliation turns
	// across all sessions.
	MaxInFlightGlobal int
	// Workers is the size of the reconciler worker pool.
	Workers int
}

// NodeConfig holds all configuration parameters for a sync node.
type NodeConfig struct {
	// Endpoint is the address the node listens on (e.g. "0.0.0.0:9420").
	Endpoint string

	// Session parameters
	HandshakeTimeoutSec int // Time limit for the hello exchange
	RequestTimeoutSec   int // Time limit for one remote protocol response
	PingIntervalSec     int // Liveness ping interval
	IdleTimeoutSec      int // No traffic for this long closes the session
	MaxInboundSessions  int // Inbound connections beyond this are refused

	Reconciler ReconcilerConf
	Transport  TransportConf

	// Serializer selects the wire codec (json, gob, binary). All nodes
	// of a mesh must agree.
	Serializer string

	// Observability
	LogLevel        string
	MetricsEndpoint string // Prometheus endpoint (empty = disabled)
}

// DefaultNodeConfig returns a NodeConfig with all tunables set to their
// defaults. The endpoint is left empty and must be set by the caller.
func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		HandshakeTimeoutSec: 10,
		RequestTimeoutSec:   30,
		PingIntervalSec:     10,
		IdleTimeoutSec:      45,
		MaxInboundSessions:  256,
		Reconciler: ReconcilerConf{
			ExactExchangeThreshold: 32,
			RangeBudgetPerTurn:     16,
			IdleRestartSec:         30,
			MaxInFlightPerSession:  2,
			MaxInFlightGlobal:      16,
			Workers:                8,
		},
		Transport: TransportConf{
			MaxFrameSize: 8 * 1024 * 1024,
			SocketConf: SocketConf{
				WriteBufferSize: 512 * 1024,
				ReadBufferSize:  512 * 1024,
			},
			TCPConf: TCPConf{
				TCPNoDelay:      true,
				TCPKeepAliveSec: 0,
				TCPLingerSec:    -1,
			},
		},
		Serializer: "binary",
		LogLevel:   "info",
	}
}

// String returns a formatted string representation of the configuration
func (c *NodeConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-24s: %s\n", name, value))
	}

	addSection("Node")
	addField("Endpoint", c.Endpoint)
	addField("Max Inbound Sessions", strconv.Itoa(c.MaxInboundSessions))

	addSection("Session")
	addField("Handshake Timeout", fmt.Sprintf("%d sec", c.HandshakeTimeoutSec))
	addField("Request Timeout", fmt.Sprintf("%d sec", c.RequestTimeoutSec))
	addField("Ping Interval", fmt.Sprintf("%d sec", c.PingIntervalSec))
	addField("Idle Timeout", fmt.Sprintf("%d sec", c.IdleTimeoutSec))

	addSection("Reconciler")
	addField("Exact Exchange Threshold", strconv.FormatUint(c.Reconciler.ExactExchangeThreshold, 10))
	addField("Range Budget Per Turn", strconv.Itoa(c.Reconciler.RangeBudgetPerTurn))
	addField("Idle Restart", fmt.Sprintf("%d sec", c.Reconciler.IdleRestartSec))
	addField("In-Flight Per Session", strconv.Itoa(c.Reconciler.MaxInFlightPerSession))
	addField("In-Flight Global", strconv.Itoa(c.Reconciler.MaxInFlightGlobal))
	addField("Workers", strconv.Itoa(c.Reconciler.Workers))

	addSection("Transport")
	addField("Max Frame Size", fmt.Sprintf("%d bytes", c.Transport.MaxFrameSize))
	addField("Write Buffer", fmt.Sprintf("%d bytes", c.Transport.WriteBufferSize))
	addField("Read Buffer", fmt.Sprintf("%d bytes", c.Transport.ReadBufferSize))
	addField("TCP NoDelay", fmt.Sprintf("%t", c.Transport.TCPNoDelay))
	addField("TCP KeepAlive", fmt.Sprintf("%d sec", c.Transport.TCPKeepAliveSec))
	addField("TCP Linger", fmt.Sprintf("%d sec", c.Transport.TCPLingerSec))
	addField("Serializer", c.Serializer)

	addSection("Logging")
	addField("Log Level", c.LogLevel)
	if c.MetricsEndpoint != "" {
		addSection("Metrics")
		addField("Endpoint", c.MetricsEndpoint)
	}

	return sb.String()
}
