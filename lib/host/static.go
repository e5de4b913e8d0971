package host

import (
	"crypto/rand"

	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("host")

// --------------------------------------------------------------------------
// Static Host Policy
// --------------------------------------------------------------------------

// staticHost is the default IHost implementation: a fixed peer list,
// crypto/rand randomness and log-only observability callbacks.
type staticHost struct {
	name  string
	peers []string
}

// NewStaticHost creates a host policy with a static peer list.
// The name may be empty to keep the node anonymous.
func NewStaticHost(name string, peers []string) IHost {
	return &staticHost{
		name:  name,
		peers: peers,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see host.IHost)
// --------------------------------------------------------------------------

func (h *staticHost) FixedPeers() []string {
	return h.peers
}

func (h *staticHost) Name() string {
	return h.name
}

func (h *staticHost) OnConnectAttempt(address string) {
	Logger.Debugf("connecting to %s", address)
}

func (h *staticHost) OnConnect(info PeerInfo) {
	direction := "outbound"
	if info.Inbound {
		direction = "inbound"
	}
	Logger.Infof("connected to %s (%s, name=%q, protocol v%d)", info.Address, direction, info.Name, info.ProtocolVersion)
}

func (h *staticHost) OnConnectionClosed(info PeerInfo, reason string) {
	Logger.Infof("connection to %s closed: %s", info.Address, reason)
}

func (h *staticHost) GetSecureRandom(buf []byte) {
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; if it does the
		// process has no usable entropy source and must not continue.
		panic("host: no secure randomness available: " + err.Error())
	}
}
