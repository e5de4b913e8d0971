package engine

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ValentinKolb/dSync/engine/common"
	"github.com/ValentinKolb/dSync/engine/peers"
	"github.com/ValentinKolb/dSync/engine/scheduler"
	"github.com/ValentinKolb/dSync/engine/serializer"
	"github.com/ValentinKolb/dSync/engine/session"
	"github.com/ValentinKolb/dSync/engine/transport"
	"github.com/ValentinKolb/dSync/engine/transport/tcp"
	"github.com/ValentinKolb/dSync/lib/host"
	"github.com/ValentinKolb/dSync/lib/store"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("engine")

// dialLoopInterval is how often the node re-checks its fixed peer list
// for missing connections. Actual retry pacing comes from the peer
// table's backoff, this only bounds the reaction time.
const dialLoopInterval = time.Second

// --------------------------------------------------------------------------
// Node
// --------------------------------------------------------------------------

// Node composes the full sync engine: a peer table, a TCP listener, an
// outbound dial loop over the host's fixed peers, one session per live
// connection, and the reconciliation scheduler. A process embeds one
// Node per mesh it participates in.
type Node struct {
	cfg        common.NodeConfig
	hostPolicy host.IHost
	stores     map[string]store.IDataStore

	table     *peers.Table
	connector transport.IConnector
	codec     serializer.IMessageSerializer
	sched     *scheduler.Scheduler

	listener   net.Listener
	metricsSrv *http.Server

	mu       sync.Mutex
	sessions map[string]*session.Session

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewNode creates and starts a sync node. Each store adapter serves one
// domain; domains must be unique. The node is live on return: it is
// listening on the configured endpoint (if any) and dialing the host's
// fixed peers. A failure to bind the endpoint fails startup.
func NewNode(cfg common.NodeConfig, hostPolicy host.IHost, stores ...store.IDataStore) (*Node, error) {
	common.InitLoggers(cfg)

	if len(stores) == 0 {
		return nil, fmt.Errorf("a node needs at least one data store")
	}
	byDomain := make(map[string]store.IDataStore, len(stores))
	for _, st := range stores {
		if _, ok := byDomain[st.Domain()]; ok {
			return nil, fmt.Errorf("duplicate store for domain %q", st.Domain())
		}
		byDomain[st.Domain()] = st
	}

	codec, err := selectSerializer(cfg.Serializer)
	if err != nil {
		return nil, err
	}

	n := &Node{
		cfg:        cfg,
		hostPolicy: hostPolicy,
		stores:     byDomain,
		table:      peers.NewTable(cfg.MaxInboundSessions),
		connector:  tcp.NewConnector(time.Duration(cfg.HandshakeTimeoutSec) * time.Second),
		codec:      codec,
		sched:      scheduler.New(cfg.Reconciler),
		sessions:   make(map[string]*session.Session),
		done:       make(chan struct{}),
	}

	if cfg.Endpoint != "" {
		listener, err := n.connector.Listen(cfg.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %v", cfg.Endpoint, err)
		}
		n.listener = listener
		n.wg.Add(1)
		go n.acceptLoop()
	}

	if cfg.MetricsEndpoint != "" {
		n.startMetricsServer()
	}

	n.sched.Start()
	n.wg.Add(1)
	go n.dialLoop()

	Logger.Infof("node %q started (endpoint=%q, %d domain(s), %d fixed peer(s))",
		hostPolicy.Name(), cfg.Endpoint, len(byDomain), len(hostPolicy.FixedPeers()))
	return n, nil
}

// Close shuts the node down: the listener stops, every session is closed
// with a shutdown reason, and the scheduler drains its running turns.
// Safe to call more than once.
func (n *Node) Close() {
	n.closeOnce.Do(func() {
		close(n.done)
		if n.listener != nil {
			_ = n.listener.Close()
		}
		if n.metricsSrv != nil {
			_ = n.metricsSrv.Close()
		}

		n.mu.Lock()
		open := make([]*session.Session, 0, len(n.sessions))
		for _, s := range n.sessions {
			open = append(open, s)
		}
		n.mu.Unlock()
		for _, s := range open {
			s.Close(session.ReasonShutdown)
		}

		n.sched.Close()
		n.wg.Wait()
		Logger.Infof("node %q stopped", n.hostPolicy.Name())
	})
}

// selectSerializer maps a codec name to its implementation. An empty
// name means the binary codec.
func selectSerializer(name string) (serializer.IMessageSerializer, error) {
	switch name {
	case "", "binary":
		return serializer.NewBinarySerializer(), nil
	case "json":
		return serializer.NewJSONSerializer(), nil
	case "gob":
		return serializer.NewGOBSerializer(), nil
	default:
		return nil, fmt.Errorf("invalid serializer %s", name)
	}
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// Addr returns the actual listen address, useful with a ":0" endpoint.
// Nil if the node does not listen.
func (n *Node) Addr() net.Addr {
	if n.listener == nil {
		return nil
	}
	return n.listener.Addr()
}

// ConnectionCount returns the number of currently established sessions.
func (n *Node) ConnectionCount() int {
	return n.table.EstablishedCount()
}

// StoreFor returns the store adapter serving the given domain.
func (n *Node) StoreFor(domain string) (store.IDataStore, bool) {
	st, ok := n.stores[domain]
	return st, ok
}

func (n *Node) isClosed() bool {
	select {
	case <-n.done:
		return true
	default:
		return false
	}
}

// --------------------------------------------------------------------------
// Connection management
// --------------------------------------------------------------------------

// acceptLoop admits inbound connections through the peer table and hands
// them to session setup. Connections over the inbound cap or duplicates
// of live sessions are refused before any handshake work.
func (n *Node) acceptLoop() {
	defer n.wg.Done()
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			if n.isClosed() {
				return
			}
			Logger.Errorf("accept failed: %v", err)
			return
		}

		remote := conn.RemoteAddr().String()
		desc, err := n.table.AcceptInbound(remote)
		if err != nil {
			Logger.Infof("refusing inbound connection from %s: %v", remote, err)
			_ = conn.Close()
			continue
		}

		if err := n.connector.Upgrade(conn, n.cfg.Transport); err != nil {
			Logger.Warningf("failed to tune inbound connection from %s: %v", remote, err)
			_ = conn.Close()
			n.table.MarkClosed(desc)
			continue
		}

		n.table.MarkHandshaking(desc)
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.runSession(conn, desc)
		}()
	}
}

// dialLoop keeps one outbound attempt going per missing fixed peer. The
// peer table's backoff decides when an address may be retried.
func (n *Node) dialLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(dialLoopInterval)
	defer ticker.Stop()

	for {
		for _, address := range n.hostPolicy.FixedPeers() {
			if n.table.WantsOutbound(address) {
				n.wg.Add(1)
				go func(address string) {
					defer n.wg.Done()
					n.connectOutbound(address)
				}(address)
			}
		}
		select {
		case <-n.done:
			return
		case <-ticker.C:
		}
	}
}

// connectOutbound dials one fixed peer and runs the session to
// completion of its handshake. Dial failures feed the table's backoff.
func (n *Node) connectOutbound(address string) {
	desc, err := n.table.BeginOutbound(address)
	if err != nil {
		// Raced with another dial or an inbound session, or still in
		// backoff
		return
	}

	n.hostPolicy.OnConnectAttempt(address)
	conn, err := n.connector.Dial(address)
	if err != nil {
		Logger.Infof("failed to dial %s: %v", address, err)
		n.table.MarkClosed(desc)
		return
	}
	if err := n.connector.Upgrade(conn, n.cfg.Transport); err != nil {
		Logger.Warningf("failed to tune connection to %s: %v", address, err)
		_ = conn.Close()
		n.table.MarkClosed(desc)
		return
	}

	n.table.MarkHandshaking(desc)
	n.runSession(conn, desc)
}

// runSession drives one connection through the handshake and, on
// success, registers it with the scheduler. Handshake failures have
// already closed the session.
func (n *Node) runSession(conn net.Conn, desc *peers.Descriptor) {
	sess := session.New(conn, desc, n.table, n.hostPolicy, n.codec, n.stores, n.sessionConfig(), n.onSessionClosed)
	if err := sess.Handshake(); err != nil {
		return
	}

	n.mu.Lock()
	n.sessions[desc.Address()] = sess
	n.mu.Unlock()

	if n.isClosed() {
		sess.Close(session.ReasonShutdown)
		return
	}

	sess.Start()
	n.sched.Register(sess)
}

// onSessionClosed drops the session's cursors and its registration. Runs
// exactly once per session, from its close path.
func (n *Node) onSessionClosed(sess *session.Session) {
	n.sched.Unregister(sess)
	n.mu.Lock()
	if current, ok := n.sessions[sess.RemoteAddress()]; ok && current == sess {
		delete(n.sessions, sess.RemoteAddress())
	}
	n.mu.Unlock()
}

func (n *Node) sessionConfig() session.Config {
	return session.Config{
		HandshakeTimeout: time.Duration(n.cfg.HandshakeTimeoutSec) * time.Second,
		RequestTimeout:   time.Duration(n.cfg.RequestTimeoutSec) * time.Second,
		PingInterval:     time.Duration(n.cfg.PingIntervalSec) * time.Second,
		IdleTimeout:      time.Duration(n.cfg.IdleTimeoutSec) * time.Second,
		MaxFrameSize:     n.cfg.Transport.MaxFrameSize,
	}
}

// --------------------------------------------------------------------------
// Metrics
// --------------------------------------------------------------------------

// startMetricsServer exposes the process metrics in Prometheus text
// format on the configured endpoint.
func (n *Node) startMetricsServer() {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	n.metricsSrv = &http.Server{Addr: n.cfg.MetricsEndpoint, Handler: mux}

	go func() {
		Logger.Infof("serving metrics on http://%s/metrics", n.cfg.MetricsEndpoint)
		if err := n.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			Logger.Errorf("metrics server failed: %v", err)
		}
	}()
}
