package serve

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cmdUtil "github.com/ValentinKolb/dSync/cmd/util"
	"github.com/ValentinKolb/dSync/engine"
	"github.com/ValentinKolb/dSync/engine/common"
	"github.com/ValentinKolb/dSync/lib/host"
	"github.com/ValentinKolb/dSync/lib/store"
	"github.com/ValentinKolb/dSync/lib/store/memstore"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = common.DefaultNodeConfig()
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start a dSync node",
		Long:    `Start a dSync node with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is DSYNC_<flag> (e.g. DSYNC_ENDPOINT=0.0.0.0:9420)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitEnvConfig)

	// add flags
	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:9420", cmdUtil.WrapString("The address the node listens on for other nodes"))

	key = "name"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("The node's declared name, shown to peers (empty = anonymous)"))

	key = "peers"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Comma-separated list of peer addresses this node keeps a connection to (e.g. 'host-a:9420,host-b:9420')"))

	key = "domains"
	ServeCmd.PersistentFlags().String(key, "default", cmdUtil.WrapString("Comma-separated list of domains (logical data sets) to serve"))

	key = "key-size"
	ServeCmd.PersistentFlags().Int(key, 64, cmdUtil.WrapString("Fixed key length in bytes, identical across all nodes of a mesh"))

	key = "max-value-size"
	ServeCmd.PersistentFlags().Int(key, 1024, cmdUtil.WrapString("Largest accepted value in bytes"))

	key = "handshake-timeout"
	ServeCmd.PersistentFlags().Int(key, serveCmdConfig.HandshakeTimeoutSec, cmdUtil.WrapString("Time limit in seconds for the hello exchange of a new connection"))

	key = "request-timeout"
	ServeCmd.PersistentFlags().Int(key, serveCmdConfig.RequestTimeoutSec, cmdUtil.WrapString("Time limit in seconds for one protocol response; an overrun closes the session"))

	key = "ping-interval"
	ServeCmd.PersistentFlags().Int(key, serveCmdConfig.PingIntervalSec, cmdUtil.WrapString("Liveness ping interval in seconds"))

	key = "idle-timeout"
	ServeCmd.PersistentFlags().Int(key, serveCmdConfig.IdleTimeoutSec, cmdUtil.WrapString("Seconds without any traffic after which a session is closed"))

	key = "max-inbound"
	ServeCmd.PersistentFlags().Int(key, serveCmdConfig.MaxInboundSessions, cmdUtil.WrapString("Inbound connections beyond this limit are refused"))

	key = "exact-exchange-threshold"
	ServeCmd.PersistentFlags().Uint64(key, serveCmdConfig.Reconciler.ExactExchangeThreshold, cmdUtil.WrapString("Range cardinality at or below which literal key lists are exchanged instead of count digests. Larger values cost bandwidth, smaller values cost round trips"))

	key = "range-budget"
	ServeCmd.PersistentFlags().Int(key, serveCmdConfig.Reconciler.RangeBudgetPerTurn, cmdUtil.WrapString("How many range comparisons one reconciliation turn may perform before yielding"))

	key = "idle-restart"
	ServeCmd.PersistentFlags().Int(key, serveCmdConfig.Reconciler.IdleRestartSec, cmdUtil.WrapString("Seconds a converged (peer, domain) pair rests before reconciliation restarts from the full key range"))

	key = "in-flight-per-session"
	ServeCmd.PersistentFlags().Int(key, serveCmdConfig.Reconciler.MaxInFlightPerSession, cmdUtil.WrapString("Maximum concurrently running reconciliation turns per session"))

	key = "in-flight-global"
	ServeCmd.PersistentFlags().Int(key, serveCmdConfig.Reconciler.MaxInFlightGlobal, cmdUtil.WrapString("Maximum concurrently running reconciliation turns across all sessions"))

	key = "workers"
	ServeCmd.PersistentFlags().Int(key, serveCmdConfig.Reconciler.Workers, cmdUtil.WrapString("Size of the reconciliation worker pool"))

	key = "max-frame-size"
	ServeCmd.PersistentFlags().Int(key, serveCmdConfig.Transport.MaxFrameSize, cmdUtil.WrapString("Largest accepted wire frame in bytes"))

	key = "transport-write-buffer"
	ServeCmd.PersistentFlags().Int(key, 512, cmdUtil.WrapString("The size of the socket write buffer (in KB)"))

	key = "transport-read-buffer"
	ServeCmd.PersistentFlags().Int(key, 512, cmdUtil.WrapString("The size of the socket read buffer (in KB)"))

	key = "transport-tcp-nodelay"
	ServeCmd.PersistentFlags().Bool(key, true, cmdUtil.WrapString("Whether to enable TCP_NODELAY for node connections"))

	key = "transport-tcp-keepalive"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("The keepalive interval for node connections (in seconds, 0 = disabled)"))

	key = "transport-tcp-linger"
	ServeCmd.PersistentFlags().Int(key, -1, cmdUtil.WrapString("The linger time for node connections (in seconds, negative = OS default)"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address to serve Prometheus metrics on (e.g. 'localhost:9100', empty = disabled)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and
// environment variables and converts them to the node configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.HandshakeTimeoutSec = viper.GetInt("handshake-timeout")
	serveCmdConfig.RequestTimeoutSec = viper.GetInt("request-timeout")
	serveCmdConfig.PingIntervalSec = viper.GetInt("ping-interval")
	serveCmdConfig.IdleTimeoutSec = viper.GetInt("idle-timeout")
	serveCmdConfig.MaxInboundSessions = viper.GetInt("max-inbound")

	serveCmdConfig.Reconciler.ExactExchangeThreshold = viper.GetUint64("exact-exchange-threshold")
	serveCmdConfig.Reconciler.RangeBudgetPerTurn = viper.GetInt("range-budget")
	serveCmdConfig.Reconciler.IdleRestartSec = viper.GetInt("idle-restart")
	serveCmdConfig.Reconciler.MaxInFlightPerSession = viper.GetInt("in-flight-per-session")
	serveCmdConfig.Reconciler.MaxInFlightGlobal = viper.GetInt("in-flight-global")
	serveCmdConfig.Reconciler.Workers = viper.GetInt("workers")

	serveCmdConfig.Transport.MaxFrameSize = viper.GetInt("max-frame-size")
	serveCmdConfig.Transport.WriteBufferSize = viper.GetInt("transport-write-buffer") * 1024
	serveCmdConfig.Transport.ReadBufferSize = viper.GetInt("transport-read-buffer") * 1024
	serveCmdConfig.Transport.TCPNoDelay = viper.GetBool("transport-tcp-nodelay")
	serveCmdConfig.Transport.TCPKeepAliveSec = viper.GetInt("transport-tcp-keepalive")
	serveCmdConfig.Transport.TCPLingerSec = viper.GetInt("transport-tcp-linger")

	serveCmdConfig.Serializer = viper.GetString("serializer")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	if len(cmdUtil.SplitList(viper.GetString("domains"))) == 0 {
		return fmt.Errorf("at least one domain is required")
	}
	if viper.GetInt("key-size") <= 0 {
		return fmt.Errorf("key-size must be positive")
	}

	return nil
}

// run starts the node and blocks until the process is signalled
func run(_ *cobra.Command, _ []string) error {

	// create one in-memory store per domain
	var stores []store.IDataStore
	for _, domain := range cmdUtil.SplitList(viper.GetString("domains")) {
		stores = append(stores, memstore.New(&memstore.Options{
			Domain:       domain,
			KeySize:      viper.GetInt("key-size"),
			MaxValueSize: viper.GetInt("max-value-size"),
		}))
	}

	hostPolicy := host.NewStaticHost(viper.GetString("name"), cmdUtil.SplitList(viper.GetString("peers")))

	fmt.Println("Starting dSync node with configuration:")
	fmt.Println(serveCmdConfig.String())

	node, err := engine.NewNode(serveCmdConfig, hostPolicy, stores...)
	if err != nil {
		return err
	}
	defer node.Close()

	// block until the process is asked to stop
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	fmt.Println("\nShutting down...")
	return nil
}
