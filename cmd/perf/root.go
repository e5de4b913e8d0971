package perf

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	cmdUtil "github.com/ValentinKolb/dSync/cmd/util"
	"github.com/ValentinKolb/dSync/engine"
	"github.com/ValentinKolb/dSync/engine/common"
	"github.com/ValentinKolb/dSync/lib/host"
	"github.com/ValentinKolb/dSync/lib/store"
	"github.com/ValentinKolb/dSync/lib/store/memstore"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	PerfCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Convergence benchmark for the sync engine",
		Long:    "Builds a loopback mesh of nodes with disjoint data sets and measures how long full convergence takes.",
		PreRunE: processPerfConfig,
		RunE:    run,
	}
	perfNumNodes   = 3
	perfNumRecords = 256
	perfValueSize  = 128
	perfThreshold  = uint64(32)
	perfRuns       = 3
	perfTimeoutSec = 60
)

func init() {
	// add flags
	key := "nodes"
	PerfCmd.PersistentFlags().Int(key, 3, cmdUtil.WrapString("Number of nodes in the loopback mesh"))
	key = "records"
	PerfCmd.PersistentFlags().Int(key, 256, cmdUtil.WrapString("Number of records each node starts with (all disjoint)"))
	key = "value-size"
	PerfCmd.PersistentFlags().Int(key, 128, cmdUtil.WrapString("Value size in bytes"))
	key = "threshold"
	PerfCmd.PersistentFlags().Uint64(key, 32, cmdUtil.WrapString("Exact exchange threshold to benchmark with"))
	key = "runs"
	PerfCmd.PersistentFlags().Int(key, 3, cmdUtil.WrapString("How often to repeat the benchmark"))
	key = "timeout"
	PerfCmd.PersistentFlags().Int(key, 60, cmdUtil.WrapString("Per-run convergence timeout in seconds"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfNumNodes = viper.GetInt("nodes")
	perfNumRecords = viper.GetInt("records")
	perfValueSize = viper.GetInt("value-size")
	perfThreshold = viper.GetUint64("threshold")
	perfRuns = viper.GetInt("runs")
	perfTimeoutSec = viper.GetInt("timeout")

	if perfNumNodes < 2 {
		return fmt.Errorf("a mesh needs at least 2 nodes")
	}
	return nil
}

func run(_ *cobra.Command, _ []string) error {
	fmt.Println("Convergence benchmark for dSync")
	fmt.Println()
	fmt.Printf("Nodes:     %d\n", perfNumNodes)
	fmt.Printf("Records:   %d per node (%d total)\n", perfNumRecords, perfNumNodes*perfNumRecords)
	fmt.Printf("Values:    %d bytes\n", perfValueSize)
	fmt.Printf("Threshold: %d\n", perfThreshold)
	fmt.Println()

	registry := gometrics.NewRegistry()
	timer := gometrics.GetOrRegisterTimer("convergence", registry)

	for i := 0; i < perfRuns; i++ {
		elapsed, err := runMesh()
		if err != nil {
			return fmt.Errorf("run %d: %v", i+1, err)
		}
		timer.Update(elapsed)
		fmt.Printf("run %d: converged after %s\n", i+1, elapsed)
	}

	fmt.Println()
	gometrics.WriteOnce(registry, os.Stdout)
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// runMesh builds a chain-connected loopback mesh with disjoint data and
// measures the time until every store holds every record.
func runMesh() (time.Duration, error) {
	// Staggered record counts per node: identical counts on both sides
	// of a pair would be accepted as converged without comparison
	total := uint64(0)
	for i := 0; i < perfNumNodes; i++ {
		total += uint64(perfNumRecords + i)
	}

	var nodes []*engine.Node
	var stores []store.IDataStore
	defer func() {
		for _, n := range nodes {
			n.Close()
		}
	}()

	var peerAddrs []string
	for i := 0; i < perfNumNodes; i++ {
		st := memstore.New(&memstore.Options{Domain: "bench", MaxValueSize: perfValueSize})
		preload(st, i)
		stores = append(stores, st)

		cfg := common.DefaultNodeConfig()
		cfg.Endpoint = "127.0.0.1:0"
		cfg.Reconciler.ExactExchangeThreshold = perfThreshold
		cfg.Reconciler.IdleRestartSec = 1
		cfg.LogLevel = "error"

		// Each node dials all earlier ones, forming a full mesh
		hostPolicy := host.NewStaticHost(fmt.Sprintf("bench-%d", i), append([]string(nil), peerAddrs...))
		node, err := engine.NewNode(cfg, hostPolicy, st)
		if err != nil {
			return 0, err
		}
		nodes = append(nodes, node)
		peerAddrs = append(peerAddrs, node.Addr().String())
	}

	start := time.Now()
	deadline := start.Add(time.Duration(perfTimeoutSec) * time.Second)
	for {
		converged := true
		for _, st := range stores {
			if st.TotalCount() != total {
				converged = false
				break
			}
		}
		if converged {
			return time.Since(start), nil
		}
		if time.Now().After(deadline) {
			return 0, fmt.Errorf("mesh did not converge within %d seconds", perfTimeoutSec)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// preload fills a store with the node's disjoint slice of the benchmark
// data. Keys are drawn from a per-node seeded generator so every run
// works on the same data set.
func preload(st store.IDataStore, node int) {
	rnd := rand.New(rand.NewSource(int64(node + 1)))
	value := make([]byte, perfValueSize)
	rnd.Read(value)

	for i := 0; i < perfNumRecords+node; i++ {
		key := make([]byte, st.KeySize())
		rnd.Read(key)
		if _, err := st.Store(key, value); err != nil {
			panic(err)
		}
	}
}
