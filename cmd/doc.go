// Package cmd implements the command-line interface for the dSync
// synchronization engine. It provides a hierarchical command structure
// for running a node and for benchmarking the engine.
//
// The package is organized into several subpackages:
//
//   - serve: Commands for starting and configuring a sync node
//   - perf: Convergence benchmark against a loopback mesh
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See dsync -help for a list of all commands.
package cmd
