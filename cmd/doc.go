// Package cmd implements the command-line interface of the replicated state machine.
// It provides a hierarchical command structure with operations for running a cluster
// member and interacting with the cluster as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Starts a cluster member
//   - value: Commands for the replicated value (get, set, perf)
//   - topology: Prints the derived ports and endpoints of a cluster
//   - status: Prints the role of every member using the control endpoints
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See rsm -help for a list of all commands.
package cmd
