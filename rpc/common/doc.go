// Package common provides the data structures shared by the cluster nodes, the clients and the
// command line tool.
//
// Key Components:
//
//   - NodeConfig: configuration of one cluster member, including RAFT parameters, storage
//     settings and the topology (hostnames + base port) all addresses are derived from.
//     Provides utilities for converting to Dragonboat-specific configurations.
//
//   - ClientConfig: configuration for replicated clients, controlling timeouts, retries and
//     the polling and keep alive intervals.
//
//   - Frame and FrameType: the messages exchanged on the ingress/egress channel.
//
//   - Logger: Custom logging implementation that integrates with Dragonboat's
//     logging system while providing consistent formatting across the application.
package common
