// Package rpc provides the communication layer between the replicated value clients and the
// cluster members.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities shared by members and clients, including the
//     frame protocol, configuration structures, and logging.
//
//   - transport: Network communication abstractions. The framed ingress/egress channel is
//     implemented on TCP, the control plane of a member (metrics, status) on HTTP.
package rpc
