// Package http implements the control plane of a member over HTTP. Every member serves it on
// its archive-control port.
//
// Key Components:
//
//   - ControlServer: a small HTTP server with optional request logging (enabled with the debug
//     log level). The cluster node registers /metrics (prometheus text format) and /status.
//
//   - ControlClient: fetches the status and metrics of a member, used by the command line tool.
package http
