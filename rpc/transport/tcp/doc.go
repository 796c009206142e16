// Package tcp implements the TCP connectors of the framed ingress/egress transport.
// It provides concrete implementations of the base package's connector interfaces.
// See the base package documentation for the frame format.
//
// Key Components:
//
//   - clientConnector: TCP-specific implementation of base.IClientConnector
//     (TCP_NODELAY and keep alive are always enabled)
//
//   - serverConnector: TCP-specific implementation of base.IServerConnector
package tcp
