// Package transport defines the interfaces of the framed ingress/egress channel between the
// clients and the cluster members. It provides a common contract that all transport
// implementations must fulfill, enabling protocol-agnostic communication.
//
// The package focuses on:
//   - Connections that exchange frames (session id, frame type, payload)
//   - Delivering the frames of one connection in order
//   - Draining received frames on the client without blocking
//
// Key Components:
//
//   - IFrameClientTransport: dials framed connections (IClientConn).
//
//   - IFrameServerTransport: accepts framed connections and hands their events to an
//     IServerHandler.
package transport
