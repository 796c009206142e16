// Package base implements the framed connections of the ingress/egress channel independent of the
// specific network protocol. It serves as a base layer that is extended with protocol-specific
// connectors (see package tcp).
//
// Every message is one frame:
//
//	sessionID (8 bytes) | frameType (4 bytes) | length (4 bytes) | payload
//
// all big endian.
//
// Key Components:
//
//   - IClientConnector/IServerConnector: Interfaces for protocol-specific operations
//     that allow extending the base transport with different network protocols.
//
//   - clientTransport: dials connections. Every connection owns a reader goroutine that
//     buffers received frames in a bounded channel, so the owner can drain them without blocking.
//
//   - serverTransport: accepts connections and hands their frames, in order, to a single
//     IServerHandler.
//
// Writes use net.Buffers to combine header and payload into a single write operation.
//
// Thread Safety:
//
//	WriteFrame and Close are safe for concurrent use. The server creates a dedicated goroutine
//	for each connection.
package base
