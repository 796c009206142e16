package transport

import (
	"github.com/eliquinox/simple-rsm/rpc/common"
)

// --------------------------------------------------------------------------
// Connections
// --------------------------------------------------------------------------

// IConn is one framed connection. WriteFrame is safe for concurrent use.
type IConn interface {
	// ID is unique among the connections of one transport
	ID() uint64
	// WriteFrame writes a single frame
	WriteFrame(frame common.Frame) error
	// RemoteAddr returns the address of the peer
	RemoteAddr() string
	// Close closes the connection, it is safe to call it more than once
	Close() error
}

// IClientConn is a dialed connection. Frames received from the server are buffered and can be
// drained without blocking.
type IClientConn interface {
	IConn
	// Frames delivers received frames, the channel is closed when the connection is lost
	Frames() <-chan common.Frame
	// Err returns the error that terminated the connection (nil while it is open)
	Err() error
}

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// IServerHandler handles the events of the server side connections.
// OnFrame is called from the read loop of the connection, frames of one connection are delivered in order.
type IServerHandler interface {
	OnConnect(conn IConn)
	OnFrame(conn IConn, frame common.Frame)
	OnDisconnect(conn IConn, err error)
}

// IFrameServerTransport accepts framed connections
type IFrameServerTransport interface {
	// RegisterHandler registers the handler, must be called before Listen
	RegisterHandler(handler IServerHandler)
	// Listen binds the endpoint and accepts connections in the background
	Listen(endpoint string) error
	// Addr returns the bound address (useful when listening on port 0)
	Addr() string
	// Close stops accepting and closes all connections
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IFrameClientTransport dials framed connections
type IFrameClientTransport interface {
	Dial(endpoint string) (IClientConn, error)
}
