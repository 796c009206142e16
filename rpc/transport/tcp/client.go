package tcp

import (
	"net"
	"time"

	"github.com/eliquinox/simple-rsm/rpc/transport"
	"github.com/eliquinox/simple-rsm/rpc/transport/base"
)

// DefaultFrameBuffer is the number of received frames a connection buffers
const DefaultFrameBuffer = 1024

// clientConnector implements the IClientConnector interface for TCP sockets
type clientConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IClientConnector)
// --------------------------------------------------------------------------

func (c *clientConnector) GetName() string {
	return "tcp"
}

func (c *clientConnector) Connect(endpoint string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", endpoint, timeout)
}

// UpgradeConnection disables Nagle's algorithm, commands are small and latency bound
func (c *clientConnector) UpgradeConnection(conn net.Conn) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil // Not a TCP connection, nothing to upgrade
	}
	if err := tcpConn.SetNoDelay(true); err != nil {
		return err
	}
	if err := tcpConn.SetKeepAlive(true); err != nil {
		return err
	}
	return tcpConn.SetKeepAlivePeriod(15 * time.Second)
}

// --------------------------------------------------------------------------
// Client Transport Factory Method
// --------------------------------------------------------------------------

// NewTCPClientTransport creates a new TCP client transport
func NewTCPClientTransport(timeout time.Duration) transport.IFrameClientTransport {
	return base.NewBaseClientTransport(&clientConnector{}, timeout, DefaultFrameBuffer)
}
