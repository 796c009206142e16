package base

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eliquinox/simple-rsm/rpc/common"
	"github.com/eliquinox/simple-rsm/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("transport/frame")

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection to the endpoint
	Connect(endpoint string, timeout time.Duration) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// clientConn represents a single dialed connection with its reader goroutine
type clientConn struct {
	id        uint64
	conn      net.Conn
	endpoint  string
	frames    chan common.Frame
	done      chan struct{} // closed by Close, releases a blocked reader
	writeMu   sync.Mutex    // Protects writes to the connection
	timeout   time.Duration
	err       atomic.Pointer[error]
	closeOnce sync.Once
}

// clientTransport dials connections independent of the specific transport medium
type clientTransport struct {
	connector  IClientConnector
	timeout    time.Duration
	bufferSize int
	nextConnID atomic.Uint64
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, etc.)
// -----------------------------------------------------------

// NewBaseClientTransport creates a new base client transport with the specified connector.
// bufferSize bounds the number of received frames that are buffered until they are drained.
func NewBaseClientTransport(connector IClientConnector, timeout time.Duration, bufferSize int) transport.IFrameClientTransport {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &clientTransport{
		connector:  connector,
		timeout:    timeout,
		bufferSize: bufferSize,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IFrameClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) Dial(endpoint string) (transport.IClientConn, error) {
	conn, err := t.connector.Connect(endpoint, t.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}

	// Upgrade the connection with protocol-specific settings
	if err := t.connector.UpgradeConnection(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to upgrade connection to %s: %w", endpoint, err)
	}

	c := &clientConn{
		id:       t.nextConnID.Add(1),
		conn:     conn,
		endpoint: endpoint,
		frames:   make(chan common.Frame, t.bufferSize),
		done:     make(chan struct{}),
		timeout:  t.timeout,
	}
	Logger.Debugf("Connected to %s using %s transport", endpoint, t.connector.GetName())

	// Start the frame reader
	go c.readFrames()
	return c, nil
}

// --------------------------------------------------------------------------
// Connection Methods (docu see transport.IClientConn)
// --------------------------------------------------------------------------

func (c *clientConn) ID() uint64 {
	return c.id
}

func (c *clientConn) WriteFrame(frame common.Frame) error {
	if err := c.Err(); err != nil {
		return err
	}

	// Lock the connection only for writing
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
	}
	return WriteFrame(c.conn, frame)
}

func (c *clientConn) RemoteAddr() string {
	return c.endpoint
}

func (c *clientConn) Frames() <-chan common.Frame {
	return c.frames
}

func (c *clientConn) Err() error {
	if p := c.err.Load(); p != nil {
		return *p
	}
	return nil
}

func (c *clientConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		closed := net.ErrClosed
		c.err.CompareAndSwap(nil, &closed)
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// readFrames reads frames in a loop and buffers them until the connection fails.
// A full buffer blocks the reader, which in turn applies back pressure on the sender.
func (c *clientConn) readFrames() {
	defer close(c.frames)

	buf := make([]byte, HeaderSize)
	for {
		frame, err := ReadFrame(c.conn, buf)
		if err != nil {
			if err == io.EOF {
				err = fmt.Errorf("connection to %s closed by peer: %w", c.endpoint, io.EOF)
			}
			c.err.CompareAndSwap(nil, &err)
			if !errors.Is(err, net.ErrClosed) {
				Logger.Debugf("Reader of %s stopped: %v", c.endpoint, err)
			}
			c.Close()
			return
		}
		select {
		case c.frames <- frame:
		case <-c.done:
			return
		}
	}
}
