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
	"github.com/puzpuzpuz/xsync/v3"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(endpoint string) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "tcp")
	GetName() string
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// serverConn is a single accepted connection
type serverConn struct {
	id        uint64
	conn      net.Conn
	writeMu   sync.Mutex // Protects writes to the connection
	timeout   time.Duration
	closeOnce sync.Once
}

// serverTransport implements the core server transport functionality
type serverTransport struct {
	connector  IServerConnector
	handler    transport.IServerHandler
	timeout    time.Duration
	listener   net.Listener
	conns      *xsync.MapOf[uint64, *serverConn]
	nextConnID atomic.Uint64
	closed     atomic.Bool
	wg         sync.WaitGroup
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, etc.)
// -----------------------------------------------------------

// NewBaseServerTransport creates a new base server transport.
// A write timeout of 0 disables write deadlines.
func NewBaseServerTransport(connector IServerConnector, writeTimeout time.Duration) transport.IFrameServerTransport {
	return &serverTransport{
		connector: connector,
		timeout:   writeTimeout,
		conns:     xsync.NewMapOf[uint64, *serverConn](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IFrameServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.IServerHandler) {
	t.handler = handler
}

func (t *serverTransport) Listen(endpoint string) error {
	if t.handler == nil {
		return fmt.Errorf("no handler registered")
	}

	// Create listener using the connector
	listener, err := t.connector.Listen(endpoint)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	t.listener = listener

	Logger.Infof("Starting %s server on %s", t.connector.GetName(), listener.Addr())

	t.wg.Add(1)
	go t.accept()
	return nil
}

func (t *serverTransport) Addr() string {
	if t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}

func (t *serverTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if t.listener != nil {
		err = t.listener.Close()
	}
	t.conns.Range(func(_ uint64, c *serverConn) bool {
		_ = c.Close()
		return true
	})
	t.wg.Wait()
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// accept accepts connections until the listener is closed
func (t *serverTransport) accept() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if t.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			Logger.Errorf("Accept error: %v", err)
			continue
		}

		c := &serverConn{
			id:      t.nextConnID.Add(1),
			conn:    conn,
			timeout: t.timeout,
		}
		t.conns.Store(c.id, c)

		// Handle the connection in a goroutine
		t.wg.Add(1)
		go t.handleConnection(c)
	}
}

// handleConnection reads the frames of one connection and hands them to the handler in order
func (t *serverTransport) handleConnection(c *serverConn) {
	defer t.wg.Done()
	defer t.conns.Delete(c.id)
	defer c.Close()

	t.handler.OnConnect(c)

	buf := make([]byte, HeaderSize)
	for {
		frame, err := ReadFrame(c.conn, buf)

		// Case EOF: Connection closed by client
		if err == io.EOF || errors.Is(err, net.ErrClosed) {
			Logger.Debugf("Connection %d closed", c.id)
			t.handler.OnDisconnect(c, nil)
			return
		}

		// Case error: log and close connection
		if err != nil {
			Logger.Warningf("Error reading frame on connection %d: %v", c.id, err)
			t.handler.OnDisconnect(c, err)
			return
		}

		t.handler.OnFrame(c, frame)
	}
}

// --------------------------------------------------------------------------
// Connection Methods (docu see transport.IConn)
// --------------------------------------------------------------------------

func (c *serverConn) ID() uint64 {
	return c.id
}

func (c *serverConn) WriteFrame(frame common.Frame) error {
	// Protect writes to the connection with a mutex
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
	}
	return WriteFrame(c.conn, frame)
}

func (c *serverConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *serverConn) Close() error {
	var err error
	c.closeOnce.Do(func() { err = c.conn.Close() })
	return err
}
