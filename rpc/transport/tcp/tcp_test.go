package tcp

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/eliquinox/simple-rsm/rpc/common"
	"github.com/eliquinox/simple-rsm/rpc/transport"
)

// echoHandler answers every ingress frame with an egress frame carrying the same payload
type echoHandler struct {
	mu           sync.Mutex
	connects     int
	disconnected chan struct{}
}

func (h *echoHandler) OnConnect(transport.IConn) {
	h.mu.Lock()
	h.connects++
	h.mu.Unlock()
}

func (h *echoHandler) OnFrame(conn transport.IConn, frame common.Frame) {
	if frame.Type == common.FrameTIngress {
		_ = conn.WriteFrame(common.Frame{SessionID: frame.SessionID, Type: common.FrameTEgress, Payload: frame.Payload})
	}
}

func (h *echoHandler) OnDisconnect(transport.IConn, error) {
	close(h.disconnected)
}

func TestTCPRoundTrip(t *testing.T) {
	handler := &echoHandler{disconnected: make(chan struct{})}
	server := NewTCPServerTransport(time.Second)
	server.RegisterHandler(handler)
	if err := server.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer server.Close()

	conn, err := NewTCPClientTransport(time.Second).Dial(server.Addr())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	for i := 0; i < 10; i++ {
		payload := []byte{byte(i), 'x'}
		if err := conn.WriteFrame(common.Frame{SessionID: 7, Type: common.FrameTIngress, Payload: payload}); err != nil {
			t.Fatalf("WriteFrame() error = %v", err)
		}
		select {
		case f := <-conn.Frames():
			if f.Type != common.FrameTEgress || f.SessionID != 7 || !bytes.Equal(f.Payload, payload) {
				t.Errorf("received %+v", f)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no echo for frame %d", i)
		}
	}

	if err := conn.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	select {
	case <-handler.disconnected:
	case <-time.After(2 * time.Second):
		t.Fatalf("server did not observe the disconnect")
	}
	if conn.Err() == nil {
		t.Errorf("Err() after Close() = nil")
	}
	if err := conn.WriteFrame(common.Frame{Type: common.FrameTKeepAlive}); err == nil {
		t.Errorf("WriteFrame() after Close() expected error")
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if handler.connects != 1 {
		t.Errorf("connects = %d, want 1", handler.connects)
	}
}

func TestServerCloseTerminatesClients(t *testing.T) {
	server := NewTCPServerTransport(time.Second)
	server.RegisterHandler(&echoHandler{disconnected: make(chan struct{})})
	if err := server.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	conn, err := NewTCPClientTransport(time.Second).Dial(server.Addr())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	// make sure the server accepted the connection before closing
	if err := conn.WriteFrame(common.Frame{Type: common.FrameTIngress, Payload: []byte{1}}); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}
	<-conn.Frames()

	if err := server.Close(); err != nil {
		t.Errorf("server Close() error = %v", err)
	}

	select {
	case _, ok := <-conn.Frames():
		if ok {
			t.Errorf("unexpected frame after server close")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("client did not observe the server close")
	}
	if conn.Err() == nil {
		t.Errorf("Err() = nil after the server closed")
	}
}
