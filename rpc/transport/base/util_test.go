package base

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/eliquinox/simple-rsm/rpc/common"
)

func TestFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		frame common.Frame
	}{
		{name: "empty payload", frame: common.Frame{SessionID: 0, Type: common.FrameTConnect, Payload: []byte{}}},
		{name: "ingress", frame: common.Frame{SessionID: 42, Type: common.FrameTIngress, Payload: []byte("abcdefgh")}},
		{name: "max session", frame: common.Frame{SessionID: ^uint64(0), Type: common.FrameTEgress, Payload: make([]byte, 300)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteFrame(&buf, tt.frame); err != nil {
				t.Fatalf("WriteFrame() error = %v", err)
			}
			if buf.Len() != HeaderSize+len(tt.frame.Payload) {
				t.Fatalf("encoded size = %d, want %d", buf.Len(), HeaderSize+len(tt.frame.Payload))
			}

			got, err := ReadFrame(&buf, nil)
			if err != nil {
				t.Fatalf("ReadFrame() error = %v", err)
			}
			if got.SessionID != tt.frame.SessionID || got.Type != tt.frame.Type || !bytes.Equal(got.Payload, tt.frame.Payload) {
				t.Errorf("ReadFrame() = %+v, want %+v", got, tt.frame)
			}
		})
	}
}

func TestReadFrameErrors(t *testing.T) {
	// truncated header
	if _, err := ReadFrame(bytes.NewReader([]byte{1, 2, 3}), nil); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("ReadFrame(short header) error = %v, want %v", err, io.ErrUnexpectedEOF)
	}

	// oversized length
	header := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(header[12:16], MaxPayloadSize+1)
	if _, err := ReadFrame(bytes.NewReader(header), nil); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("ReadFrame(oversized) error = %v, want %v", err, ErrFrameTooLarge)
	}

	// truncated payload
	binary.BigEndian.PutUint32(header[12:16], 10)
	if _, err := ReadFrame(bytes.NewReader(append(header, 1, 2)), nil); err == nil {
		t.Errorf("ReadFrame(truncated payload) expected error")
	}
}

// TestFramesOverPipe writes frames through net.Buffers on a synchronous in-memory connection
func TestFramesOverPipe(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	want := []common.Frame{
		{SessionID: 1, Type: common.FrameTIngress, Payload: []byte{1, 2, 3}},
		{SessionID: 1, Type: common.FrameTKeepAlive, Payload: []byte{}},
		{SessionID: 1, Type: common.FrameTClose, Payload: []byte{}},
	}

	written := make(chan error, 1)
	go func() {
		for _, f := range want {
			if err := WriteFrame(client, f); err != nil {
				written <- err
				return
			}
		}
		written <- nil
	}()

	buf := make([]byte, HeaderSize)
	for i, w := range want {
		got, err := ReadFrame(server, buf)
		if err != nil {
			t.Fatalf("ReadFrame(%d) error = %v", i, err)
		}
		if got.Type != w.Type || !bytes.Equal(got.Payload, w.Payload) {
			t.Errorf("frame %d = %+v, want %+v", i, got, w)
		}
	}

	// every frame was read, so the writer must be done
	select {
	case err := <-written:
		if err != nil {
			t.Errorf("WriteFrame() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WriteFrame() still blocked after the last frame was read")
	}
}

// TestEmptyPayloadSingleWrite tests that a frame without payload is written in one call
func TestEmptyPayloadSingleWrite(t *testing.T) {
	w := &countingWriter{}
	if err := WriteFrame(w, common.Frame{SessionID: 3, Type: common.FrameTKeepAlive}); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}
	if w.writes != 1 || w.Len() != HeaderSize {
		t.Errorf("got %d writes of %d bytes, want 1 write of %d bytes", w.writes, w.Len(), HeaderSize)
	}
}

type countingWriter struct {
	bytes.Buffer
	writes int
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.writes++
	return w.Buffer.Write(p)
}
