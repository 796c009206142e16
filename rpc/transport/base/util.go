package base

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/eliquinox/simple-rsm/rpc/common"
)

const (
	// HeaderSize is the size of the frame header
	HeaderSize = 16
	// MaxPayloadSize bounds the payload of a single frame
	MaxPayloadSize = 1 << 20
)

// ErrFrameTooLarge is returned for frames exceeding MaxPayloadSize
var ErrFrameTooLarge = errors.New("frame too large")

// WriteFrame writes a frame to the connection with the format:
// - 8 bytes: session id (uint64, big endian)
// - 4 bytes: frame type (uint32, big endian)
// - 4 bytes: data length (uint32, big endian)
// - N bytes: data payload
func WriteFrame(w io.Writer, frame common.Frame) error {
	if len(frame.Payload) > MaxPayloadSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(frame.Payload))
	}

	header := make([]byte, HeaderSize)
	binary.BigEndian.PutUint64(header[:8], frame.SessionID)
	binary.BigEndian.PutUint32(header[8:12], uint32(frame.Type))
	binary.BigEndian.PutUint32(header[12:16], uint32(len(frame.Payload)))

	// frames without payload are written in a single call, an empty write blocks on synchronous conns
	if len(frame.Payload) == 0 {
		_, err := w.Write(header)
		return err
	}
	if conn, ok := w.(net.Conn); ok {
		b := net.Buffers{header, frame.Payload}
		_, err := b.WriteTo(conn)
		return err
	}
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(frame.Payload)
	return err
}

// ReadFrame reads a frame from the reader using the provided buffer.
// The payload of the returned frame is a fresh slice, the buffer is only used for the header.
func ReadFrame(r io.Reader, buf []byte) (common.Frame, error) {
	// Check if buffer is large enough for header
	if len(buf) < HeaderSize {
		buf = make([]byte, HeaderSize)
	}

	// Read header
	if _, err := io.ReadFull(r, buf[:HeaderSize]); err != nil {
		return common.Frame{}, err
	}

	// Parse header
	frame := common.Frame{
		SessionID: binary.BigEndian.Uint64(buf[:8]),
		Type:      common.FrameType(binary.BigEndian.Uint32(buf[8:12])),
	}
	contentLength := binary.BigEndian.Uint32(buf[12:16])
	if contentLength > MaxPayloadSize {
		return common.Frame{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, contentLength)
	}

	// If no data, return empty slice
	if contentLength == 0 {
		frame.Payload = []byte{}
		return frame, nil
	}

	// the payload outlives the read loop (it is handed to other goroutines), so it is never pooled
	frame.Payload = make([]byte, contentLength)
	if _, err := io.ReadFull(r, frame.Payload); err != nil {
		return common.Frame{}, err
	}
	return frame, nil
}
