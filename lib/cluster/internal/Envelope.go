package internal

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShortBuffer is returned when the data is too short for the layout
var ErrShortBuffer = errors.New("data too short")

// EnvelopeType is the type of a replicated log entry
type EnvelopeType uint8

const (
	EnvelopeTSessionOpen      EnvelopeType = iota + 1 // Open a new client session.
	EnvelopeTSessionMessage                           // Deliver a message to the service.
	EnvelopeTSessionKeepAlive                         // Refresh the activity of a session.
	EnvelopeTSessionClose                             // Close a session.
)

func (et EnvelopeType) String() string {
	switch et {
	case EnvelopeTSessionOpen:
		return "SessionOpen"
	case EnvelopeTSessionMessage:
		return "SessionMessage"
	case EnvelopeTSessionKeepAlive:
		return "SessionKeepAlive"
	case EnvelopeTSessionClose:
		return "SessionClose"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(et))
	}
}

// EnvelopeHeaderSize is the size of the fixed part of an envelope
const EnvelopeHeaderSize = 17

// Envelope is a single entry of the replicated log
type Envelope struct {
	Type      EnvelopeType
	SessionID uint64 // 0 for SessionOpen, the log index becomes the id
	Timestamp int64  // unix nanoseconds, stamped by the proposing member
	Payload   []byte // only used for SessionMessage
}

// Serialize encodes the envelope (big endian):
// 1 byte type, 8 bytes session id, 8 bytes timestamp, payload
func (e *Envelope) Serialize() []byte {
	result := make([]byte, EnvelopeHeaderSize+len(e.Payload))
	result[0] = byte(e.Type)
	binary.BigEndian.PutUint64(result[1:9], e.SessionID)
	binary.BigEndian.PutUint64(result[9:17], uint64(e.Timestamp))
	copy(result[EnvelopeHeaderSize:], e.Payload)
	return result
}

// Deserialize decodes an envelope. The payload aliases data.
func (e *Envelope) Deserialize(data []byte) error {
	if len(data) < EnvelopeHeaderSize {
		return fmt.Errorf("%w for envelope: %d bytes", ErrShortBuffer, len(data))
	}
	e.Type = EnvelopeType(data[0])
	switch e.Type {
	case EnvelopeTSessionOpen, EnvelopeTSessionMessage, EnvelopeTSessionKeepAlive, EnvelopeTSessionClose:
	default:
		return fmt.Errorf("unknown envelope type: %d", data[0])
	}
	e.SessionID = binary.BigEndian.Uint64(data[1:9])
	e.Timestamp = int64(binary.BigEndian.Uint64(data[9:17]))
	e.Payload = data[EnvelopeHeaderSize:]
	return nil
}
