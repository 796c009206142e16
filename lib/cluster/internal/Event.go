package internal

import (
	"encoding/binary"
	"fmt"
)

// --------------------------------------------------------------------------
// Session event (payload of a SessionEvent frame)
// --------------------------------------------------------------------------

// Event is the wire form of a session event: 4 bytes code, 4 bytes leader member id, detail
type Event struct {
	Code           uint32
	LeaderMemberID int32
	Detail         string
}

// Serialize encodes the event (big endian)
func (e *Event) Serialize() []byte {
	result := make([]byte, 8+len(e.Detail))
	binary.BigEndian.PutUint32(result[0:4], e.Code)
	binary.BigEndian.PutUint32(result[4:8], uint32(e.LeaderMemberID))
	copy(result[8:], e.Detail)
	return result
}

// Deserialize decodes an event
func (e *Event) Deserialize(data []byte) error {
	if len(data) < 8 {
		return fmt.Errorf("%w for event: %d bytes", ErrShortBuffer, len(data))
	}
	e.Code = binary.BigEndian.Uint32(data[0:4])
	e.LeaderMemberID = int32(binary.BigEndian.Uint32(data[4:8]))
	e.Detail = string(data[8:])
	return nil
}

// --------------------------------------------------------------------------
// Egress message (payload of an Egress frame)
// --------------------------------------------------------------------------

// Egress is a message offered by the service: 8 bytes cluster timestamp, payload
type Egress struct {
	Timestamp int64
	Payload   []byte
}

// Serialize encodes the egress message (big endian)
func (e *Egress) Serialize() []byte {
	result := make([]byte, 8+len(e.Payload))
	binary.BigEndian.PutUint64(result[0:8], uint64(e.Timestamp))
	copy(result[8:], e.Payload)
	return result
}

// Deserialize decodes an egress message. The payload aliases data.
func (e *Egress) Deserialize(data []byte) error {
	if len(data) < 8 {
		return fmt.Errorf("%w for egress: %d bytes", ErrShortBuffer, len(data))
	}
	e.Timestamp = int64(binary.BigEndian.Uint64(data[0:8]))
	e.Payload = data[8:]
	return nil
}

// --------------------------------------------------------------------------
// Leader id (payload of a NewLeader frame)
// --------------------------------------------------------------------------

// SerializeMemberID encodes a member id as 4 bytes (big endian), -1 means unknown
func SerializeMemberID(memberID int) []byte {
	result := make([]byte, 4)
	binary.BigEndian.PutUint32(result, uint32(int32(memberID)))
	return result
}

// DeserializeMemberID decodes a member id written by SerializeMemberID
func DeserializeMemberID(data []byte) (int, error) {
	if len(data) < 4 {
		return -1, fmt.Errorf("%w for member id: %d bytes", ErrShortBuffer, len(data))
	}
	return int(int32(binary.BigEndian.Uint32(data))), nil
}
