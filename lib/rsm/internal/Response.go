package internal

import (
	"encoding/binary"
	"fmt"
)

const (
	responseCorrelationOffset = 0
	responseValueOffset       = 8
	responseNodeOffset        = 16

	// ResponseSize is the encoded size of a response
	ResponseSize = 20
)

// Response is the answer of one node to a Command
type Response struct {
	CorrelationID int64
	Value         int64 // the replicated value after the command was applied
	NodeID        int32 // member id of the responding node
}

// Serialize encodes the response (big endian):
// 8 bytes correlation id, 8 bytes value, 4 bytes responding node id
func (response *Response) Serialize() []byte {
	result := make([]byte, ResponseSize)
	binary.BigEndian.PutUint64(result[responseCorrelationOffset:], uint64(response.CorrelationID))
	binary.BigEndian.PutUint64(result[responseValueOffset:], uint64(response.Value))
	binary.BigEndian.PutUint32(result[responseNodeOffset:], uint32(response.NodeID))
	return result
}

// Deserialize decodes a response
func (response *Response) Deserialize(data []byte) error {
	if len(data) < ResponseSize {
		return fmt.Errorf("%w for response: %d bytes", ErrShortBuffer, len(data))
	}
	response.CorrelationID = int64(binary.BigEndian.Uint64(data[responseCorrelationOffset:]))
	response.Value = int64(binary.BigEndian.Uint64(data[responseValueOffset:]))
	response.NodeID = int32(binary.BigEndian.Uint32(data[responseNodeOffset:]))
	return nil
}
