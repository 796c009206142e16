package internal

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrUnknownCommand is returned when the message kind tag is neither GET nor SET.
	// This is a protocol violation between client and service.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrShortBuffer is returned when the data is too short for the fixed layout
	ErrShortBuffer = errors.New("data too short")
)

// CommandType is the char-sized message kind tag of a command
type CommandType uint16

const (
	CommandTGet CommandType = 'g' // Read the replicated value.
	CommandTSet CommandType = 's' // Replace the replicated value.
)

func (ct CommandType) String() string {
	switch ct {
	case CommandTGet:
		return "GET"
	case CommandTSet:
		return "SET"
	default:
		return fmt.Sprintf("Unknown(%d)", uint16(ct))
	}
}

// Field offsets of the command layout
const (
	commandCorrelationOffset = 0
	commandTypeOffset        = 8
	commandValueOffset       = 16

	// CommandSize is the encoded size of every command (GET carries a zero value)
	CommandSize = 24
)

// Command is a single request of a client. It is immutable once built and lives for one round trip.
type Command struct {
	CorrelationID int64
	Type          CommandType
	Value         int64 // only meaningful for CommandTSet
}

// Serialize encodes the command into its fixed binary layout (big endian):
// 8 bytes correlation id,
// 2 bytes message kind tag at offset 8 (bytes 10-15 are zero),
// 8 bytes value at offset 16
func (command *Command) Serialize() []byte {
	result := make([]byte, CommandSize)
	binary.BigEndian.PutUint64(result[commandCorrelationOffset:], uint64(command.CorrelationID))
	binary.BigEndian.PutUint16(result[commandTypeOffset:], uint16(command.Type))
	if command.Type == CommandTSet {
		binary.BigEndian.PutUint64(result[commandValueOffset:], uint64(command.Value))
	}
	return result
}

// Deserialize decodes a command. An unknown kind tag yields ErrUnknownCommand, the correlation id
// is still filled in so the caller can report which request was malformed.
func (command *Command) Deserialize(data []byte) error {
	if len(data) < commandValueOffset {
		return fmt.Errorf("%w for command: %d bytes", ErrShortBuffer, len(data))
	}

	command.CorrelationID = int64(binary.BigEndian.Uint64(data[commandCorrelationOffset:]))
	command.Type = CommandType(binary.BigEndian.Uint16(data[commandTypeOffset:]))
	command.Value = 0

	switch command.Type {
	case CommandTGet:
		return nil
	case CommandTSet:
		if len(data) < CommandSize {
			return fmt.Errorf("%w for SET value: %d bytes", ErrShortBuffer, len(data))
		}
		command.Value = int64(binary.BigEndian.Uint64(data[commandValueOffset:]))
		return nil
	default:
		return fmt.Errorf("%w: tag %d (correlation id %d)", ErrUnknownCommand, uint16(command.Type), command.CorrelationID)
	}
}
