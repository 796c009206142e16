package rsm

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/eliquinox/simple-rsm/lib/rsm/internal"
)

// ReplicatedStateMachine holds the single replicated value of a node.
//
// Apply is a pure function of (current value, command), so copies driven by the same ordered
// command sequence converge bit for bit. The type has no locking: the consensus layer delivers
// commands to a node from one goroutine only.
type ReplicatedStateMachine struct {
	value int64
}

// NewReplicatedStateMachine returns a state machine holding 0
func NewReplicatedStateMachine() *ReplicatedStateMachine {
	return &ReplicatedStateMachine{}
}

// Apply applies a decoded command and returns the value after applying it.
// GET leaves the value unchanged, SET replaces it.
func (m *ReplicatedStateMachine) Apply(cmd internal.Command) (int64, error) {
	switch cmd.Type {
	case internal.CommandTGet:
	case internal.CommandTSet:
		m.value = cmd.Value
	default:
		return m.value, fmt.Errorf("%w: %s", internal.ErrUnknownCommand, cmd.Type)
	}
	return m.value, nil
}

// Value returns the current value
func (m *ReplicatedStateMachine) Value() int64 {
	return m.value
}

// SetValue replaces the value, it is the SET path without a command
func (m *ReplicatedStateMachine) SetValue(value int64) {
	m.value = value
}

// SaveSnapshot writes the value as 8 bytes big endian
func (m *ReplicatedStateMachine) SaveSnapshot(w io.Writer) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(m.value))
	_, err := w.Write(buf[:])
	return err
}

// RecoverFromSnapshot restores the value written by SaveSnapshot
func (m *ReplicatedStateMachine) RecoverFromSnapshot(r io.Reader) error {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return fmt.Errorf("failed to read replicated value from snapshot: %w", err)
	}
	m.value = int64(binary.BigEndian.Uint64(buf[:]))
	return nil
}
