package internal

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

// TestCommandLayout checks the fixed field offsets of the encoded command
func TestCommandLayout(t *testing.T) {
	cmd := Command{CorrelationID: 0x0102030405060708, Type: CommandTSet, Value: -42}
	data := cmd.Serialize()

	if len(data) != CommandSize {
		t.Fatalf("len(Serialize()) = %d, want %d", len(data), CommandSize)
	}
	if got := binary.BigEndian.Uint64(data[0:8]); got != 0x0102030405060708 {
		t.Errorf("correlation id at offset 0 = %x", got)
	}
	if got := binary.BigEndian.Uint16(data[8:10]); got != 's' {
		t.Errorf("kind tag at offset 8 = %d, want %d", got, 's')
	}
	for i := 10; i < 16; i++ {
		if data[i] != 0 {
			t.Errorf("padding byte %d = %d, want 0", i, data[i])
		}
	}
	if got := int64(binary.BigEndian.Uint64(data[16:24])); got != -42 {
		t.Errorf("value at offset 16 = %d, want -42", got)
	}
}

func TestCommandSerializeDeserialize(t *testing.T) {
	tests := []struct {
		name    string
		command Command
	}{
		{name: "GET", command: Command{CorrelationID: 1, Type: CommandTGet}},
		{name: "SET", command: Command{CorrelationID: 2, Type: CommandTSet, Value: 101}},
		{name: "SET min int64", command: Command{CorrelationID: math.MaxInt64, Type: CommandTSet, Value: math.MinInt64}},
		{name: "negative correlation id", command: Command{CorrelationID: -7, Type: CommandTGet}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var decoded Command
			if err := decoded.Deserialize(tt.command.Serialize()); err != nil {
				t.Fatalf("Deserialize() error = %v", err)
			}
			if decoded != tt.command {
				t.Errorf("Deserialize() = %+v, want %+v", decoded, tt.command)
			}
		})
	}
}

// TestGetIgnoresValue checks that a GET never carries a value on the wire
func TestGetIgnoresValue(t *testing.T) {
	cmd := Command{CorrelationID: 3, Type: CommandTGet, Value: 99}
	var decoded Command
	if err := decoded.Deserialize(cmd.Serialize()); err != nil {
		t.Fatalf("Deserialize() error = %v", err)
	}
	if decoded.Value != 0 {
		t.Errorf("decoded GET value = %d, want 0", decoded.Value)
	}
}

func TestCommandDeserializeErrors(t *testing.T) {
	unknown := make([]byte, CommandSize)
	binary.BigEndian.PutUint64(unknown[0:8], 77)
	binary.BigEndian.PutUint16(unknown[8:10], 'x')

	shortSet := (&Command{CorrelationID: 1, Type: CommandTSet, Value: 5}).Serialize()[:20]

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{name: "empty", data: []byte{}, wantErr: ErrShortBuffer},
		{name: "header only", data: make([]byte, 9), wantErr: ErrShortBuffer},
		{name: "SET without value", data: shortSet, wantErr: ErrShortBuffer},
		{name: "unknown kind", data: unknown, wantErr: ErrUnknownCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cmd Command
			err := cmd.Deserialize(tt.data)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Deserialize() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	// the correlation id of a malformed command is still reported
	var cmd Command
	_ = cmd.Deserialize(unknown)
	if cmd.CorrelationID != 77 {
		t.Errorf("CorrelationID = %d, want 77", cmd.CorrelationID)
	}
}

func TestResponseSerializeDeserialize(t *testing.T) {
	resp := Response{CorrelationID: 12345, Value: -1, NodeID: 3}
	data := resp.Serialize()
	if len(data) != ResponseSize {
		t.Fatalf("len(Serialize()) = %d, want %d", len(data), ResponseSize)
	}
	if got := int32(binary.BigEndian.Uint32(data[16:20])); got != 3 {
		t.Errorf("node id at offset 16 = %d, want 3", got)
	}

	var decoded Response
	if err := decoded.Deserialize(data); err != nil {
		t.Fatalf("Deserialize() error = %v", err)
	}
	if decoded != resp {
		t.Errorf("Deserialize() = %+v, want %+v", decoded, resp)
	}
	if err := decoded.Deserialize(data[:19]); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("Deserialize(short) error = %v, want %v", err, ErrShortBuffer)
	}
}
