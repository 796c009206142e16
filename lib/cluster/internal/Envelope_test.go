package internal

import (
	"bytes"
	"errors"
	"testing"
)

func TestEnvelopeSerializeDeserialize(t *testing.T) {
	tests := []struct {
		name     string
		envelope Envelope
	}{
		{name: "open", envelope: Envelope{Type: EnvelopeTSessionOpen, Timestamp: 1700000000000000000, Payload: []byte{}}},
		{name: "message", envelope: Envelope{Type: EnvelopeTSessionMessage, SessionID: 12, Timestamp: 5, Payload: []byte("payload")}},
		{name: "keep alive", envelope: Envelope{Type: EnvelopeTSessionKeepAlive, SessionID: 12, Timestamp: 6, Payload: []byte{}}},
		{name: "close", envelope: Envelope{Type: EnvelopeTSessionClose, SessionID: 1 << 40, Timestamp: -1, Payload: []byte{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var decoded Envelope
			if err := decoded.Deserialize(tt.envelope.Serialize()); err != nil {
				t.Fatalf("Deserialize() error = %v", err)
			}
			if decoded.Type != tt.envelope.Type || decoded.SessionID != tt.envelope.SessionID ||
				decoded.Timestamp != tt.envelope.Timestamp || !bytes.Equal(decoded.Payload, tt.envelope.Payload) {
				t.Errorf("Deserialize() = %+v, want %+v", decoded, tt.envelope)
			}
		})
	}
}

func TestEnvelopeDeserializeErrors(t *testing.T) {
	var e Envelope
	if err := e.Deserialize(make([]byte, EnvelopeHeaderSize-1)); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("Deserialize(short) error = %v, want %v", err, ErrShortBuffer)
	}
	bad := make([]byte, EnvelopeHeaderSize)
	bad[0] = 99
	if err := e.Deserialize(bad); err == nil {
		t.Errorf("Deserialize(unknown type) expected error")
	}
}

func TestEventAndEgress(t *testing.T) {
	ev := Event{Code: 1, LeaderMemberID: -1, Detail: "no leader"}
	var decoded Event
	if err := decoded.Deserialize(ev.Serialize()); err != nil {
		t.Fatalf("Event.Deserialize() error = %v", err)
	}
	if decoded != ev {
		t.Errorf("Event.Deserialize() = %+v, want %+v", decoded, ev)
	}

	eg := Egress{Timestamp: 99, Payload: []byte{1, 2, 3}}
	var decodedEgress Egress
	if err := decodedEgress.Deserialize(eg.Serialize()); err != nil {
		t.Fatalf("Egress.Deserialize() error = %v", err)
	}
	if decodedEgress.Timestamp != 99 || !bytes.Equal(decodedEgress.Payload, eg.Payload) {
		t.Errorf("Egress.Deserialize() = %+v, want %+v", decodedEgress, eg)
	}

	for _, id := range []int{-1, 0, 3} {
		got, err := DeserializeMemberID(SerializeMemberID(id))
		if err != nil || got != id {
			t.Errorf("member id round trip %d = %d, %v", id, got, err)
		}
	}
	if _, err := DeserializeMemberID([]byte{1}); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("DeserializeMemberID(short) error = %v, want %v", err, ErrShortBuffer)
	}
}
