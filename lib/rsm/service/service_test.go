package service

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/eliquinox/simple-rsm/lib/cluster"
	"github.com/eliquinox/simple-rsm/lib/rsm/internal"
)

// fakeCluster is a cluster.Cluster without timers
type fakeCluster struct{}

func (fakeCluster) MemberID() int              { return 2 }
func (fakeCluster) Role() cluster.Role         { return cluster.RoleLeader }
func (fakeCluster) Time() int64                { return 0 }
func (fakeCluster) ScheduleTimer(int64, int64) {}
func (fakeCluster) CancelTimer(int64) bool     { return false }

// fakeSession records offered responses
type fakeSession struct {
	id        uint64
	responses []internal.Response
	err       error
}

func (s *fakeSession) ID() uint64 { return s.id }

func (s *fakeSession) Offer(payload []byte) error {
	if s.err != nil {
		return s.err
	}
	var r internal.Response
	if err := r.Deserialize(payload); err != nil {
		return err
	}
	s.responses = append(s.responses, r)
	return nil
}

func (s *fakeSession) last(t *testing.T) internal.Response {
	t.Helper()
	if len(s.responses) == 0 {
		t.Fatal("Expected a response")
	}
	return s.responses[len(s.responses)-1]
}

func newStartedService(t *testing.T) *ReplicatedService {
	t.Helper()
	s := NewReplicatedService(2)
	if err := s.OnStart(fakeCluster{}, nil); err != nil {
		t.Fatalf("OnStart failed: %v", err)
	}
	return s
}

func send(s *ReplicatedService, session *fakeSession, cmd internal.Command) {
	s.OnSessionMessage(session, 0, cmd.Serialize())
}

// TestGetAndSet tests that every command is answered with the value after it was applied
func TestGetAndSet(t *testing.T) {
	s := newStartedService(t)
	session := &fakeSession{id: 1}

	tests := []struct {
		name     string
		cmd      internal.Command
		expected int64
	}{
		{"initial get", internal.Command{CorrelationID: 1, Type: internal.CommandTGet}, 0},
		{"set", internal.Command{CorrelationID: 2, Type: internal.CommandTSet, Value: 101}, 101},
		{"get after set", internal.Command{CorrelationID: 3, Type: internal.CommandTGet}, 101},
		{"repeated get", internal.Command{CorrelationID: 4, Type: internal.CommandTGet}, 101},
		{"negative set", internal.Command{CorrelationID: 5, Type: internal.CommandTSet, Value: -7}, -7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send(s, session, tt.cmd)
			r := session.last(t)
			if r.CorrelationID != tt.cmd.CorrelationID {
				t.Errorf("Expected correlation id %d, got %d", tt.cmd.CorrelationID, r.CorrelationID)
			}
			if r.Value != tt.expected {
				t.Errorf("Expected value %d, got %d", tt.expected, r.Value)
			}
			if r.NodeID != 2 {
				t.Errorf("Expected responding node 2, got %d", r.NodeID)
			}
		})
	}
}

// TestUnknownCommand tests that an unknown kind tag neither mutates the value nor gets a response
func TestUnknownCommand(t *testing.T) {
	s := newStartedService(t)
	session := &fakeSession{id: 1}

	send(s, session, internal.Command{CorrelationID: 1, Type: internal.CommandTSet, Value: 5})

	cmd := internal.Command{CorrelationID: 2, Type: internal.CommandTSet, Value: 9}
	bad := cmd.Serialize()
	bad[8], bad[9] = 0, 'x'
	s.OnSessionMessage(session, 0, bad)

	if len(session.responses) != 1 {
		t.Errorf("Expected no response to the unknown command, got %d responses", len(session.responses))
	}
	if s.Rejected() != 1 {
		t.Errorf("Expected 1 rejected command, got %d", s.Rejected())
	}

	send(s, session, internal.Command{CorrelationID: 3, Type: internal.CommandTGet})
	if v := session.last(t).Value; v != 5 {
		t.Errorf("Unknown command must not mutate the value, got %d", v)
	}
}

// TestResubmittedSetIsAppliedOnce tests the de-duplication by correlation id
func TestResubmittedSetIsAppliedOnce(t *testing.T) {
	s := newStartedService(t)
	session := &fakeSession{id: 1}
	other := &fakeSession{id: 2}

	send(s, session, internal.Command{CorrelationID: 10, Type: internal.CommandTSet, Value: 1})
	send(s, other, internal.Command{CorrelationID: 1, Type: internal.CommandTSet, Value: 2})

	// the resubmission of correlation id 10 must not overwrite the SET of the other session
	send(s, session, internal.Command{CorrelationID: 10, Type: internal.CommandTSet, Value: 1})
	if r := session.last(t); r.CorrelationID != 10 || r.Value != 1 {
		t.Errorf("Expected the recorded response (10, 1), got (%d, %d)", r.CorrelationID, r.Value)
	}

	send(s, other, internal.Command{CorrelationID: 2, Type: internal.CommandTGet})
	if v := other.last(t).Value; v != 2 {
		t.Errorf("Expected value 2, got %d", v)
	}
}

// TestStaleCommandIsAnsweredNotApplied tests commands older than the last applied one of a session
func TestStaleCommandIsAnsweredNotApplied(t *testing.T) {
	s := newStartedService(t)
	session := &fakeSession{id: 1}

	send(s, session, internal.Command{CorrelationID: 10, Type: internal.CommandTSet, Value: 7})

	tests := []struct {
		name string
		cmd  internal.Command
	}{
		{"get", internal.Command{CorrelationID: 5, Type: internal.CommandTGet}},
		{"set", internal.Command{CorrelationID: 9, Type: internal.CommandTSet, Value: 99}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count := len(session.responses)
			send(s, session, tt.cmd)
			if len(session.responses) != count+1 {
				t.Fatalf("Expected one response, got %d", len(session.responses)-count)
			}
			r := session.last(t)
			if r.CorrelationID != tt.cmd.CorrelationID || r.Value != 7 || r.NodeID != 2 {
				t.Errorf("Expected response (%d, 7, 2), got (%d, %d, %d)", tt.cmd.CorrelationID, r.CorrelationID, r.Value, r.NodeID)
			}
			if v := s.sm.Value(); v != 7 {
				t.Errorf("Stale command changed the value to %d", v)
			}
		})
	}
}

// TestSessionCloseForgetsRecord tests that closing a session removes its de-duplication record
func TestSessionCloseForgetsRecord(t *testing.T) {
	s := newStartedService(t)
	session := &fakeSession{id: 1}

	send(s, session, internal.Command{CorrelationID: 10, Type: internal.CommandTSet, Value: 1})
	s.OnSessionClose(session, 0, cluster.CloseReasonTimeout)

	if _, ok := s.applied[1]; ok {
		t.Error("Record of a closed session should be removed")
	}
}

// TestDroppedResponse tests that a rejected offer does not undo the command
func TestDroppedResponse(t *testing.T) {
	s := newStartedService(t)
	session := &fakeSession{id: 1, err: cluster.ErrBackPressured}

	send(s, session, internal.Command{CorrelationID: 1, Type: internal.CommandTSet, Value: 42})

	session.err = nil
	send(s, session, internal.Command{CorrelationID: 1, Type: internal.CommandTSet, Value: 42})
	if v := session.last(t).Value; v != 42 {
		t.Errorf("Expected resubmission to be answered with 42, got %d", v)
	}
}

// TestServiceSnapshot tests that value and de-duplication records survive a snapshot
func TestServiceSnapshot(t *testing.T) {
	s := newStartedService(t)
	a, b := &fakeSession{id: 7}, &fakeSession{id: 3}
	send(s, a, internal.Command{CorrelationID: 100, Type: internal.CommandTSet, Value: 17})
	send(s, b, internal.Command{CorrelationID: 200, Type: internal.CommandTGet})

	var buf bytes.Buffer
	if err := s.OnTakeSnapshot(&buf); err != nil {
		t.Fatalf("OnTakeSnapshot failed: %v", err)
	}

	restored := NewReplicatedService(2)
	if err := restored.OnStart(fakeCluster{}, bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("OnStart from snapshot failed: %v", err)
	}

	send(restored, a, internal.Command{CorrelationID: 100, Type: internal.CommandTSet, Value: 17})
	if r := a.last(t); r.Value != 17 {
		t.Errorf("Expected resubmission answered with 17, got %d", r.Value)
	}
	if len(restored.applied) != 2 {
		t.Errorf("Expected 2 records, got %d", len(restored.applied))
	}

	var again bytes.Buffer
	if err := restored.OnTakeSnapshot(&again); err != nil {
		t.Fatalf("OnTakeSnapshot failed: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), again.Bytes()) {
		t.Error("Snapshots of the same state should be identical")
	}
}

// TestTruncatedSnapshot tests that a truncated snapshot fails the start
func TestTruncatedSnapshot(t *testing.T) {
	s := newStartedService(t)
	send(s, &fakeSession{id: 1}, internal.Command{CorrelationID: 1, Type: internal.CommandTSet, Value: 3})

	var buf bytes.Buffer
	if err := s.OnTakeSnapshot(&buf); err != nil {
		t.Fatalf("OnTakeSnapshot failed: %v", err)
	}

	restored := NewReplicatedService(2)
	err := restored.OnStart(fakeCluster{}, bytes.NewReader(buf.Bytes()[:buf.Len()-4]))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("Expected io.ErrUnexpectedEOF, got %v", err)
	}
}

// TestRoleReporter tests that role changes are exposed
func TestRoleReporter(t *testing.T) {
	var reporter cluster.RoleReporter = NewReplicatedService(3)

	if reporter.Role() != cluster.RoleFollower {
		t.Errorf("Expected initial role follower, got %s", reporter.Role())
	}
	reporter.(*ReplicatedService).OnRoleChange(cluster.RoleLeader)
	if reporter.Role() != cluster.RoleLeader {
		t.Errorf("Expected role leader, got %s", reporter.Role())
	}
	if reporter.MemberID() != 3 {
		t.Errorf("Expected member id 3, got %d", reporter.MemberID())
	}
}
