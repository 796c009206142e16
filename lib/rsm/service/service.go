package service

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync/atomic"

	"github.com/eliquinox/simple-rsm/lib/cluster"
	"github.com/eliquinox/simple-rsm/lib/rsm"
	"github.com/eliquinox/simple-rsm/lib/rsm/internal"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("service")

// lastApplied is the de-duplication record of a session
type lastApplied struct {
	correlationID int64
	value         int64
}

// ReplicatedService adapts the ReplicatedStateMachine to the cluster. Every committed command is
// decoded, applied and answered with the value after the command plus the id of this member.
//
// All callbacks except OnRoleChange run on the apply goroutine of the member, the state is
// therefore not locked. Role and MemberID may be called from any goroutine.
type ReplicatedService struct {
	memberID int
	sm       *rsm.ReplicatedStateMachine
	cluster  cluster.Cluster

	// session id -> last applied command, a resubmitted command is answered from here
	applied map[uint64]lastApplied

	role     atomic.Int32
	rejected atomic.Uint64
}

// NewReplicatedService creates the service of the member with the given id
func NewReplicatedService(memberID int) *ReplicatedService {
	s := &ReplicatedService{
		memberID: memberID,
		sm:       rsm.NewReplicatedStateMachine(),
		applied:  make(map[uint64]lastApplied),
	}
	s.role.Store(int32(cluster.RoleFollower))
	return s
}

// --------------------------------------------------------------------------
// RoleReporter
// --------------------------------------------------------------------------

// Role returns the current role of the member
func (s *ReplicatedService) Role() cluster.Role {
	return cluster.Role(s.role.Load())
}

// MemberID returns the id of the member
func (s *ReplicatedService) MemberID() int {
	return s.memberID
}

// Rejected returns the number of commands that could not be decoded
func (s *ReplicatedService) Rejected() uint64 {
	return s.rejected.Load()
}

// --------------------------------------------------------------------------
// cluster.ClusteredService
// --------------------------------------------------------------------------

// OnStart binds the cluster handle and restores the state if a snapshot is given
func (s *ReplicatedService) OnStart(c cluster.Cluster, snapshot io.Reader) error {
	s.cluster = c
	if snapshot == nil {
		log.Infof("member %d: service started", s.memberID)
		return nil
	}
	if err := s.recover(snapshot); err != nil {
		return err
	}
	log.Infof("member %d: service started from snapshot (value %d, %d sessions)", s.memberID, s.sm.Value(), len(s.applied))
	return nil
}

func (s *ReplicatedService) OnSessionOpen(session cluster.ClientSession, timestamp int64) {
	log.Debugf("member %d: session %d opened at %d", s.memberID, session.ID(), timestamp)
}

func (s *ReplicatedService) OnSessionClose(session cluster.ClientSession, timestamp int64, reason cluster.CloseReason) {
	delete(s.applied, session.ID())
	log.Debugf("member %d: session %d closed at %d (%s)", s.memberID, session.ID(), timestamp, reason)
}

// OnSessionMessage applies one command and offers the response back to the session
func (s *ReplicatedService) OnSessionMessage(session cluster.ClientSession, _ int64, payload []byte) {
	var cmd internal.Command
	if err := cmd.Deserialize(payload); err != nil {
		// protocol violation, the command is not applied and gets no response
		s.rejected.Add(1)
		log.Errorf("member %d: rejected command of session %d: %v", s.memberID, session.ID(), err)
		return
	}

	value, ok := s.apply(session.ID(), cmd)
	if !ok {
		return
	}

	response := internal.Response{CorrelationID: cmd.CorrelationID, Value: value, NodeID: int32(s.memberID)}
	if err := session.Offer(response.Serialize()); err != nil {
		// the client times out and resubmits with the same correlation id
		log.Debugf("member %d: response %d to session %d dropped: %v", s.memberID, cmd.CorrelationID, session.ID(), err)
	}
}

// OnTimerEvent is not used, no commands are scheduled
func (s *ReplicatedService) OnTimerEvent(correlationID int64, timestamp int64) {
	log.Debugf("member %d: timer %d fired at %d", s.memberID, correlationID, timestamp)
}

// OnTakeSnapshot writes the value followed by the de-duplication table sorted by session id
func (s *ReplicatedService) OnTakeSnapshot(w io.Writer) error {
	if err := s.sm.SaveSnapshot(w); err != nil {
		return err
	}

	ids := make([]uint64, 0, len(s.applied))
	for id := range s.applied {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	buf := binary.BigEndian.AppendUint32(make([]byte, 0, 4+len(ids)*24), uint32(len(ids)))
	for _, id := range ids {
		record := s.applied[id]
		buf = binary.BigEndian.AppendUint64(buf, id)
		buf = binary.BigEndian.AppendUint64(buf, uint64(record.correlationID))
		buf = binary.BigEndian.AppendUint64(buf, uint64(record.value))
	}
	_, err := w.Write(buf)
	return err
}

func (s *ReplicatedService) OnRoleChange(role cluster.Role) {
	s.role.Store(int32(role))
	log.Infof("member %d: role is now %s", s.memberID, role)
}

func (s *ReplicatedService) OnTerminate(c cluster.Cluster) {
	log.Infof("member %d: service terminated (role %s, value %d)", s.memberID, c.Role(), s.sm.Value())
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// apply runs the command unless it was already applied for the session. Commands older than the
// last applied one are not applied, they are answered with the current value. It returns false
// only if the command could not be applied.
func (s *ReplicatedService) apply(sessionID uint64, cmd internal.Command) (int64, bool) {
	last, seen := s.applied[sessionID]
	if seen {
		switch {
		case cmd.CorrelationID == last.correlationID:
			log.Debugf("member %d: answering resubmitted command %d of session %d", s.memberID, cmd.CorrelationID, sessionID)
			return last.value, true
		case cmd.CorrelationID < last.correlationID:
			log.Debugf("member %d: answering stale command %d of session %d without applying it", s.memberID, cmd.CorrelationID, sessionID)
			return s.sm.Value(), true
		}
	}

	value, err := s.sm.Apply(cmd)
	if err != nil {
		// Deserialize already rejects unknown kinds
		s.rejected.Add(1)
		log.Errorf("member %d: failed to apply command %d: %v", s.memberID, cmd.CorrelationID, err)
		return 0, false
	}
	s.applied[sessionID] = lastApplied{correlationID: cmd.CorrelationID, value: value}
	return value, true
}

func (s *ReplicatedService) recover(r io.Reader) error {
	sm := rsm.NewReplicatedStateMachine()
	if err := sm.RecoverFromSnapshot(r); err != nil {
		return err
	}

	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return fmt.Errorf("failed to read sessions from snapshot: %w", err)
	}
	n := binary.BigEndian.Uint32(header[:])

	applied := make(map[uint64]lastApplied, n)
	record := make([]byte, 24)
	for i := uint32(0); i < n; i++ {
		if _, err := io.ReadFull(r, record); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return fmt.Errorf("failed to read session %d of %d from snapshot: %w", i+1, n, err)
		}
		applied[binary.BigEndian.Uint64(record[0:])] = lastApplied{
			correlationID: int64(binary.BigEndian.Uint64(record[8:])),
			value:         int64(binary.BigEndian.Uint64(record[16:])),
		}
	}

	s.sm = sm
	s.applied = applied
	return nil
}
