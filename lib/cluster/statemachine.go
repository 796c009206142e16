package cluster

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/eliquinox/simple-rsm/lib/cluster/internal"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

// Result codes of applied entries (sm.Result.Value)
const (
	resultOK uint64 = iota
	resultSessionUnknown
	resultRejected
)

// sessionQuery asks the state machine whether a session is part of the session table
type sessionQuery uint64

// egressSink delivers offered messages to the connection of a session (if this member holds it)
type egressSink interface {
	offer(sessionID uint64, timestamp int64, payload []byte) error
}

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// logStateMachine is the dragonboat state machine of a member. It owns the replicated session
// table, the cluster clock and the timers, and drives the ClusteredService with the committed
// entries. It is also the Cluster handle given to the service.
type logStateMachine struct {
	shardID   uint64
	replicaID uint64
	memberID  int

	service        ClusteredService
	egress         egressSink
	role           func() Role
	metrics        *nodeMetrics
	sessionTimeout int64 // nanoseconds of cluster time

	started  bool
	clock    int64            // max timestamp of all applied entries
	sessions map[uint64]int64 // session id -> last activity
	timers   *internal.TimerQueue
}

func newLogStateMachine(shardID, replicaID uint64, memberID int, service ClusteredService, egress egressSink,
	role func() Role, metrics *nodeMetrics, sessionTimeout time.Duration) *logStateMachine {
	return &logStateMachine{
		shardID:        shardID,
		replicaID:      replicaID,
		memberID:       memberID,
		service:        service,
		egress:         egress,
		role:           role,
		metrics:        metrics,
		sessionTimeout: int64(sessionTimeout),
		sessions:       make(map[uint64]int64),
		timers:         internal.NewTimerQueue(),
	}
}

// Update applies a single committed entry
func (fsm *logStateMachine) Update(entry sm.Entry) (sm.Result, error) {
	if err := fsm.ensureStarted(); err != nil {
		return sm.Result{}, err
	}

	var env internal.Envelope
	if err := env.Deserialize(entry.Cmd); err != nil {
		log.Errorf("member %d: rejected entry %d: %v", fsm.memberID, entry.Index, err)
		fsm.metrics.rejectedEntries.Inc()
		return sm.Result{Value: resultRejected, Data: []byte(err.Error())}, nil
	}
	fsm.metrics.appliedEntries.Inc()

	// the cluster clock never goes back
	if env.Timestamp > fsm.clock {
		fsm.clock = env.Timestamp
	}

	result := sm.Result{Value: resultOK}
	switch env.Type {
	case internal.EnvelopeTSessionOpen:
		id := entry.Index
		fsm.sessions[id] = fsm.clock
		fsm.metrics.sessionsOpened.Inc()
		fsm.service.OnSessionOpen(fsm.session(id), fsm.clock)
		result.Data = binary.BigEndian.AppendUint64(nil, id)

	case internal.EnvelopeTSessionMessage:
		if !fsm.touch(env.SessionID) {
			result.Value = resultSessionUnknown
			break
		}
		fsm.service.OnSessionMessage(fsm.session(env.SessionID), fsm.clock, env.Payload)

	case internal.EnvelopeTSessionKeepAlive:
		// session id 0 is a clock tick of the leader
		if env.SessionID != 0 && !fsm.touch(env.SessionID) {
			result.Value = resultSessionUnknown
		}

	case internal.EnvelopeTSessionClose:
		if _, ok := fsm.sessions[env.SessionID]; !ok {
			result.Value = resultSessionUnknown
			break
		}
		fsm.closeSession(env.SessionID, CloseReasonClientAction)
	}

	fsm.expireSessions()
	fsm.fireTimers()
	fsm.metrics.activeSessions.Store(int64(len(fsm.sessions)))
	return result, nil
}

// Lookup answers sessionQuery
func (fsm *logStateMachine) Lookup(query interface{}) (interface{}, error) {
	switch q := query.(type) {
	case sessionQuery:
		_, ok := fsm.sessions[uint64(q)]
		return ok, nil
	default:
		return nil, fmt.Errorf("invalid query type: %T", query)
	}
}

// SaveSnapshot writes the clock, the sessions and the timers (sorted), followed by the snapshot of the service
func (fsm *logStateMachine) SaveSnapshot(writer io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	w := bufio.NewWriter(writer)

	buf := binary.BigEndian.AppendUint64(nil, uint64(fsm.clock))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(fsm.sessions)))
	for _, id := range sortedKeys(fsm.sessions) {
		buf = binary.BigEndian.AppendUint64(buf, id)
		buf = binary.BigEndian.AppendUint64(buf, uint64(fsm.sessions[id]))
	}
	timers := fsm.timers.Sorted()
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(timers)))
	for _, t := range timers {
		buf = binary.BigEndian.AppendUint64(buf, uint64(t[0]))
		buf = binary.BigEndian.AppendUint64(buf, uint64(t[1]))
	}
	if _, err := w.Write(buf); err != nil {
		return err
	}

	if err := fsm.service.OnTakeSnapshot(w); err != nil {
		return fmt.Errorf("service snapshot failed: %w", err)
	}
	return w.Flush()
}

// RecoverFromSnapshot restores the state written by SaveSnapshot and (re)starts the service with the rest of the snapshot
func (fsm *logStateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, _ <-chan struct{}) error {
	reader := bufio.NewReader(r)

	clock, err := readUint64(reader)
	if err != nil {
		return fmt.Errorf("failed to read clock from snapshot: %w", err)
	}

	sessions := make(map[uint64]int64)
	n, err := readUint32(reader)
	if err != nil {
		return fmt.Errorf("failed to read sessions from snapshot: %w", err)
	}
	for i := uint32(0); i < n; i++ {
		id, err := readUint64(reader)
		if err != nil {
			return fmt.Errorf("failed to read session from snapshot: %w", err)
		}
		last, err := readUint64(reader)
		if err != nil {
			return fmt.Errorf("failed to read session from snapshot: %w", err)
		}
		sessions[id] = int64(last)
	}

	timers := internal.NewTimerQueue()
	n, err = readUint32(reader)
	if err != nil {
		return fmt.Errorf("failed to read timers from snapshot: %w", err)
	}
	for i := uint32(0); i < n; i++ {
		corr, err := readUint64(reader)
		if err != nil {
			return fmt.Errorf("failed to read timer from snapshot: %w", err)
		}
		deadline, err := readUint64(reader)
		if err != nil {
			return fmt.Errorf("failed to read timer from snapshot: %w", err)
		}
		timers.Schedule(int64(corr), int64(deadline))
	}

	fsm.clock = int64(clock)
	fsm.sessions = sessions
	fsm.timers = timers
	fsm.metrics.activeSessions.Store(int64(len(sessions)))

	if err := fsm.service.OnStart(fsm, reader); err != nil {
		return fmt.Errorf("service failed to start from snapshot: %w", err)
	}
	fsm.started = true
	log.Infof("member %d: recovered from snapshot with %d sessions and %d timers", fsm.memberID, len(sessions), timers.Len())
	return nil
}

// Close terminates the service
func (fsm *logStateMachine) Close() error {
	fsm.service.OnTerminate(fsm)
	return nil
}

// --------------------------------------------------------------------------
// Cluster handle (docu see Cluster)
// --------------------------------------------------------------------------

func (fsm *logStateMachine) MemberID() int {
	return fsm.memberID
}

func (fsm *logStateMachine) Role() Role {
	return fsm.role()
}

func (fsm *logStateMachine) Time() int64 {
	return fsm.clock
}

func (fsm *logStateMachine) ScheduleTimer(correlationID int64, deadline int64) {
	fsm.timers.Schedule(correlationID, deadline)
}

func (fsm *logStateMachine) CancelTimer(correlationID int64) bool {
	return fsm.timers.Cancel(correlationID)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// ensureStarted starts the service on the first entry if no snapshot was recovered
func (fsm *logStateMachine) ensureStarted() error {
	if fsm.started {
		return nil
	}
	if err := fsm.service.OnStart(fsm, nil); err != nil {
		return fmt.Errorf("service failed to start: %w", err)
	}
	fsm.started = true
	return nil
}

// touch refreshes the activity of a session, it returns false for unknown sessions
func (fsm *logStateMachine) touch(id uint64) bool {
	if _, ok := fsm.sessions[id]; !ok {
		return false
	}
	fsm.sessions[id] = fsm.clock
	return true
}

func (fsm *logStateMachine) closeSession(id uint64, reason CloseReason) {
	delete(fsm.sessions, id)
	if reason == CloseReasonTimeout {
		fsm.metrics.sessionsTimedOut.Inc()
	} else {
		fsm.metrics.sessionsClosed.Inc()
	}
	fsm.service.OnSessionClose(fsm.session(id), fsm.clock, reason)
}

// expireSessions closes every session that was inactive for longer than the session timeout
func (fsm *logStateMachine) expireSessions() {
	if fsm.sessionTimeout <= 0 {
		return
	}
	for _, id := range sortedKeys(fsm.sessions) {
		if fsm.clock-fsm.sessions[id] > fsm.sessionTimeout {
			log.Infof("member %d: session %d timed out", fsm.memberID, id)
			fsm.closeSession(id, CloseReasonTimeout)
		}
	}
}

// fireTimers fires every due timer in deadline order (ties by correlation id).
// A timer scheduled by a callback with a due deadline fires in the same pass.
func (fsm *logStateMachine) fireTimers() {
	for {
		corr, _, ok := fsm.timers.PopDue(fsm.clock)
		if !ok {
			return
		}
		fsm.metrics.timersFired.Inc()
		fsm.service.OnTimerEvent(corr, fsm.clock)
	}
}

func (fsm *logStateMachine) session(id uint64) ClientSession {
	return &clientSession{id: id, fsm: fsm}
}

// clientSession implements ClientSession on top of the egress sink of the member
type clientSession struct {
	id  uint64
	fsm *logStateMachine
}

func (s *clientSession) ID() uint64 {
	return s.id
}

func (s *clientSession) Offer(payload []byte) error {
	err := s.fsm.egress.offer(s.id, s.fsm.clock, payload)
	if err != nil {
		s.fsm.metrics.droppedOffers.Inc()
	}
	return err
}

// --------------------------------------------------------------------------
// Snapshot helpers
// --------------------------------------------------------------------------

func sortedKeys[K uint64, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func readUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}
