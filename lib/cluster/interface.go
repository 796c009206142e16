package cluster

import (
	"errors"
	"fmt"
	"io"
)

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

var (
	// ErrNotConnected is returned by offers while no connection to the cluster (or the client) exists.
	// It is transient, the session is reattached on another member.
	ErrNotConnected = errors.New("cluster: not connected")
	// ErrBackPressured is returned when an offer can not be buffered right now. It is transient.
	ErrBackPressured = errors.New("cluster: back pressured")
	// ErrClosed is returned for operations on a closed session, client or node
	ErrClosed = errors.New("cluster: closed")
	// ErrNoLeader is returned when no member currently knows a leader
	ErrNoLeader = errors.New("cluster: no leader")
	// ErrSessionUnknown is returned when a session id is not (or no longer) part of the replicated session table
	ErrSessionUnknown = errors.New("cluster: unknown session")
)

// IsRetryable returns true for the transient offer errors
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBackPressured) || errors.Is(err, ErrNotConnected) || errors.Is(err, ErrNoLeader)
}

// --------------------------------------------------------------------------
// Roles
// --------------------------------------------------------------------------

// Role is the role of a member in the consensus group
type Role int32

const (
	RoleFollower Role = iota
	RoleCandidate
	RoleLeader
)

func (r Role) String() string {
	switch r {
	case RoleFollower:
		return "follower"
	case RoleCandidate:
		return "candidate"
	case RoleLeader:
		return "leader"
	default:
		return fmt.Sprintf("Role(%d)", int32(r))
	}
}

// CloseReason tells a service why a session was closed
type CloseReason int

const (
	CloseReasonClientAction CloseReason = iota // the client closed the session
	CloseReasonTimeout                         // no activity within the session timeout
)

func (r CloseReason) String() string {
	switch r {
	case CloseReasonClientAction:
		return "client action"
	case CloseReasonTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("CloseReason(%d)", int(r))
	}
}

// --------------------------------------------------------------------------
// Service side
// --------------------------------------------------------------------------

// Cluster is the handle a service receives on start. Every method must only be called from
// within a service callback.
type Cluster interface {
	// MemberID returns the 0-based id of this member
	MemberID() int
	// Role returns the current role of this member
	Role() Role
	// Time returns the cluster time in unix nanoseconds. It is derived from the log and is the
	// same on every member for the same log position.
	Time() int64
	// ScheduleTimer schedules (or reschedules) a timer, OnTimerEvent is called once the cluster
	// time reaches the deadline
	ScheduleTimer(correlationID int64, deadline int64)
	// CancelTimer cancels a timer, it returns false if no such timer exists
	CancelTimer(correlationID int64) bool
}

// ClientSession is a client session as seen by a service
type ClientSession interface {
	// ID is the session id, it is the log index of the entry that opened the session
	ID() uint64
	// Offer sends a message to the client. ErrBackPressured and ErrNotConnected are transient.
	// Members that do not hold the client connection accept and discard the message.
	Offer(payload []byte) error
}

// ClusteredService is the deterministic service replicated by the cluster.
// All callbacks are invoked from the single apply goroutine of the member, in log order.
type ClusteredService interface {
	// OnStart is called before the first entry is applied. snapshot is nil for a fresh start,
	// otherwise it holds what OnTakeSnapshot wrote. It may be called again when a newer
	// snapshot is installed.
	OnStart(cluster Cluster, snapshot io.Reader) error
	// OnSessionOpen is called when a client session was opened
	OnSessionOpen(session ClientSession, timestamp int64)
	// OnSessionClose is called when a client session was closed
	OnSessionClose(session ClientSession, timestamp int64, reason CloseReason)
	// OnSessionMessage is called for every committed message of a client session
	OnSessionMessage(session ClientSession, timestamp int64, payload []byte)
	// OnTimerEvent is called when a scheduled timer is due
	OnTimerEvent(correlationID int64, timestamp int64)
	// OnTakeSnapshot writes the state of the service
	OnTakeSnapshot(w io.Writer) error
	// OnRoleChange is called when the role of the member changes. It is not part of the
	// replicated state and is called from outside the apply goroutine.
	OnRoleChange(role Role)
	// OnTerminate is called when the member shuts down
	OnTerminate(cluster Cluster)
}

// RoleReporter is implemented by services that expose the role and id of their member
type RoleReporter interface {
	Role() Role
	MemberID() int
}

// --------------------------------------------------------------------------
// Client side
// --------------------------------------------------------------------------

// EventCode is the outcome of a connect or a session lifecycle change
type EventCode uint32

const (
	EventOK       EventCode = iota // session opened or reattached
	EventRedirect                  // the member is not the leader, LeaderMemberID is set
	EventError                     // the connect failed, Detail holds the reason
	EventClosed                    // the session was closed
)

func (c EventCode) String() string {
	switch c {
	case EventOK:
		return "OK"
	case EventRedirect:
		return "REDIRECT"
	case EventError:
		return "ERROR"
	case EventClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("EventCode(%d)", uint32(c))
	}
}

// SessionEvent is delivered to the client on connect and when its session is closed
type SessionEvent struct {
	SessionID      uint64
	Code           EventCode
	LeaderMemberID int // -1 if unknown
	Detail         string
}

// EgressListener receives what a ClusterClient polls from the cluster.
// The callbacks are invoked from within PollEgress.
type EgressListener interface {
	OnMessage(sessionID uint64, timestamp int64, payload []byte)
	OnSessionEvent(event SessionEvent)
	OnNewLeader(sessionID uint64, leaderMemberID int)
}
