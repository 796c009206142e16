package common

import "fmt"

// --------------------------------------------------------------------------
// Frame Types of the ingress/egress channel
// --------------------------------------------------------------------------

// FrameType tells the receiver of a frame how to interpret the payload
type FrameType uint32

const (
	// FrameTConnect opens a session (session id 0) or reattaches an existing one (client -> node)
	FrameTConnect FrameType = iota + 1
	// FrameTSessionEvent answers a connect: ok, redirect to the leader, error or closed (node -> client)
	FrameTSessionEvent
	// FrameTIngress carries an opaque command payload for the replicated log (client -> node)
	FrameTIngress
	// FrameTEgress carries a message the service offered to the session (node -> client)
	FrameTEgress
	// FrameTKeepAlive keeps an idle session from expiring (client -> node)
	FrameTKeepAlive
	// FrameTClose closes the session (client -> node)
	FrameTClose
	// FrameTNewLeader tells the client the node stepped down, payload is the new leader id if known (node -> client)
	FrameTNewLeader
)

func (ft FrameType) String() string {
	switch ft {
	case FrameTConnect:
		return "Connect"
	case FrameTSessionEvent:
		return "SessionEvent"
	case FrameTIngress:
		return "Ingress"
	case FrameTEgress:
		return "Egress"
	case FrameTKeepAlive:
		return "KeepAlive"
	case FrameTClose:
		return "Close"
	case FrameTNewLeader:
		return "NewLeader"
	default:
		return fmt.Sprintf("Unknown(%d)", uint32(ft))
	}
}

// Frame is one message on the ingress/egress channel
type Frame struct {
	SessionID uint64
	Type      FrameType
	Payload   []byte
}

// --------------------------------------------------------------------------
// Member status (served by the control endpoint)
// --------------------------------------------------------------------------

// MemberStatus is the observable state of one member
type MemberStatus struct {
	MemberID int    `json:"memberId"`
	Role     string `json:"role"`
	LeaderID int    `json:"leaderId"` // -1 if no leader is known
}
