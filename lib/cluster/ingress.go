package cluster

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eliquinox/simple-rsm/lib/cluster/internal"
	"github.com/eliquinox/simple-rsm/rpc/common"
	"github.com/eliquinox/simple-rsm/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

// egressCapacity is the number of egress frames buffered per client connection
const egressCapacity = 256

var ingressLog = logger.GetLogger("ingress")

// --------------------------------------------------------------------------
// Ingress
// --------------------------------------------------------------------------

// ingressHandler implements transport.IServerHandler for the client ingress channel of a node.
// Frames of one connection arrive in order, proposals of a connection are therefore serialized.
type ingressHandler struct {
	node *Node
}

func (h *ingressHandler) OnConnect(conn transport.IConn) {
	ingressLog.Debugf("member %d: client connected from %s", h.node.config.NodeID, conn.RemoteAddr())
}

func (h *ingressHandler) OnDisconnect(conn transport.IConn, err error) {
	if err != nil {
		ingressLog.Debugf("member %d: client %s disconnected: %v", h.node.config.NodeID, conn.RemoteAddr(), err)
	}
	// the session stays open until it times out, the client may reattach on any member
	h.node.detach(conn)
}

func (h *ingressHandler) OnFrame(conn transport.IConn, frame common.Frame) {
	switch frame.Type {
	case common.FrameTConnect:
		h.connect(conn, frame.SessionID)
	case common.FrameTIngress:
		h.forward(conn, frame, internal.EnvelopeTSessionMessage)
	case common.FrameTKeepAlive:
		h.forward(conn, frame, internal.EnvelopeTSessionKeepAlive)
	case common.FrameTClose:
		h.forward(conn, frame, internal.EnvelopeTSessionClose)
		h.node.detach(conn)
		_ = conn.Close()
	default:
		ingressLog.Warningf("member %d: unexpected %s frame from %s", h.node.config.NodeID, frame.Type, conn.RemoteAddr())
	}
}

// connect opens a new session (sessionID 0) or reattaches an existing one. Only the leader
// accepts sessions, every other member redirects.
func (h *ingressHandler) connect(conn transport.IConn, sessionID uint64) {
	n := h.node

	if n.Role() != RoleLeader {
		leader := n.LeaderID()
		if leader < 0 || leader == n.config.NodeID {
			h.reject(conn, sessionID, EventError, -1, ErrNoLeader.Error())
			return
		}
		n.metrics.redirects.Inc()
		h.reject(conn, sessionID, EventRedirect, leader, fmt.Sprintf("leader is member %d", leader))
		return
	}

	now := time.Now().UnixNano()
	if sessionID == 0 {
		res, err := n.propose(internal.Envelope{Type: internal.EnvelopeTSessionOpen, Timestamp: now})
		if err != nil {
			h.reject(conn, 0, EventError, n.config.NodeID, err.Error())
			return
		}
		if len(res.Data) < 8 {
			h.reject(conn, 0, EventError, n.config.NodeID, "session open returned no session id")
			return
		}
		sessionID = binary.BigEndian.Uint64(res.Data)
		ingressLog.Infof("member %d: opened session %d for %s", n.config.NodeID, sessionID, conn.RemoteAddr())
	} else {
		exists, err := n.sessionExists(sessionID)
		if err != nil {
			h.reject(conn, sessionID, EventError, n.config.NodeID, err.Error())
			return
		}
		if !exists {
			h.reject(conn, sessionID, EventClosed, n.config.NodeID, ErrSessionUnknown.Error())
			return
		}
		// refresh the session, it may have been idle during the failover
		if _, err := n.propose(internal.Envelope{Type: internal.EnvelopeTSessionKeepAlive, SessionID: sessionID, Timestamp: now}); err != nil {
			h.reject(conn, sessionID, EventError, n.config.NodeID, err.Error())
			return
		}
		ingressLog.Infof("member %d: reattached session %d for %s", n.config.NodeID, sessionID, conn.RemoteAddr())
	}

	// the event is queued before the publication becomes visible to the service, so it is the first frame
	pub := newEgressPublication(sessionID, conn, egressCapacity)
	event := internal.Event{Code: uint32(EventOK), LeaderMemberID: int32(n.config.NodeID)}
	_ = pub.offer(common.Frame{SessionID: sessionID, Type: common.FrameTSessionEvent, Payload: event.Serialize()})
	n.attachPublication(pub)
}

// forward proposes the frame of an attached session as an envelope
func (h *ingressHandler) forward(conn transport.IConn, frame common.Frame, envType internal.EnvelopeType) {
	n := h.node

	if attachedID, ok := n.attached.Load(conn.ID()); !ok || attachedID != frame.SessionID {
		h.reject(conn, frame.SessionID, EventError, n.LeaderID(), "session is not attached to this connection")
		return
	}

	env := internal.Envelope{
		Type:      envType,
		SessionID: frame.SessionID,
		Timestamp: time.Now().UnixNano(),
		Payload:   frame.Payload,
	}
	res, err := n.propose(env)
	if err != nil {
		if !errors.Is(err, ErrClosed) {
			ingressLog.Warningf("member %d: dropped %s of session %d: %v", n.config.NodeID, envType, frame.SessionID, err)
		}
		return
	}
	if res.Value == resultSessionUnknown {
		// the session timed out, tell the client and forget the connection
		h.reject(conn, frame.SessionID, EventClosed, n.config.NodeID, ErrSessionUnknown.Error())
		n.detach(conn)
	}
}

// reject writes a session event directly to the connection
func (h *ingressHandler) reject(conn transport.IConn, sessionID uint64, code EventCode, leaderID int, detail string) {
	event := internal.Event{Code: uint32(code), LeaderMemberID: int32(leaderID), Detail: detail}
	if err := conn.WriteFrame(common.Frame{SessionID: sessionID, Type: common.FrameTSessionEvent, Payload: event.Serialize()}); err != nil {
		ingressLog.Debugf("failed to write %s event to %s: %v", code, conn.RemoteAddr(), err)
	}
}

// --------------------------------------------------------------------------
// Egress publication
// --------------------------------------------------------------------------

// egressPublication is the bounded outbound queue of one client connection. Offers never block,
// a dedicated goroutine writes the frames to the connection.
type egressPublication struct {
	sessionID uint64
	conn      transport.IConn
	frames    chan common.Frame
	done      chan struct{}
	closeOnce sync.Once
}

func newEgressPublication(sessionID uint64, conn transport.IConn, capacity int) *egressPublication {
	p := &egressPublication{
		sessionID: sessionID,
		conn:      conn,
		frames:    make(chan common.Frame, capacity),
		done:      make(chan struct{}),
	}
	go p.write()
	return p
}

// offer queues a frame, it returns ErrBackPressured if the queue is full and ErrNotConnected once closed
func (p *egressPublication) offer(frame common.Frame) error {
	select {
	case <-p.done:
		return ErrNotConnected
	default:
	}
	select {
	case p.frames <- frame:
		return nil
	default:
		return ErrBackPressured
	}
}

func (p *egressPublication) close() {
	p.closeOnce.Do(func() { close(p.done) })
}

// write drains the queue until the publication is closed or the connection fails
func (p *egressPublication) write() {
	for {
		select {
		case <-p.done:
			return
		case frame := <-p.frames:
			if err := p.conn.WriteFrame(frame); err != nil {
				ingressLog.Debugf("egress of session %d failed: %v", p.sessionID, err)
				p.close()
				return
			}
		}
	}
}
