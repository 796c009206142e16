package cluster

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eliquinox/simple-rsm/lib/cluster/internal"
	"github.com/eliquinox/simple-rsm/lib/topology"
	"github.com/eliquinox/simple-rsm/rpc/common"
	"github.com/eliquinox/simple-rsm/rpc/transport"
	"github.com/eliquinox/simple-rsm/rpc/transport/tcp"
	"github.com/lni/dragonboat/v4/logger"
)

var clientLog = logger.GetLogger("client")

// pollFragmentLimit bounds the number of frames one PollEgress call delivers
const pollFragmentLimit = 16

// ClusterClientConfig configures a ClusterClient
type ClusterClientConfig struct {
	// IngressEndpoints is the ingress endpoint map of the topology, e.g. "0=localhost:9002,1=localhost:9102"
	IngressEndpoints string
	// ConnectTimeout bounds Connect and every automatic reattach
	ConnectTimeout time.Duration
	// MessageTimeout bounds dialing, writing and waiting for the answer to a connect
	MessageTimeout time.Duration
}

// ClusterClient is the client side of a session. It connects to the leader (following
// redirects), and transparently reattaches the same session on the new leader after a failover.
//
// Offer, SendKeepAlive and PollEgress may be called from different goroutines. PollEgress never
// blocks, concurrent calls return 0 immediately.
type ClusterClient struct {
	config    ClusterClientConfig
	listener  EgressListener
	endpoints map[int]string
	memberIDs []int
	transport transport.IFrameClientTransport

	connMu    sync.Mutex
	conn      transport.IClientConn
	sessionID atomic.Uint64
	leaderID  atomic.Int64

	pollMu       sync.Mutex
	reconnecting atomic.Bool
	closed       atomic.Bool
	ctx          context.Context
	cancel       context.CancelFunc
}

// Connect opens a session on the cluster and returns once the leader confirmed it
func Connect(ctx context.Context, config ClusterClientConfig, listener EgressListener) (*ClusterClient, error) {
	endpoints, err := topology.ParseIngressEndpoints(config.IngressEndpoints)
	if err != nil {
		return nil, err
	}
	if listener == nil {
		return nil, fmt.Errorf("%w: no egress listener", common.ErrInvalidConfig)
	}
	if config.ConnectTimeout <= 0 || config.MessageTimeout <= 0 {
		return nil, fmt.Errorf("%w: timeouts must be positive", common.ErrInvalidConfig)
	}

	ids := make([]int, 0, len(endpoints))
	for id := range endpoints {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	clientCtx, cancel := context.WithCancel(context.Background())
	c := &ClusterClient{
		config:    config,
		listener:  listener,
		endpoints: endpoints,
		memberIDs: ids,
		transport: tcp.NewTCPClientTransport(config.MessageTimeout),
		ctx:       clientCtx,
		cancel:    cancel,
	}
	c.leaderID.Store(-1)

	connectCtx, connectCancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer connectCancel()
	if err := c.connect(connectCtx, 0); err != nil {
		cancel()
		return nil, err
	}
	clientLog.Infof("session %d opened on member %d", c.SessionID(), c.LeaderMemberID())
	return c, nil
}

// --------------------------------------------------------------------------
// Public Methods
// --------------------------------------------------------------------------

// Offer sends a payload for replication. It never blocks on the cluster,
// ErrNotConnected is returned (and a reattach started) while no connection exists.
func (c *ClusterClient) Offer(payload []byte) error {
	return c.send(common.FrameTIngress, payload)
}

// SendKeepAlive keeps the session from expiring
func (c *ClusterClient) SendKeepAlive() error {
	return c.send(common.FrameTKeepAlive, nil)
}

// PollEgress delivers up to a fixed number of received frames to the listener and returns how
// many were delivered. It never blocks.
func (c *ClusterClient) PollEgress() int {
	if c.closed.Load() {
		return 0
	}
	if !c.pollMu.TryLock() {
		return 0
	}
	defer c.pollMu.Unlock()

	conn := c.currentConn()
	if conn == nil {
		c.reconnectAsync()
		return 0
	}

	count := 0
	for count < pollFragmentLimit {
		select {
		case frame, ok := <-conn.Frames():
			if !ok {
				clientLog.Warningf("connection to member %d lost: %v", c.LeaderMemberID(), conn.Err())
				c.connectionLost(conn)
				return count
			}
			count++
			if !c.handle(conn, frame) {
				return count
			}
		default:
			return count
		}
	}
	return count
}

// SessionID returns the id of the session
func (c *ClusterClient) SessionID() uint64 {
	return c.sessionID.Load()
}

// LeaderMemberID returns the member the session is attached to, -1 while detached
func (c *ClusterClient) LeaderMemberID() int {
	return int(c.leaderID.Load())
}

// IsClosed returns true once the client was closed or the cluster closed the session
func (c *ClusterClient) IsClosed() bool {
	return c.closed.Load()
}

// Close closes the session and the connection, it is safe to call it more than once
func (c *ClusterClient) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.cancel()

	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.WriteFrame(common.Frame{SessionID: c.SessionID(), Type: common.FrameTClose})
	_ = conn.Close()
	clientLog.Infof("session %d closed", c.SessionID())
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (c *ClusterClient) currentConn() transport.IClientConn {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn
}

func (c *ClusterClient) send(frameType common.FrameType, payload []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	conn := c.currentConn()
	if conn == nil {
		c.reconnectAsync()
		return ErrNotConnected
	}
	if err := conn.WriteFrame(common.Frame{SessionID: c.SessionID(), Type: frameType, Payload: payload}); err != nil {
		clientLog.Debugf("%s failed: %v", frameType, err)
		c.connectionLost(conn)
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

// handle delivers a single frame, it returns false if the connection was dropped
func (c *ClusterClient) handle(conn transport.IClientConn, frame common.Frame) bool {
	switch frame.Type {
	case common.FrameTEgress:
		var msg internal.Egress
		if err := msg.Deserialize(frame.Payload); err != nil {
			clientLog.Warningf("invalid egress frame: %v", err)
			return true
		}
		c.listener.OnMessage(frame.SessionID, msg.Timestamp, msg.Payload)

	case common.FrameTSessionEvent:
		var ev internal.Event
		if err := ev.Deserialize(frame.Payload); err != nil {
			clientLog.Warningf("invalid session event: %v", err)
			return true
		}
		event := SessionEvent{SessionID: frame.SessionID, Code: EventCode(ev.Code), LeaderMemberID: int(ev.LeaderMemberID), Detail: ev.Detail}
		c.listener.OnSessionEvent(event)
		if event.Code == EventClosed {
			clientLog.Warningf("session %d was closed by the cluster: %s", frame.SessionID, event.Detail)
			c.closed.Store(true)
			c.cancel()
			_ = conn.Close()
			return false
		}

	case common.FrameTNewLeader:
		leader, err := internal.DeserializeMemberID(frame.Payload)
		if err != nil {
			clientLog.Warningf("invalid new leader frame: %v", err)
			return true
		}
		clientLog.Infof("member %d stepped down, new leader is %d", c.LeaderMemberID(), leader)
		c.listener.OnNewLeader(frame.SessionID, leader)
		c.connectionLost(conn)
		c.leaderID.Store(int64(leader))
		return false

	default:
		clientLog.Warningf("unexpected %s frame", frame.Type)
	}
	return true
}

// connectionLost forgets the connection (if it is still the current one) and starts a reattach
func (c *ClusterClient) connectionLost(conn transport.IClientConn) {
	c.connMu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.leaderID.Store(-1)
	}
	c.connMu.Unlock()
	_ = conn.Close()
	c.reconnectAsync()
}

// reconnectAsync reattaches the session in the background, at most one reattach runs at a time
func (c *ClusterClient) reconnectAsync() {
	if c.closed.Load() || !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer c.reconnecting.Store(false)

		ctx, cancel := context.WithTimeout(c.ctx, c.config.ConnectTimeout)
		defer cancel()

		err := c.connect(ctx, c.SessionID())
		switch {
		case err == nil:
			clientLog.Infof("session %d reattached on member %d", c.SessionID(), c.LeaderMemberID())
		case errors.Is(err, ErrSessionUnknown):
			clientLog.Errorf("session %d can not be reattached: %v", c.SessionID(), err)
			c.closed.Store(true)
			c.cancel()
		default:
			clientLog.Warningf("failed to reattach session %d: %v", c.SessionID(), err)
		}
	}()
}

// connect dials members until the leader accepts the session. A sessionID of 0 opens a new session.
func (c *ClusterClient) connect(ctx context.Context, sessionID uint64) error {
	next := int(c.leaderID.Load())
	if _, ok := c.endpoints[next]; !ok {
		next = c.memberIDs[0]
	}
	idle := NewBackoffIdleStrategy(20*time.Millisecond, 500*time.Millisecond)

	var lastErr error = ErrNoLeader
	for {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrNotConnected, lastErr)
		}

		memberID := next
		conn, event, err := c.tryConnect(ctx, c.endpoints[memberID], sessionID)
		if err != nil {
			lastErr = err
			next = c.nextMember(memberID)
			idle.Idle(0)
			continue
		}

		switch event.Code {
		case EventOK:
			c.connMu.Lock()
			old := c.conn
			c.conn = conn
			c.sessionID.Store(event.SessionID)
			c.leaderID.Store(int64(memberID))
			c.connMu.Unlock()
			if old != nil {
				_ = old.Close()
			}
			if c.closed.Load() {
				_ = conn.Close()
				return ErrClosed
			}
			return nil

		case EventRedirect:
			_ = conn.Close()
			if _, ok := c.endpoints[event.LeaderMemberID]; ok && event.LeaderMemberID != memberID {
				next = event.LeaderMemberID
				continue
			}
			lastErr = fmt.Errorf("invalid redirect from member %d to %d", memberID, event.LeaderMemberID)
			next = c.nextMember(memberID)

		case EventClosed:
			_ = conn.Close()
			return fmt.Errorf("%w: %s", ErrSessionUnknown, event.Detail)

		default:
			_ = conn.Close()
			lastErr = fmt.Errorf("member %d: %s", memberID, event.Detail)
			next = c.nextMember(memberID)
		}
		idle.Idle(0)
	}
}

// tryConnect sends a connect frame to one member and waits for its session event
func (c *ClusterClient) tryConnect(ctx context.Context, endpoint string, sessionID uint64) (transport.IClientConn, SessionEvent, error) {
	conn, err := c.transport.Dial(endpoint)
	if err != nil {
		return nil, SessionEvent{}, err
	}
	if err := conn.WriteFrame(common.Frame{SessionID: sessionID, Type: common.FrameTConnect}); err != nil {
		_ = conn.Close()
		return nil, SessionEvent{}, err
	}

	timer := time.NewTimer(c.config.MessageTimeout)
	defer timer.Stop()

	select {
	case frame, ok := <-conn.Frames():
		if !ok {
			return nil, SessionEvent{}, fmt.Errorf("connection to %s lost: %v", endpoint, conn.Err())
		}
		if frame.Type != common.FrameTSessionEvent {
			_ = conn.Close()
			return nil, SessionEvent{}, fmt.Errorf("expected a session event from %s, got %s", endpoint, frame.Type)
		}
		var ev internal.Event
		if err := ev.Deserialize(frame.Payload); err != nil {
			_ = conn.Close()
			return nil, SessionEvent{}, err
		}
		return conn, SessionEvent{SessionID: frame.SessionID, Code: EventCode(ev.Code), LeaderMemberID: int(ev.LeaderMemberID), Detail: ev.Detail}, nil
	case <-timer.C:
		_ = conn.Close()
		return nil, SessionEvent{}, fmt.Errorf("no answer from %s within %s", endpoint, c.config.MessageTimeout)
	case <-ctx.Done():
		_ = conn.Close()
		return nil, SessionEvent{}, ctx.Err()
	}
}

// nextMember returns the member following id in ascending order (wrapping around)
func (c *ClusterClient) nextMember(id int) int {
	for i, m := range c.memberIDs {
		if m == id {
			return c.memberIDs[(i+1)%len(c.memberIDs)]
		}
	}
	return c.memberIDs[0]
}
