package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eliquinox/simple-rsm/lib/cluster/internal"
	"github.com/eliquinox/simple-rsm/lib/topology"
	"github.com/eliquinox/simple-rsm/rpc/common"
	"github.com/eliquinox/simple-rsm/rpc/transport"
	controlhttp "github.com/eliquinox/simple-rsm/rpc/transport/http"
	"github.com/eliquinox/simple-rsm/rpc/transport/tcp"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/lni/dragonboat/v4/raftio"
	sm "github.com/lni/dragonboat/v4/statemachine"
	"github.com/puzpuzpuz/xsync/v3"
)

var (
	retries = 5
	log     = logger.GetLogger("cluster")
)

// Node is one member of the cluster. It hosts the dragonboat replica that orders the log,
// the ClusteredService driven by the log, the client ingress/egress channel and the control endpoint.
type Node struct {
	config   common.NodeConfig
	topology topology.Topology
	service  ClusteredService
	timeout  time.Duration
	metrics  *nodeMetrics

	nh      *dragonboat.NodeHost
	ingress transport.IFrameServerTransport
	control *controlhttp.ControlServer

	// session id -> publication of the client connection attached to it
	egress *xsync.MapOf[uint64, *egressPublication]
	// connection id -> session id
	attached *xsync.MapOf[uint64, uint64]

	role     atomic.Int32
	leaderID atomic.Int64

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
}

// NewNode validates the configuration and creates the member, Start starts it
func NewNode(config common.NodeConfig, service ClusteredService) (*Node, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if service == nil {
		return nil, fmt.Errorf("%w: no service", common.ErrInvalidConfig)
	}
	t, err := config.Topology()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		config:   config,
		topology: t,
		service:  service,
		timeout:  time.Duration(config.TimeoutSecond) * time.Second,
		metrics:  newNodeMetrics(config.NodeID),
		egress:   xsync.NewMapOf[uint64, *egressPublication](),
		attached: xsync.NewMapOf[uint64, uint64](),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	n.role.Store(int32(RoleFollower))
	n.leaderID.Store(-1)
	return n, nil
}

// Start starts the replica, the ingress channel and the control endpoint. It returns once all
// of them are listening, leader election happens in the background.
func (n *Node) Start() error {
	if !n.started.CompareAndSwap(false, true) {
		return fmt.Errorf("node %d already started", n.config.NodeID)
	}
	log.Infof("Starting node %d", n.config.NodeID)
	log.Infof(n.config.String())

	if n.config.DeleteDirOnStart {
		if err := os.RemoveAll(n.config.DataDir); err != nil {
			return fmt.Errorf("failed to clean data dir: %w", err)
		}
	}

	// Create the Dragonboat NodeHost
	nhc, err := n.config.ToNodeHostConfig()
	if err != nil {
		return err
	}
	nhc.RaftEventListener = n
	nh, err := dragonboat.NewNodeHost(nhc)
	if err != nil {
		return fmt.Errorf("failed to create node host: %w", err)
	}
	n.nh = nh

	// the initial membership is the member descriptor list of the topology
	members, err := topology.ParseClusterMembers(n.topology.ClusterMembers())
	if err != nil {
		n.nh.Close()
		return err
	}
	initialMembers := make(map[uint64]string, len(members))
	for _, m := range members {
		initialMembers[common.ReplicaID(m.NodeID)] = m.Member
	}

	// Start Raft for the shard
	if err := nh.StartReplica(initialMembers, false, n.createStateMachine, n.config.ToDragonboatConfig()); err != nil {
		n.nh.Close()
		return fmt.Errorf("failed to start replica: %w", err)
	}

	// client ingress/egress
	n.ingress = tcp.NewTCPServerTransport(n.timeout)
	n.ingress.RegisterHandler(&ingressHandler{node: n})
	if err := n.ingress.Listen(n.bindAddress(topology.ChannelClientIngress)); err != nil {
		n.nh.Close()
		return err
	}

	// control endpoint on the archive control port
	n.control = controlhttp.NewControlServer(n.config.LogLevel == "debug")
	n.control.HandleFunc("GET /metrics", n.handleMetrics)
	n.control.HandleFunc("GET /status", n.handleStatus)
	if err := n.control.Listen(n.bindAddress(topology.ChannelArchiveControl)); err != nil {
		_ = n.ingress.Close()
		n.nh.Close()
		return err
	}

	n.wg.Add(1)
	go n.tick()

	log.Infof("Node %d started", n.config.NodeID)
	return nil
}

// Stop shuts the member down, it is safe to call it more than once
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		log.Infof("Stopping node %d", n.config.NodeID)
		n.cancel()
		n.wg.Wait()

		if n.ingress != nil {
			if err := n.ingress.Close(); err != nil {
				log.Warningf("failed to close ingress: %v", err)
			}
		}
		n.egress.Range(func(id uint64, pub *egressPublication) bool {
			pub.close()
			n.egress.Delete(id)
			return true
		})
		if n.control != nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			_ = n.control.Close(ctx)
			cancel()
		}
		if n.nh != nil {
			n.nh.Close()
		}
		close(n.done)
		log.Infof("Node %d stopped", n.config.NodeID)
	})
}

// Done is closed once the node is stopped
func (n *Node) Done() <-chan struct{} {
	return n.done
}

// Role returns the current role of this member
func (n *Node) Role() Role {
	return Role(n.role.Load())
}

// MemberID returns the 0-based id of this member
func (n *Node) MemberID() int {
	return n.config.NodeID
}

// LeaderID returns the member id of the current leader, -1 if no leader is known
func (n *Node) LeaderID() int {
	if n.nh == nil {
		return -1
	}
	leaderID, _, valid, err := n.nh.GetLeaderID(common.ShardID)
	if err != nil || !valid || leaderID == 0 {
		return -1
	}
	return common.MemberID(leaderID)
}

// Status returns the observable state of the member
func (n *Node) Status() common.MemberStatus {
	return common.MemberStatus{
		MemberID: n.MemberID(),
		Role:     n.Role().String(),
		LeaderID: n.LeaderID(),
	}
}

// --------------------------------------------------------------------------
// raftio.IRaftEventListener
// --------------------------------------------------------------------------

// LeaderUpdated is called by dragonboat whenever the known leader changes. It must not block.
func (n *Node) LeaderUpdated(info raftio.LeaderInfo) {
	if info.ShardID != common.ShardID {
		return
	}

	role := RoleFollower
	switch info.LeaderID {
	case 0:
		role = RoleCandidate
		n.leaderID.Store(-1)
	case info.ReplicaID:
		role = RoleLeader
		n.leaderID.Store(int64(common.MemberID(info.LeaderID)))
	default:
		n.leaderID.Store(int64(common.MemberID(info.LeaderID)))
	}

	previous := Role(n.role.Swap(int32(role)))
	if previous == role {
		return
	}
	n.metrics.leader.Store(role == RoleLeader)
	log.Infof("member %d: role changed %s -> %s (term %d, leader %d)", n.config.NodeID, previous, role, info.Term, n.leaderID.Load())
	n.service.OnRoleChange(role)

	if previous == RoleLeader {
		go n.detachAll(int(n.leaderID.Load()))
	}
}

// --------------------------------------------------------------------------
// Internal Methods
// --------------------------------------------------------------------------

// createStateMachine is the dragonboat state machine factory
func (n *Node) createStateMachine(shardID uint64, replicaID uint64) sm.IStateMachine {
	return newLogStateMachine(shardID, replicaID, common.MemberID(replicaID), n.service, n, n.Role, n.metrics,
		time.Duration(n.config.SessionTimeoutSecond)*time.Second)
}

// bindAddress listens on every interface on the port of the channel
func (n *Node) bindAddress(channel topology.Channel) string {
	return net.JoinHostPort("", strconv.Itoa(topology.Port(n.topology.BasePort(), n.config.NodeID, channel)))
}

// propose replicates an envelope. Busy proposals are retried a bounded number of times,
// after that the envelope is dropped and the client has to resubmit.
func (n *Node) propose(env internal.Envelope) (sm.Result, error) {
	cs := n.nh.GetNoOPSession(common.ShardID)
	cmd := env.Serialize()
	backoff := time.Duration(n.config.RTTMillisecond) * time.Millisecond

	for i := 0; i < retries; i++ {
		ctx, cancel := context.WithTimeout(n.ctx, n.timeout)
		start := time.Now()
		res, err := n.nh.SyncPropose(ctx, cs, cmd)
		cancel()
		n.metrics.proposeDuration.UpdateDuration(start)

		// Check for system busy errors
		if errors.Is(err, dragonboat.ErrSystemBusy) {
			n.metrics.proposalRetries.Inc()
			log.Infof("SyncPropose: System busy, retrying (%d/%d)...", i+1, retries)
			select {
			case <-time.After(backoff):
			case <-n.ctx.Done():
				return sm.Result{}, ErrClosed
			}
			continue
		}
		if err != nil {
			if n.ctx.Err() != nil {
				return sm.Result{}, ErrClosed
			}
			return sm.Result{}, err
		}
		if res.Value == resultRejected {
			return res, fmt.Errorf("entry rejected: %s", string(res.Data))
		}
		return res, nil
	}
	n.metrics.proposalsDropped.Inc()
	return sm.Result{}, fmt.Errorf("%w: proposal dropped after %d attempts", ErrBackPressured, retries)
}

// sessionExists reads the replicated session table (linearizable)
func (n *Node) sessionExists(id uint64) (bool, error) {
	ctx, cancel := context.WithTimeout(n.ctx, n.timeout)
	defer cancel()
	res, err := n.nh.SyncRead(ctx, common.ShardID, sessionQuery(id))
	if err != nil {
		return false, err
	}
	ok, _ := res.(bool)
	return ok, nil
}

// tick advances the cluster clock while this member is the leader, so sessions expire and
// timers fire even when no client sends anything
func (n *Node) tick() {
	defer n.wg.Done()

	interval := time.Duration(n.config.SessionTimeoutSecond) * time.Second / 4
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			if n.Role() != RoleLeader {
				continue
			}
			env := internal.Envelope{Type: internal.EnvelopeTSessionKeepAlive, Timestamp: time.Now().UnixNano()}
			if _, err := n.propose(env); err != nil && !errors.Is(err, ErrClosed) {
				log.Debugf("clock tick failed: %v", err)
			}
		}
	}
}

// --------------------------------------------------------------------------
// Egress
// --------------------------------------------------------------------------

// offer implements egressSink. Sessions without a connection on this member are discarded.
func (n *Node) offer(sessionID uint64, timestamp int64, payload []byte) error {
	pub, ok := n.egress.Load(sessionID)
	if !ok {
		return nil
	}
	msg := internal.Egress{Timestamp: timestamp, Payload: payload}
	return pub.offer(common.Frame{SessionID: sessionID, Type: common.FrameTEgress, Payload: msg.Serialize()})
}

// attachPublication binds a session to a client connection, a previous connection of the session is detached
func (n *Node) attachPublication(pub *egressPublication) {
	if old, loaded := n.egress.LoadAndStore(pub.sessionID, pub); loaded {
		old.close()
		n.attached.Delete(old.conn.ID())
	} else {
		n.metrics.egressConnections.Add(1)
	}
	n.attached.Store(pub.conn.ID(), pub.sessionID)
}

// detach removes the session of a connection from the egress registry
func (n *Node) detach(conn transport.IConn) {
	sessionID, ok := n.attached.LoadAndDelete(conn.ID())
	if !ok {
		return
	}
	// only remove the publication if it still belongs to this connection
	if pub, ok := n.egress.Load(sessionID); ok && pub.conn.ID() == conn.ID() {
		n.egress.Delete(sessionID)
		n.metrics.egressConnections.Add(-1)
		pub.close()
	}
}

// detachAll tells every attached client that this member is no longer the leader and closes
// their connections, the clients reattach on the new leader
func (n *Node) detachAll(leaderID int) {
	n.egress.Range(func(sessionID uint64, pub *egressPublication) bool {
		frame := common.Frame{SessionID: sessionID, Type: common.FrameTNewLeader, Payload: internal.SerializeMemberID(leaderID)}
		if err := pub.conn.WriteFrame(frame); err != nil {
			log.Debugf("failed to send new leader to session %d: %v", sessionID, err)
		}
		n.detach(pub.conn)
		_ = pub.conn.Close()
		return true
	})
}

// --------------------------------------------------------------------------
// Control endpoint handlers
// --------------------------------------------------------------------------

func (n *Node) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	n.metrics.WritePrometheus(w)
}

func (n *Node) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(n.Status()); err != nil {
		http.Error(w, "Failed to write response", http.StatusInternalServerError)
	}
}
