package client

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/eliquinox/simple-rsm/lib/cluster"
	"github.com/eliquinox/simple-rsm/lib/rsm/service"
	"github.com/eliquinox/simple-rsm/rpc/common"
)

// startCluster starts size members on localhost and returns them once a leader was elected
func startCluster(t *testing.T, size int, basePort int) []*cluster.Node {
	t.Helper()

	hostnames := make([]string, size)
	for i := range hostnames {
		hostnames[i] = "localhost"
	}

	dir := t.TempDir()
	nodes := make([]*cluster.Node, size)
	for id := 0; id < size; id++ {
		config := common.DefaultNodeConfig()
		config.NodeID = id
		config.Hostnames = hostnames
		config.BasePort = basePort
		config.RTTMillisecond = 10
		config.DataDir = filepath.Join(dir, fmt.Sprintf("node-%d", id))
		config.LogLevel = "warning"

		node, err := cluster.NewNode(config, service.NewReplicatedService(id))
		if err != nil {
			t.Fatalf("NewNode %d failed: %v", id, err)
		}
		if err := node.Start(); err != nil {
			t.Fatalf("Start of node %d failed: %v", id, err)
		}
		nodes[id] = node
		t.Cleanup(node.Stop)
	}

	waitForLeader(t, nodes)
	return nodes
}

// waitForLeader returns the member id of the leader
func waitForLeader(t *testing.T, nodes []*cluster.Node) int {
	t.Helper()
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		for id, node := range nodes {
			if node != nil && node.Role() == cluster.RoleLeader {
				return id
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("No leader elected")
	return -1
}

func startClient(t *testing.T, size int, basePort int) *Client {
	t.Helper()
	config := common.DefaultClientConfig()
	config.Hostnames = make([]string, size)
	for i := range config.Hostnames {
		config.Hostnames[i] = "localhost"
	}
	config.BasePort = basePort
	config.TimeoutSecond = 2

	c, err := NewClient(config)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Stop() })
	return c
}

// TestSingleNodeCluster tests the round trip against a single member
func TestSingleNodeCluster(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a cluster")
	}
	startCluster(t, 1, 23000)
	c := startClient(t, 1, 23000)

	v, err := c.GetValue()
	if err != nil || v != 0 {
		t.Fatalf("Expected (0, nil) before any SET, got (%d, %v)", v, err)
	}

	v, err = c.SetValue(101)
	if err != nil || v != 101 {
		t.Fatalf("Expected (101, nil), got (%d, %v)", v, err)
	}

	v, err = c.GetValue()
	if err != nil || v != 101 {
		t.Fatalf("Expected (101, nil), got (%d, %v)", v, err)
	}

	if id := c.LastRespondingNodeID(); id != 0 {
		t.Errorf("Expected responding node 0, got %d", id)
	}
}

// TestLeaderFailover tests that the client continues on the new leader after the leader stopped
func TestLeaderFailover(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a cluster")
	}
	nodes := startCluster(t, 4, 24000)
	c := startClient(t, 4, 24000)

	v, err := c.SetValue(101)
	if err != nil || v != 101 {
		t.Fatalf("Expected (101, nil), got (%d, %v)", v, err)
	}

	leader := waitForLeader(t, nodes)
	if id := c.LastRespondingNodeID(); id != leader {
		t.Errorf("Expected the leader %d to respond, got %d", leader, id)
	}

	nodes[leader].Stop()
	nodes[leader] = nil

	// the cluster is unavailable until a new leader is elected and the session is reattached
	deadline := time.Now().Add(60 * time.Second)
	for {
		v, err = c.SetValue(102)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("SetValue after failover failed: %v", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
	if v != 102 {
		t.Fatalf("Expected 102, got %d", v)
	}

	v, err = c.GetValue()
	if err != nil || v != 102 {
		t.Fatalf("Expected (102, nil), got (%d, %v)", v, err)
	}

	newLeader := waitForLeader(t, nodes)
	if newLeader == leader {
		t.Errorf("Stopped member %d is still the leader", leader)
	}
	if id := c.LastRespondingNodeID(); id != newLeader {
		t.Errorf("Expected the new leader %d to respond, got %d", newLeader, id)
	}
}
