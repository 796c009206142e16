package common

import (
	"errors"
	"strings"
	"testing"

	"github.com/eliquinox/simple-rsm/lib/topology"
)

func TestNodeConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *NodeConfig)
		wantErr error
	}{
		{name: "default", modify: func(c *NodeConfig) {}},
		{name: "no hosts", modify: func(c *NodeConfig) { c.Hostnames = nil }, wantErr: topology.ErrEmptyTopology},
		{name: "bad host", modify: func(c *NodeConfig) { c.Hostnames = []string{"a:b"} }, wantErr: topology.ErrInvalidHostname},
		{name: "node out of range", modify: func(c *NodeConfig) { c.NodeID = 1 }, wantErr: topology.ErrUnknownNode},
		{name: "zero rtt", modify: func(c *NodeConfig) { c.RTTMillisecond = 0 }, wantErr: ErrInvalidConfig},
		{name: "no data dir", modify: func(c *NodeConfig) { c.DataDir = "" }, wantErr: ErrInvalidConfig},
		{name: "no session timeout", modify: func(c *NodeConfig) { c.SessionTimeoutSecond = 0 }, wantErr: ErrInvalidConfig},
		{name: "bad log level", modify: func(c *NodeConfig) { c.LogLevel = "loud" }, wantErr: ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultNodeConfig()
			tt.modify(&c)
			err := c.Validate()
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNodeHostConfigUsesMemberChannel(t *testing.T) {
	c := DefaultNodeConfig()
	c.Hostnames = []string{"node0", "node1", "node2"}
	c.NodeID = 2

	nhc, err := c.ToNodeHostConfig()
	if err != nil {
		t.Fatalf("ToNodeHostConfig() error = %v", err)
	}
	if nhc.RaftAddress != "node2:9203" {
		t.Errorf("RaftAddress = %s, want node2:9203", nhc.RaftAddress)
	}

	rc := c.ToDragonboatConfig()
	if rc.ReplicaID != 3 || rc.ShardID != ShardID {
		t.Errorf("ReplicaID/ShardID = %d/%d, want 3/%d", rc.ReplicaID, rc.ShardID, ShardID)
	}
	if MemberID(rc.ReplicaID) != 2 {
		t.Errorf("MemberID(%d) = %d, want 2", rc.ReplicaID, MemberID(rc.ReplicaID))
	}
}

func TestClientConfigValidate(t *testing.T) {
	c := DefaultClientConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	c.RetryCount = 0
	if err := c.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Validate() error = %v, want %v", err, ErrInvalidConfig)
	}

	c = DefaultClientConfig()
	c.KeepAliveIntervalMillisecond = 0
	if err := c.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Validate() error = %v, want %v", err, ErrInvalidConfig)
	}
}

func TestConfigString(t *testing.T) {
	c := DefaultNodeConfig()
	c.Hostnames = []string{"localhost", "localhost"}
	s := c.String()
	if !strings.Contains(s, "ingress=localhost:9102") || !strings.Contains(s, "archive=localhost:9101") || !strings.Contains(s, "(this node)") {
		t.Errorf("String() is missing member details:\n%s", s)
	}
	if strings.Contains(s, "%!") {
		t.Errorf("String() has a bad format verb:\n%s", s)
	}

	cc := DefaultClientConfig()
	if !strings.Contains(cc.String(), "localhost:9002") {
		t.Errorf("client String() is missing the ingress endpoint:\n%s", cc.String())
	}
}

func TestParseLogLevel(t *testing.T) {
	for _, level := range []string{"debug", "INFO", "warn", "warning", "error"} {
		if _, err := ParseLogLevel(level); err != nil {
			t.Errorf("ParseLogLevel(%q) error = %v", level, err)
		}
	}
	if _, err := ParseLogLevel("verbose"); err == nil {
		t.Errorf("ParseLogLevel(verbose) expected error")
	}
}
