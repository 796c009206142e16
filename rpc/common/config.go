package common

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/eliquinox/simple-rsm/lib/topology"
	"github.com/lni/dragonboat/v4/config"
)

// ShardID is the dragonboat shard that replicates the log of the cluster
const ShardID uint64 = 1

// ErrInvalidConfig is returned by Validate for values that can never work
var ErrInvalidConfig = errors.New("invalid configuration")

// --------------------------------------------------------------------------
// helper functions for to interface with Dragonboat (for the node config)
// --------------------------------------------------------------------------

// Dragonboat uses RTT (Round Trip Time) to determine the timing of elections and heartbeats.
// These default values are selected according to the RAFT Paper
const (
	electionRTTFactor  = 10
	heartbeatRTTFactor = 1
)

// ReplicaID maps a 0-based member id to a dragonboat replica id (which must not be 0)
func ReplicaID(nodeID int) uint64 {
	return uint64(nodeID) + 1
}

// MemberID maps a dragonboat replica id back to the 0-based member id
func MemberID(replicaID uint64) int {
	return int(replicaID) - 1
}

// ToDragonboatConfig converts the NodeConfig to Dragonboat Config
func (c *NodeConfig) ToDragonboatConfig() config.Config {
	return config.Config{
		ReplicaID:          ReplicaID(c.NodeID),
		ShardID:            ShardID,
		ElectionRTT:        electionRTTFactor,  // = c.RTTMillisecond * 10
		HeartbeatRTT:       heartbeatRTTFactor, // = c.RTTMillisecond * 1
		CheckQuorum:        true,
		SnapshotEntries:    c.SnapshotEntries,
		CompactionOverhead: c.CompactionOverhead,
		MaxInMemLogSize:    0,
	}
}

// ToNodeHostConfig creates a NodeHostConfig for Dragonboat.
// The raft address of a node is its member-facing channel.
func (c *NodeConfig) ToNodeHostConfig() (config.NodeHostConfig, error) {
	t, err := c.Topology()
	if err != nil {
		return config.NodeHostConfig{}, err
	}
	raftAddress, err := t.Address(c.NodeID, topology.ChannelMember)
	if err != nil {
		return config.NodeHostConfig{}, err
	}
	return config.NodeHostConfig{
		WALDir:         c.DataDir,
		NodeHostDir:    c.DataDir,
		RTTMillisecond: c.RTTMillisecond,
		RaftAddress:    raftAddress,
	}, nil
}

// --------------------------------------------------------------------------
// Node configuration struct
// --------------------------------------------------------------------------

// NodeConfig holds all configuration parameters of one cluster member.
type NodeConfig struct {
	// identity and topology, all ports are derived from these
	NodeID    int
	Hostnames []string
	BasePort  int

	// Dragonboat parameters
	RTTMillisecond     uint64
	SnapshotEntries    uint64
	CompactionOverhead uint64
	DataDir            string
	DeleteDirOnStart   bool

	// sessions without activity for this long (cluster time) are closed
	SessionTimeoutSecond int64

	// proposal timeout
	TimeoutSecond int64

	// Logging configuration
	LogLevel string
}

// DefaultNodeConfig returns a single node configuration on localhost
func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		NodeID:               0,
		Hostnames:            []string{"localhost"},
		BasePort:             topology.DefaultBasePort,
		RTTMillisecond:       100,
		SnapshotEntries:      1000,
		CompactionOverhead:   500,
		DataDir:              "data",
		SessionTimeoutSecond: 10,
		TimeoutSecond:        5,
		LogLevel:             "info",
	}
}

// Topology builds the cluster topology of this configuration
func (c *NodeConfig) Topology() (topology.Topology, error) {
	return topology.New(c.Hostnames, c.BasePort)
}

// Validate checks the configuration, errors are fatal at startup
func (c *NodeConfig) Validate() error {
	t, err := c.Topology()
	if err != nil {
		return err
	}
	if _, err := t.Member(c.NodeID); err != nil {
		return err
	}
	if c.RTTMillisecond == 0 {
		return fmt.Errorf("%w: rtt must be positive", ErrInvalidConfig)
	}
	if c.DataDir == "" {
		return fmt.Errorf("%w: data dir is required", ErrInvalidConfig)
	}
	if c.SessionTimeoutSecond <= 0 {
		return fmt.Errorf("%w: session timeout must be positive", ErrInvalidConfig)
	}
	if c.TimeoutSecond <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *NodeConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// Node Identity
	addSection("Node Identity")
	addField("Node ID", strconv.Itoa(c.NodeID))
	addField("Base Port", strconv.Itoa(c.BasePort))

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	// RAFT parameters
	addSection("RAFT Parameters")
	addField("Round Trip Time (ms)", fmt.Sprintf("%d ms", c.RTTMillisecond))
	addField("Election RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*electionRTTFactor))
	addField("Heartbeat RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*heartbeatRTTFactor))
	addField("Check Quorum", fmt.Sprintf("%t", true))
	addField("Snapshot Entries", fmt.Sprintf("%d", c.SnapshotEntries))
	addField("Compaction Overhead", fmt.Sprintf("%d", c.CompactionOverhead))
	addField("Session Timeout", fmt.Sprintf("%d sec", c.SessionTimeoutSecond))
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

	// Storage
	addSection("Storage")
	addField("Data Directory", c.DataDir)
	addField("Delete On Start", fmt.Sprintf("%t", c.DeleteDirOnStart))

	// Cluster members
	addSection("Cluster")
	t, err := c.Topology()
	if err != nil {
		addField("Error", err.Error())
		return sb.String()
	}
	for id := 0; id < t.Size(); id++ {
		m, _ := t.Member(id)
		marker := ""
		if id == c.NodeID {
			marker = " (this node)"
		}
		sb.WriteString(fmt.Sprintf("    Node %d: %s ingress=%s member=%s log=%s transfer=%s archive=%s%s\n",
			id, m.Hostname, m.ClientIngress, m.Member, m.Log, m.Transfer, m.ArchiveControl, marker))
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// Client configuration struct
// --------------------------------------------------------------------------

// ClientConfig holds the configuration of a replicated client
type ClientConfig struct {
	Hostnames []string
	BasePort  int

	// how long to wait for a matching response before resubmitting
	TimeoutSecond int
	// how often a command is submitted before giving up with a timeout
	RetryCount int
	// how long Start waits for a confirmed session
	ConnectTimeoutSecond int

	PollIntervalMillisecond      int
	KeepAliveIntervalMillisecond int
	// upper bound of the idle backoff while waiting for a response
	MaxIdleMillisecond int
}

// DefaultClientConfig returns a client configuration for a single node on localhost
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Hostnames:                    []string{"localhost"},
		BasePort:                     topology.DefaultBasePort,
		TimeoutSecond:                5,
		RetryCount:                   3,
		ConnectTimeoutSecond:         10,
		PollIntervalMillisecond:      1,
		KeepAliveIntervalMillisecond: 1000,
		MaxIdleMillisecond:           1,
	}
}

// Topology builds the cluster topology the client connects to
func (c *ClientConfig) Topology() (topology.Topology, error) {
	return topology.New(c.Hostnames, c.BasePort)
}

// Validate checks the configuration, errors are fatal at startup
func (c *ClientConfig) Validate() error {
	if _, err := c.Topology(); err != nil {
		return err
	}
	if c.TimeoutSecond <= 0 || c.ConnectTimeoutSecond <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	}
	if c.RetryCount < 1 {
		return fmt.Errorf("%w: retry count must be at least 1", ErrInvalidConfig)
	}
	if c.PollIntervalMillisecond <= 0 || c.KeepAliveIntervalMillisecond <= 0 || c.MaxIdleMillisecond <= 0 {
		return fmt.Errorf("%w: intervals must be positive", ErrInvalidConfig)
	}
	if c.KeepAliveIntervalMillisecond < c.PollIntervalMillisecond {
		return fmt.Errorf("%w: keep alive interval must not be shorter than the poll interval", ErrInvalidConfig)
	}
	return nil
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))
	addField("Connect Timeout", fmt.Sprintf("%d sec", c.ConnectTimeoutSecond))
	addField("Poll Interval", fmt.Sprintf("%d ms", c.PollIntervalMillisecond))
	addField("Keep Alive Interval", fmt.Sprintf("%d ms", c.KeepAliveIntervalMillisecond))

	// Endpoints
	addSection("Ingress Endpoints")
	t, err := c.Topology()
	if err != nil {
		addField("Error", err.Error())
		return sb.String()
	}
	for id := 0; id < t.Size(); id++ {
		addr, _ := t.Address(id, topology.ChannelClientIngress)
		addField(strconv.Itoa(id), addr)
	}

	return sb.String()
}
