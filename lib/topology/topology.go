package topology

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Port layout
// --------------------------------------------------------------------------

// Channel identifies one logical network channel of a cluster member.
// The numeric value is the port offset of the channel within the member's port range.
type Channel int

const (
	ChannelArchiveControl Channel = 1 // Control endpoint of the node (metrics, role)
	ChannelClientIngress  Channel = 2 // Client facing ingress/egress
	ChannelMember         Channel = 3 // Member to member consensus traffic
	ChannelLog            Channel = 4 // Log replication
	ChannelTransfer       Channel = 5 // Log and snapshot transfer
)

const (
	// DefaultBasePort is the first port of node 0
	DefaultBasePort = 9000
	// PortsPerNode is the stride between the port ranges of two consecutive nodes.
	// It must stay larger than the largest channel offset.
	PortsPerNode = 100
)

// Channels lists every channel in the order used by member descriptors
var Channels = []Channel{ChannelClientIngress, ChannelMember, ChannelLog, ChannelTransfer, ChannelArchiveControl}

func (c Channel) String() string {
	switch c {
	case ChannelArchiveControl:
		return "archive-control"
	case ChannelClientIngress:
		return "client-ingress"
	case ChannelMember:
		return "member"
	case ChannelLog:
		return "log"
	case ChannelTransfer:
		return "transfer"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

var (
	ErrEmptyTopology    = errors.New("topology: no cluster members")
	ErrInvalidHostname  = errors.New("topology: invalid hostname")
	ErrInvalidBasePort  = errors.New("topology: invalid base port")
	ErrPortCollision    = errors.New("topology: port range exceeds 65535")
	ErrUnknownNode      = errors.New("topology: unknown node id")
	ErrInvalidEndpoints = errors.New("topology: invalid endpoint list")
)

// Port computes the port of a channel for a node: basePort + nodeID*PortsPerNode + offset
func Port(basePort, nodeID int, channel Channel) int {
	return basePort + nodeID*PortsPerNode + int(channel)
}

// --------------------------------------------------------------------------
// Topology
// --------------------------------------------------------------------------

// ClusterMember holds the derived addresses of a single member
type ClusterMember struct {
	NodeID         int
	Hostname       string
	ClientIngress  string
	Member         string
	Log            string
	Transfer       string
	ArchiveControl string
}

// Topology is an ordered list of member hostnames (index = node id) sharing a base port.
// Nothing but the hostnames and the base port is configured, every address is derived.
type Topology struct {
	hostnames []string
	basePort  int
}

// New validates the hostnames and base port and returns the topology.
// Errors are configuration errors and should abort startup.
func New(hostnames []string, basePort int) (Topology, error) {
	if len(hostnames) == 0 {
		return Topology{}, ErrEmptyTopology
	}
	if basePort <= 0 {
		return Topology{}, fmt.Errorf("%w: %d", ErrInvalidBasePort, basePort)
	}

	hosts := make([]string, len(hostnames))
	for i, h := range hostnames {
		h = strings.TrimSpace(h)
		if h == "" || strings.ContainsAny(h, ",=|: \t") {
			return Topology{}, fmt.Errorf("%w: %q (node %d)", ErrInvalidHostname, hostnames[i], i)
		}
		hosts[i] = h
	}

	// the highest port of the last node must still be a valid port
	if last := Port(basePort, len(hosts)-1, ChannelTransfer); last > 65535 {
		return Topology{}, fmt.Errorf("%w: node %d would use port %d", ErrPortCollision, len(hosts)-1, last)
	}

	return Topology{hostnames: hosts, basePort: basePort}, nil
}

// ParseHostnames splits a comma separated hostname list and builds the topology
func ParseHostnames(list string, basePort int) (Topology, error) {
	if strings.TrimSpace(list) == "" {
		return Topology{}, ErrEmptyTopology
	}
	return New(strings.Split(list, ","), basePort)
}

// Size returns the number of members
func (t Topology) Size() int {
	return len(t.hostnames)
}

// BasePort returns the port of node 0 with offset 0
func (t Topology) BasePort() int {
	return t.basePort
}

// Hostnames returns a copy of the member hostnames
func (t Topology) Hostnames() []string {
	return append([]string(nil), t.hostnames...)
}

// Address returns the host:port string of the channel of the given node
func (t Topology) Address(nodeID int, channel Channel) (string, error) {
	if nodeID < 0 || nodeID >= len(t.hostnames) {
		return "", fmt.Errorf("%w: %d", ErrUnknownNode, nodeID)
	}
	return t.hostnames[nodeID] + ":" + strconv.Itoa(Port(t.basePort, nodeID, channel)), nil
}

// Member returns every derived address of the node
func (t Topology) Member(nodeID int) (ClusterMember, error) {
	if nodeID < 0 || nodeID >= len(t.hostnames) {
		return ClusterMember{}, fmt.Errorf("%w: %d", ErrUnknownNode, nodeID)
	}
	addr := func(c Channel) string {
		return t.hostnames[nodeID] + ":" + strconv.Itoa(Port(t.basePort, nodeID, c))
	}
	return ClusterMember{
		NodeID:         nodeID,
		Hostname:       t.hostnames[nodeID],
		ClientIngress:  addr(ChannelClientIngress),
		Member:         addr(ChannelMember),
		Log:            addr(ChannelLog),
		Transfer:       addr(ChannelTransfer),
		ArchiveControl: addr(ChannelArchiveControl),
	}, nil
}

// IngressEndpoints returns the comma separated list of nodeId=host:port ingress endpoints,
// e.g. "0=localhost:9002,1=localhost:9102"
func (t Topology) IngressEndpoints() string {
	var sb strings.Builder
	for i := range t.hostnames {
		if i > 0 {
			sb.WriteByte(',')
		}
		addr, _ := t.Address(i, ChannelClientIngress)
		sb.WriteString(strconv.Itoa(i))
		sb.WriteByte('=')
		sb.WriteString(addr)
	}
	return sb.String()
}

// ClusterMembers returns the member descriptor list consumed by the consensus layer at bootstrap.
// Every member is one '|' terminated record:
//
//	nodeId,ingress,member,log,transfer,archiveControl|
func (t Topology) ClusterMembers() string {
	var sb strings.Builder
	for i := range t.hostnames {
		sb.WriteString(strconv.Itoa(i))
		for _, c := range Channels {
			addr, _ := t.Address(i, c)
			sb.WriteByte(',')
			sb.WriteString(addr)
		}
		sb.WriteByte('|')
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// Parsers (inverse of the string forms above)
// --------------------------------------------------------------------------

// ParseIngressEndpoints parses an ingress endpoint list as produced by IngressEndpoints
func ParseIngressEndpoints(endpoints string) (map[int]string, error) {
	if strings.TrimSpace(endpoints) == "" {
		return nil, ErrEmptyTopology
	}

	result := make(map[int]string)
	for _, entry := range strings.Split(endpoints, ",") {
		parts := strings.Split(strings.TrimSpace(entry), "=")
		if len(parts) != 2 || parts[1] == "" {
			return nil, fmt.Errorf("%w: %q (expected ID=host:port)", ErrInvalidEndpoints, entry)
		}
		id, err := strconv.Atoi(parts[0])
		if err != nil || id < 0 {
			return nil, fmt.Errorf("%w: invalid node id %q", ErrInvalidEndpoints, parts[0])
		}
		if _, ok := result[id]; ok {
			return nil, fmt.Errorf("%w: duplicate node id %d", ErrInvalidEndpoints, id)
		}
		result[id] = parts[1]
	}
	return result, nil
}

// ParseClusterMembers parses a member descriptor list as produced by ClusterMembers
func ParseClusterMembers(members string) ([]ClusterMember, error) {
	var result []ClusterMember
	for _, record := range strings.Split(members, "|") {
		if record == "" {
			continue
		}
		fields := strings.Split(record, ",")
		if len(fields) != 1+len(Channels) {
			return nil, fmt.Errorf("%w: member record %q has %d fields", ErrInvalidEndpoints, record, len(fields))
		}
		id, err := strconv.Atoi(fields[0])
		if err != nil || id < 0 {
			return nil, fmt.Errorf("%w: invalid node id %q", ErrInvalidEndpoints, fields[0])
		}
		if id != len(result) {
			return nil, fmt.Errorf("%w: node ids must be contiguous from 0, got %d at position %d", ErrInvalidEndpoints, id, len(result))
		}
		host, _, _ := strings.Cut(fields[1], ":")
		result = append(result, ClusterMember{
			NodeID:         id,
			Hostname:       host,
			ClientIngress:  fields[1],
			Member:         fields[2],
			Log:            fields[3],
			Transfer:       fields[4],
			ArchiveControl: fields[5],
		})
	}
	if len(result) == 0 {
		return nil, ErrEmptyTopology
	}
	return result, nil
}
