// Package topology derives every network address of a cluster from an ordered list of
// member hostnames and a single base port.
//
// A member's ports are computed, never configured:
//
//	port(nodeId, channel) = basePort + nodeId*PortsPerNode + offset(channel)
//
// With PortsPerNode larger than the largest channel offset, no two channels of the whole
// cluster share a port, as long as every node uses the same base port and node ids are
// contiguous from 0.
//
// Besides single addresses the package renders the two string forms consumed by the
// rest of the system:
//
//   - IngressEndpoints: "0=host:port,1=host:port,..." used by clients to find every
//     possible entry point into the cluster.
//
//   - ClusterMembers: one '|' terminated record per member listing the addresses of all
//     channels, used by the nodes to bootstrap the consensus membership.
package topology
