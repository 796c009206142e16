// Package cluster is the consensus substrate: it replicates client sessions and their messages
// through a Dragonboat RAFT shard and drives a deterministic ClusteredService with the
// committed entries.
//
// Key Components:
//
//   - Node: one member. It hosts the Dragonboat replica, the client ingress channel (framed TCP
//     on the client-ingress port of the topology) and the control endpoint (HTTP on the
//     archive-control port, serving /metrics and /status).
//
//   - Log state machine: every committed entry is an envelope (session open, message, keep
//     alive, close) with a timestamp. The state machine keeps the session table, the cluster
//     clock (the largest timestamp seen) and the timers of the service, so session expiry and
//     timers are part of the replicated state. Snapshots contain all of it plus the snapshot of
//     the service.
//
//   - ClusterClient: the client side of a session. It connects to the leader following
//     redirects, sends messages and keep alives, polls the egress without blocking and
//     reattaches the same session on the new leader after a failover.
//
// Only the leader accepts sessions. Every member applies every message, but only the member
// holding the client connection sends the responses of the service, the others discard them.
//
// Usage:
//
//	node, err := cluster.NewNode(config, service)
//	if err != nil { ... }
//	if err := node.Start(); err != nil { ... }
//	defer node.Stop()
//
//	cc, err := cluster.Connect(ctx, cluster.ClusterClientConfig{...}, listener)
//	if err != nil { ... }
//	err = cc.Offer(payload)
//	n := cc.PollEgress()
package cluster
