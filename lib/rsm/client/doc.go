// Package client provides the Client of the replicated value.
//
// A Client owns one cluster session and two background loops: one polls the egress of the
// session at a short interval, the other sends keep alives so the session does not expire.
// Both stop with Stop.
//
// Usage:
//
//	c, err := client.NewClient(common.DefaultClientConfig())
//	if err != nil { ... }
//	if err := c.Start(ctx); err != nil { ... }
//	defer c.Stop()
//
//	value, err := c.SetValue(101)
//	node := c.LastRespondingNodeID()
package client
