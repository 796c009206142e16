// Package service runs the replicated value as a cluster.ClusteredService.
package service
