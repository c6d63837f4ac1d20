// Package nodes tracks worker-node liveness. Node agents publish
// heartbeats over NATS every 15 seconds; the registry records them and
// answers which nodes are alive for orphan reconciliation, placement,
// and the admin diagnostic surface.
package nodes
