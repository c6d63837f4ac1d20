// Package slots implements per-node capacity slot leases. Each slot
// maps to one VM on a worker node; a lease ties the slot to a sandbox
// with a TTL so that a crashed control-plane replica or node cannot
// strand capacity forever.
package slots
