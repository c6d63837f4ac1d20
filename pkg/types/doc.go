/*
Package types defines the core data structures used throughout the
sandchest control plane.

This package contains the domain model shared by every other package:
sandboxes and their lifecycle state machine, slot leases, worker locks,
orgs and quotas, nodes, artifacts, metric samples, and the admission
primitives (rate-limit categories and results).

# Sandbox lifecycle

A sandbox moves through:

	queued → provisioning → running → {stopping → stopped | failed}

queued and running may also transition directly to failed (queue
timeout) or stopped (policy enforcement). Terminal states (stopped,
failed) are immutable except for the replay retention fields, which are
assigned and later set to ReplayPurgedSentinel after the row is
terminal. CanTransition is the single source of truth for legal moves;
the storage layer rejects anything else, which makes policy-worker
writes idempotent under at-least-once execution.

# Coordination records

SlotLease and WorkerLock are the two records held in the shared
coordination store rather than the relational store. Both carry an
absolute expiry inside the value so that arbitration reduces to atomic
create / compare-and-swap operations on the key.
*/
package types
