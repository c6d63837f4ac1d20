/*
Package coordination provides the shared keyed store that arbitrates
all cross-process state: worker leader locks, slot leases, rate-limit
windows, dedup flags, and idempotency keys.

The Store interface exposes exactly the atomic primitives the
orchestration core is allowed to use: get, create-if-absent,
revision-checked update, and delete. Nothing in the core performs a
multi-step read-modify-write against this store without one of those
conditional operations, so concurrent API replicas never clobber each
other.

Two implementations exist: KVStore, backed by a NATS JetStream
key-value bucket and used in multi-replica deployments, and
MemoryStore, used by unit tests and single-node setups. Expiry is
carried inside each value as an absolute timestamp rather than a
bucket-level TTL so that "expired but present" records can be taken
over atomically with a compare-and-swap.

NATS KV keys cannot contain slashes; key spaces use dot-separated
segments (leader.<worker>, slot.<node>.<index>, ratelimit.<org>.<cat>).
*/
package coordination
