/*
Package storage provides the authoritative state store for the control
plane, backed by BoltDB.

The Store interface covers sandboxes and their lifecycle queries, orgs
and quotas, nodes, artifacts, metric samples, and usage records. Each
record type lives in its own bucket as JSON; reads snapshot within a
single View transaction and mutations commit within a single Update
transaction.

# Lifecycle queries

Every policy worker selects its candidate rows through one of the
Find* queries. The predicates are deliberately disjoint (the TTL
worker only sees running rows whose deadline passed, the idle worker
only running rows idle past the cutoff) so two workers
never race to transition the same sandbox. If predicates ever do
overlap inside one tick window, UpdateStatus resolves it: the first
writer wins and the loser's call reports zero rows changed.

# Scoped mutation

UpdateStatus is scoped by (sandbox id, org id), validates the
transition against the state machine in pkg/types, and no-ops when the
row has already moved on. SetReplayExpiresAt is the single mutation
allowed on terminal rows.
*/
package storage
