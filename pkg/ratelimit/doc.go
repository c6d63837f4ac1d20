/*
Package ratelimit implements sliding-window-log rate limiting keyed by
(org, category).

Each window is a JSON array of request timestamps in the coordination
store, mutated only through create-if-absent and compare-and-swap, so
concurrent API replicas agree on the count. Rejected requests are not
recorded. ResetAt is reported as now+window, an upper bound rather
than the exact expiry of the oldest entry, which is acceptable for the
coarse per-minute ceilings these categories carry.

The limiter fails open when the backing store is unreachable.
*/
package ratelimit
