/*
Package leader implements distributed leader locks over the shared
coordination store.

Every policy worker tick starts with AcquireOrRenew: succeed and the
tick runs, fail and it is skipped. The TTL is always twice the worker's
interval, so a leader that misses one tick keeps its lock, while a
crashed leader is dispossessed within two intervals. There is no
separate renew operation; each tick re-issues the same call.
*/
package leader
