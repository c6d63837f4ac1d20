/*
Package metrics defines the Prometheus metrics exported by the control
plane and a small Timer helper for histogram observations.

Metrics are registered once in an init function and exposed through
Handler(), which the admin HTTP server mounts at /metrics. Worker
metrics are labeled by worker name so a single dashboard row covers all
policy workers; rate-limit and slot-lease counters track admission
behavior by outcome.
*/
package metrics
