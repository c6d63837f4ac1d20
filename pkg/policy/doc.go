// Package policy defines the control plane's background policy
// workers: the interval and cron jobs that enforce sandbox TTLs and
// idle timeouts, reconcile orphans, force teardown, and apply the
// retention windows for artifacts, replays, metrics, and deleted orgs.
//
// Every worker follows the same shape: a bounded candidate query
// against the store, a per-row action with errors logged and skipped,
// and a first-write-wins status transition that makes repeated or
// concurrent passes harmless. Workers never talk to each other; any
// coordination they need goes through the store's state machine or a
// TTL'd flag in the coordination store.
package policy
