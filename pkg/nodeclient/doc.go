// Package nodeclient is the control plane's RPC surface toward node
// agents, carried over NATS request/reply. Callers in the policy
// workers treat failures as advisory: errors are logged and the state
// transition proceeds, with orphan reconciliation as the backstop.
package nodeclient
