package nodeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// requestTimeout bounds how long a worker waits on a node agent before
// giving up. Workers treat node errors as advisory: the local state
// transition proceeds and orphan reconciliation catches stragglers.
const requestTimeout = 5 * time.Second

// NodeClient sends lifecycle commands to the node agent hosting a
// sandbox.
type NodeClient interface {
	// StopSandbox asks the agent to gracefully stop the sandbox VM.
	StopSandbox(ctx context.Context, nodeID, sandboxID string) error

	// DestroySandbox asks the agent to forcibly tear the VM down.
	DestroySandbox(ctx context.Context, nodeID, sandboxID string) error
}

// command is the wire form of a node lifecycle request.
type command struct {
	SandboxID string `json:"sandbox_id"`
}

type reply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// NATSClient implements NodeClient over NATS request/reply. Each node
// agent services node.<id>.sandbox.stop and node.<id>.sandbox.destroy.
type NATSClient struct {
	nc *nats.Conn
}

// NewNATSClient creates a client over an established NATS connection.
func NewNATSClient(nc *nats.Conn) *NATSClient {
	return &NATSClient{nc: nc}
}

func (c *NATSClient) StopSandbox(ctx context.Context, nodeID, sandboxID string) error {
	return c.request(ctx, fmt.Sprintf("node.%s.sandbox.stop", nodeID), sandboxID)
}

func (c *NATSClient) DestroySandbox(ctx context.Context, nodeID, sandboxID string) error {
	return c.request(ctx, fmt.Sprintf("node.%s.sandbox.destroy", nodeID), sandboxID)
}

func (c *NATSClient) request(ctx context.Context, subject, sandboxID string) error {
	data, err := json.Marshal(command{SandboxID: sandboxID})
	if err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	msg, err := c.nc.RequestWithContext(reqCtx, subject, data)
	if err != nil {
		return fmt.Errorf("node request %s: %w", subject, err)
	}

	var r reply
	if err := json.Unmarshal(msg.Data, &r); err != nil {
		return fmt.Errorf("node reply %s: %w", subject, err)
	}
	if !r.OK {
		return fmt.Errorf("node rejected %s: %s", subject, r.Error)
	}
	return nil
}
