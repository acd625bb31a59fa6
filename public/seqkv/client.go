// Package seqkv is a thin typed layer over the Maelstrom runtime's
// send-and-receive primitive, targeted at the well-known sequentially
// consistent key-value node "seq-kv". It mirrors the request/response
// correlation discipline of the runtime's broker-style clients, specialized
// to the three operations the service exposes: read, write, compare-and-swap.
package seqkv

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tenzoki/maelgox/public/maelstrom"
)

// NodeID is the well-known identifier of the sequentially consistent
// key-value service every node can reach through the runtime.
const NodeID maelstrom.NodeID = "seq-kv"

// Client sends read/write/cas requests to the seq-kv service through a
// node's runtime-owned RPC correlation.
type Client struct {
	node *maelstrom.Node
}

// New wraps node for seq-kv access.
func New(node *maelstrom.Node) *Client {
	return &Client{node: node}
}

type readPayload struct {
	Type string `json:"type"`
	Key  string `json:"key"`
}

type readOkPayload struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

type writePayload struct {
	Type  string          `json:"type"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

type casPayload struct {
	Type             string          `json:"type"`
	Key              string          `json:"key"`
	From             json.RawMessage `json:"from"`
	To               json.RawMessage `json:"to"`
	CreateIfNotExist bool            `json:"create_if_not_exists"`
}

type errorPayload struct {
	Type string `json:"type"`
	Code int    `json:"code"`
	Text string `json:"text"`
}

// Maelstrom's well-known RPC error codes for the seq-kv service.
const (
	errCodeKeyDoesNotExist  = 20
	errCodePreconditionFail = 22
)

// Read returns the raw JSON value stored at key, or ok=false if the key is
// absent. Any other error code from the service is returned as a fault.
func (c *Client) Read(ctx context.Context, key string) (value json.RawMessage, ok bool, err error) {
	env, err := c.node.SendAndReceive(ctx, NodeID, readPayload{Type: "read", Key: key})
	if err != nil {
		return nil, false, fmt.Errorf("seqkv: read %q: %w", key, err)
	}

	typ, err := env.Type()
	if err != nil {
		return nil, false, fmt.Errorf("seqkv: read %q: %w", key, err)
	}

	switch typ {
	case "read_ok":
		var payload readOkPayload
		if err := env.Unmarshal(&payload); err != nil {
			return nil, false, fmt.Errorf("seqkv: decode read_ok for %q: %w", key, err)
		}
		return payload.Value, true, nil
	case "error":
		var payload errorPayload
		if err := env.Unmarshal(&payload); err != nil {
			return nil, false, fmt.Errorf("seqkv: decode error for %q: %w", key, err)
		}
		if payload.Code == errCodeKeyDoesNotExist {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("seqkv: read %q: service error %d: %s", key, payload.Code, payload.Text)
	default:
		return nil, false, fmt.Errorf("seqkv: read %q: protocol violation, got type %q", key, typ)
	}
}

// Write stores value at key unconditionally.
func (c *Client) Write(ctx context.Context, key string, value json.RawMessage) error {
	env, err := c.node.SendAndReceive(ctx, NodeID, writePayload{Type: "write", Key: key, Value: value})
	if err != nil {
		return fmt.Errorf("seqkv: write %q: %w", key, err)
	}
	typ, err := env.Type()
	if err != nil {
		return fmt.Errorf("seqkv: write %q: %w", key, err)
	}
	if typ != "write_ok" {
		return fmt.Errorf("seqkv: write %q: protocol violation, got type %q", key, typ)
	}
	return nil
}

// CompareAndSwap sets key to to only if its current value equals from,
// creating the key if it does not yet exist. It returns false (not an
// error) when the precondition fails, so callers can retry with a fresh
// read.
func (c *Client) CompareAndSwap(ctx context.Context, key string, from, to json.RawMessage) (bool, error) {
	env, err := c.node.SendAndReceive(ctx, NodeID, casPayload{
		Type:             "cas",
		Key:              key,
		From:             from,
		To:               to,
		CreateIfNotExist: true,
	})
	if err != nil {
		return false, fmt.Errorf("seqkv: cas %q: %w", key, err)
	}

	typ, err := env.Type()
	if err != nil {
		return false, fmt.Errorf("seqkv: cas %q: %w", key, err)
	}

	switch typ {
	case "cas_ok":
		return true, nil
	case "error":
		var payload errorPayload
		if err := env.Unmarshal(&payload); err != nil {
			return false, fmt.Errorf("seqkv: decode error for cas %q: %w", key, err)
		}
		if payload.Code == errCodePreconditionFail {
			return false, nil
		}
		return false, fmt.Errorf("seqkv: cas %q: service error %d: %s", key, payload.Code, payload.Text)
	default:
		return false, fmt.Errorf("seqkv: cas %q: protocol violation, got type %q", key, typ)
	}
}
