// Package maelstrom provides the node runtime shared by every Maelstrom
// binary in this module: envelope framing, identity, request/response
// correlation, tick scheduling, and the fire-and-forget/RPC send primitives.
//
// Called by: cmd/echo, cmd/uniqueids, cmd/counter, cmd/broadcast, public/seqkv
// Calls: encoding/json, bufio, log/slog
package maelstrom

import "strings"

// NodeID identifies a participant in the cluster. By convention nodes
// managed by the harness are prefixed "n" and harness-internal clients are
// prefixed "c"; well-known service identifiers (e.g. "seq-kv") use neither.
type NodeID string

// IsServer reports whether id names a server node instance of this binary.
func (id NodeID) IsServer() bool {
	return strings.HasPrefix(string(id), "n")
}

// IsClient reports whether id names a harness-internal client.
func (id NodeID) IsClient() bool {
	return strings.HasPrefix(string(id), "c")
}

// MessageID is a locally-unique, monotonically assigned message identifier.
// Outbound values start at 0 and increase by exactly one per emission.
type MessageID uint32
