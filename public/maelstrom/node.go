package maelstrom

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// rpcResult is what's delivered to a SendAndReceive caller: either the
// matching reply envelope, or an error if the runtime shut down first.
type rpcResult struct {
	env Envelope
	err error
}

// ErrNodeClosed is returned by SendAndReceive when the runtime's event loop
// exits (input stream closed) before a matching reply arrives.
var ErrNodeClosed = fmt.Errorf("maelstrom: node closed before reply arrived")

// Node is this process's identity plus the machinery shared by every
// application built on the runtime: a serialized writer and an outstanding
// request/response correlation table, adapted from the teacher's
// BrokerClient request/response map (there keyed by a string RPC id over
// TCP, here keyed by MessageID over stdio).
type Node struct {
	ID      NodeID
	PeerIDs []NodeID

	w *writer

	mu          sync.Mutex
	outstanding map[MessageID]chan rpcResult
	closed      bool
}

func newNode(id NodeID, peerIDs []NodeID, w *writer) *Node {
	return &Node{
		ID:          id,
		PeerIDs:     peerIDs,
		w:           w,
		outstanding: make(map[MessageID]chan rpcResult),
	}
}

// NewNode constructs a Node directly against out, bypassing the init
// handshake. Run and RunWithOptions use this internally after reading the
// init envelope; applications can also use it to unit test a Handle/Tick
// implementation without driving the full event loop.
func NewNode(id NodeID, peerIDs []NodeID, out io.Writer) *Node {
	return newNode(id, peerIDs, newWriter(out, id))
}

// ReplyTo sends payload back to received's sender, correlated via
// in_reply_to. Fire-and-forget: the call returns once the line is flushed.
func (n *Node) ReplyTo(received Envelope, payload interface{}) (MessageID, error) {
	return n.w.replyTo(received, payload)
}

// SendTo sends payload to dest without expecting or waiting for a reply.
func (n *Node) SendTo(dest NodeID, payload interface{}) (MessageID, error) {
	return n.w.sendTo(dest, payload)
}

// SendAndReceive sends payload to dest and blocks until a reply envelope
// whose in_reply_to matches arrives, ctx is done, or the runtime shuts
// down first (ErrNodeClosed).
func (n *Node) SendAndReceive(ctx context.Context, dest NodeID, payload interface{}) (Envelope, error) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return Envelope{}, ErrNodeClosed
	}
	id := n.w.allocateID()
	body, err := buildBody(id, nil, payload)
	if err != nil {
		n.mu.Unlock()
		return Envelope{}, err
	}
	ch := make(chan rpcResult, 1)
	n.outstanding[id] = ch
	n.mu.Unlock()

	if err := n.w.emit(dest, body); err != nil {
		n.mu.Lock()
		delete(n.outstanding, id)
		n.mu.Unlock()
		return Envelope{}, err
	}

	select {
	case res := <-ch:
		return res.env, res.err
	case <-ctx.Done():
		n.mu.Lock()
		delete(n.outstanding, id)
		n.mu.Unlock()
		return Envelope{}, ctx.Err()
	}
}

// Deliver routes an inbound reply to its waiting SendAndReceive caller, if
// any is outstanding for it. It reports whether the envelope was consumed
// this way (in which case the caller must not also pass it to an
// application's Handle). Run calls this for every inbound line before
// dispatch; applications driving a Node directly in tests call it to
// simulate an RPC reply arriving.
func (n *Node) Deliver(env Envelope) bool {
	replyTo, ok, err := env.InReplyTo()
	if err != nil || !ok {
		return false
	}

	n.mu.Lock()
	ch, found := n.outstanding[replyTo]
	if found {
		delete(n.outstanding, replyTo)
	}
	n.mu.Unlock()

	if !found {
		return false
	}
	ch <- rpcResult{env: env}
	return true
}

// shutdown marks the node closed and wakes every still-outstanding
// SendAndReceive caller with ErrNodeClosed.
func (n *Node) shutdown() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for id, ch := range n.outstanding {
		ch <- rpcResult{err: ErrNodeClosed}
		delete(n.outstanding, id)
	}
}
