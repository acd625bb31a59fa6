package maelstrom

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// writer serializes outbound envelopes to a single stream: one envelope,
// one newline, then flush. It owns the monotonically increasing outbound
// msg_id counter, which it mutates atomically so helper goroutines (such
// as one blocked in SendAndReceive) can share a writer safely.
type writer struct {
	mu     sync.Mutex
	out    *bufio.Writer
	nodeID NodeID
	nextID atomic.Uint32
}

func newWriter(out io.Writer, nodeID NodeID) *writer {
	return &writer{
		out:    bufio.NewWriter(out),
		nodeID: nodeID,
	}
}

func (w *writer) allocateID() MessageID {
	return MessageID(w.nextID.Add(1) - 1)
}

func (w *writer) emit(dest NodeID, body json.RawMessage) error {
	env := Envelope{Src: w.nodeID, Dest: dest, Body: body}
	line, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.out.Write(line); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	if err := w.out.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	if err := w.out.Flush(); err != nil {
		return fmt.Errorf("flush stdout: %w", err)
	}
	return nil
}

// replyTo emits an envelope replying to received, with a fresh msg_id and
// in_reply_to set to received's msg_id.
func (w *writer) replyTo(received Envelope, payload interface{}) (MessageID, error) {
	receivedID, ok, err := received.MsgID()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("reply_to: received envelope has no msg_id")
	}

	id := w.allocateID()
	body, err := buildBody(id, &receivedID, payload)
	if err != nil {
		return 0, err
	}
	if err := w.emit(received.Src, body); err != nil {
		return 0, err
	}
	return id, nil
}

// sendTo emits a fire-and-forget envelope to dest with a fresh msg_id and
// no in_reply_to.
func (w *writer) sendTo(dest NodeID, payload interface{}) (MessageID, error) {
	id := w.allocateID()
	body, err := buildBody(id, nil, payload)
	if err != nil {
		return 0, err
	}
	if err := w.emit(dest, body); err != nil {
		return 0, err
	}
	return id, nil
}
