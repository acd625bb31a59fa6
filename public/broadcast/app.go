package broadcast

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/tenzoki/maelgox/public/maelstrom"
)

const (
	coalesceWindow = 100 * time.Millisecond
	resendInterval = 500 * time.Millisecond
)

// pendingBatch is a coalescing window in progress for one neighbor: values
// accumulate here until the window closes in Tick.
type pendingBatch struct {
	values    []uint32
	startedAt time.Time
}

// unackedEntry is one batch in flight to a neighbor, keyed by its exact
// ordered contents, awaiting a broadcast_batched_ok.
type unackedEntry struct {
	values        []uint32
	outboundMsgID maelstrom.MessageID
	sentAt        time.Time
}

// App is the gossip broadcast application: fixed chunk-ring topology,
// idempotent delivery over a seen-set, and batched, retried dissemination
// to neighbors.
type App struct {
	node            *maelstrom.Node
	neighbors       []maelstrom.NodeID
	alwaysBroadcast bool
	logger          *slog.Logger
	now             func() time.Time

	messagesSeen map[uint32]struct{}
	batchedSends map[maelstrom.NodeID]*pendingBatch
	unacked      map[maelstrom.NodeID]map[string]*unackedEntry
}

// New builds the broadcast application for node, deriving its fixed
// neighbor set from the cluster membership the runtime observed at init.
func New(node *maelstrom.Node) *App {
	return newWithClock(node, time.Now)
}

func newWithClock(node *maelstrom.Node, now func() time.Time) *App {
	topo := BuildTopology(node.ID, node.PeerIDs)
	return &App{
		node:            node,
		neighbors:       topo.Neighbors,
		alwaysBroadcast: topo.AlwaysBroadcast,
		logger:          slog.Default().With("node_id", node.ID, "component", "broadcast"),
		now:             now,
		messagesSeen:    make(map[uint32]struct{}),
		batchedSends:    make(map[maelstrom.NodeID]*pendingBatch),
		unacked:         make(map[maelstrom.NodeID]map[string]*unackedEntry),
	}
}

type broadcastPayload struct {
	Type    string `json:"type"`
	Message uint32 `json:"message"`
}

type broadcastBatchedPayload struct {
	Type     string   `json:"type"`
	Messages []uint32 `json:"messages"`
}

type readOkPayload struct {
	Type     string   `json:"type"`
	Messages []uint32 `json:"messages"`
}

// Handle dispatches one inbound envelope per the app's payload variants.
// Unrecognized variants are logged and otherwise ignored, per the
// payload-mismatch error rule: no reply, no abort.
func (a *App) Handle(env maelstrom.Envelope) error {
	typ, err := env.Type()
	if err != nil {
		return err
	}

	switch typ {
	case "broadcast":
		return a.handleBroadcast(env)
	case "broadcast_batched":
		return a.handleBroadcastBatched(env)
	case "broadcast_batched_ok":
		return a.handleBroadcastBatchedOk(env)
	case "broadcast_ok":
		return nil
	case "read":
		return a.handleRead(env)
	case "topology":
		return a.handleTopology(env)
	default:
		a.logger.Warn("unrecognized broadcast payload variant", "type", typ)
		return nil
	}
}

func (a *App) handleBroadcast(env maelstrom.Envelope) error {
	var payload broadcastPayload
	if err := env.Unmarshal(&payload); err != nil {
		return err
	}

	if a.insertSeen(payload.Message) && (env.Src.IsClient() || a.alwaysBroadcast) {
		for _, neighbor := range a.neighbors {
			a.prepareSendToNeighbor(neighbor, payload.Message)
		}
	}

	_, err := a.node.ReplyTo(env, struct {
		Type string `json:"type"`
	}{Type: "broadcast_ok"})
	return err
}

func (a *App) handleBroadcastBatched(env maelstrom.Envelope) error {
	var payload broadcastBatchedPayload
	if err := env.Unmarshal(&payload); err != nil {
		return err
	}

	for _, m := range payload.Messages {
		if a.insertSeen(m) && a.alwaysBroadcast {
			for _, neighbor := range a.neighbors {
				a.prepareSendToNeighbor(neighbor, m)
			}
		}
	}

	_, err := a.node.ReplyTo(env, struct {
		Type string `json:"type"`
	}{Type: "broadcast_batched_ok"})
	return err
}

func (a *App) handleBroadcastBatchedOk(env maelstrom.Envelope) error {
	inReplyTo, ok, err := env.InReplyTo()
	if err != nil {
		return err
	}
	if !ok {
		a.logger.Warn("broadcast_batched_ok without in_reply_to")
		return nil
	}

	entries := a.unacked[env.Src]
	for key, entry := range entries {
		if entry.outboundMsgID == inReplyTo {
			delete(entries, key)
			return nil
		}
	}
	return nil
}

func (a *App) handleRead(env maelstrom.Envelope) error {
	values := make([]uint32, 0, len(a.messagesSeen))
	for m := range a.messagesSeen {
		values = append(values, m)
	}
	_, err := a.node.ReplyTo(env, readOkPayload{Type: "read_ok", Messages: values})
	return err
}

func (a *App) handleTopology(env maelstrom.Envelope) error {
	_, err := a.node.ReplyTo(env, struct {
		Type string `json:"type"`
	}{Type: "topology_ok"})
	return err
}

// insertSeen reports whether m had not previously been observed.
func (a *App) insertSeen(m uint32) bool {
	if _, ok := a.messagesSeen[m]; ok {
		return false
	}
	a.messagesSeen[m] = struct{}{}
	return true
}

// prepareSendToNeighbor enqueues m into neighbor's pending coalescing
// batch, starting a new one if none is open.
func (a *App) prepareSendToNeighbor(neighbor maelstrom.NodeID, m uint32) {
	batch, ok := a.batchedSends[neighbor]
	if !ok {
		a.batchedSends[neighbor] = &pendingBatch{values: []uint32{m}, startedAt: a.now()}
		return
	}
	batch.values = append(batch.values, m)
}

// Tick flushes coalescing batches old enough to send and resends unacked
// batches old enough to be considered lost. It never blocks: every send
// here is fire-and-forget (SendTo), since Handle/Tick must not perform
// synchronous I/O.
func (a *App) Tick() error {
	now := a.now()

	for neighbor, batch := range a.batchedSends {
		if now.Sub(batch.startedAt) < coalesceWindow {
			continue
		}
		if err := a.flushBatch(neighbor, batch.values, now); err != nil {
			return fmt.Errorf("broadcast: flush batch to %s: %w", neighbor, err)
		}
		delete(a.batchedSends, neighbor)
	}

	for neighbor, entries := range a.unacked {
		for _, entry := range entries {
			if now.Sub(entry.sentAt) < resendInterval {
				continue
			}
			if err := a.resend(neighbor, entry, now); err != nil {
				return fmt.Errorf("broadcast: resend batch to %s: %w", neighbor, err)
			}
		}
	}

	return nil
}

func (a *App) flushBatch(neighbor maelstrom.NodeID, values []uint32, now time.Time) error {
	msgID, err := a.node.SendTo(neighbor, broadcastBatchedPayload{Type: "broadcast_batched", Messages: values})
	if err != nil {
		return err
	}
	entries, ok := a.unacked[neighbor]
	if !ok {
		entries = make(map[string]*unackedEntry)
		a.unacked[neighbor] = entries
	}
	entries[batchKey(values)] = &unackedEntry{values: values, outboundMsgID: msgID, sentAt: now}
	return nil
}

func (a *App) resend(neighbor maelstrom.NodeID, entry *unackedEntry, now time.Time) error {
	msgID, err := a.node.SendTo(neighbor, broadcastBatchedPayload{Type: "broadcast_batched", Messages: entry.values})
	if err != nil {
		return err
	}
	entry.outboundMsgID = msgID
	entry.sentAt = now
	return nil
}

func batchKey(values []uint32) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatUint(uint64(v), 10)
	}
	return strings.Join(parts, ",")
}
