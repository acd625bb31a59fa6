package broadcast

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/tenzoki/maelgox/public/maelstrom"
)

// fakeClock gives tests explicit control over the coalescing/retransmit
// timers without sleeping for real milliseconds.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestApp(t *testing.T, self maelstrom.NodeID, peers []maelstrom.NodeID) (*App, *bytes.Buffer, *fakeClock) {
	t.Helper()
	var out bytes.Buffer
	node := maelstrom.NewNode(self, peers, &out)
	clock := &fakeClock{t: time.Unix(0, 0)}
	return newWithClock(node, clock.now), &out, clock
}

func outboundEnvelopes(t *testing.T, buf *bytes.Buffer) []maelstrom.Envelope {
	t.Helper()
	var envs []maelstrom.Envelope
	for _, line := range bytes.Split(bytes.TrimRight(buf.Bytes(), "\n"), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var env maelstrom.Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			t.Fatalf("decode outbound line: %v", err)
		}
		envs = append(envs, env)
	}
	return envs
}

func envelope(src, dest maelstrom.NodeID, body string) maelstrom.Envelope {
	return maelstrom.Envelope{Src: src, Dest: dest, Body: json.RawMessage(body)}
}

func TestHandleBroadcastFromClientDisseminatesAfterCoalesce(t *testing.T) {
	app, out, clock := newTestApp(t, "n1", []maelstrom.NodeID{"n1", "n2"})

	if err := app.Handle(envelope("c1", "n1", `{"type":"broadcast","msg_id":1,"message":42}`)); err != nil {
		t.Fatalf("Handle broadcast: %v", err)
	}
	envs := outboundEnvelopes(t, out)
	if len(envs) != 1 {
		t.Fatalf("got %d outbound envelopes after broadcast, want 1 (broadcast_ok only)", len(envs))
	}
	if typ, _ := envs[0].Type(); typ != "broadcast_ok" {
		t.Fatalf("first outbound type = %q, want broadcast_ok", typ)
	}

	clock.advance(coalesceWindow)
	if err := app.Tick(); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	envs = outboundEnvelopes(t, out)
	if len(envs) != 2 {
		t.Fatalf("got %d outbound envelopes after tick, want 2 (broadcast_ok + broadcast_batched)", len(envs))
	}
	batched := envs[1]
	if typ, _ := batched.Type(); typ != "broadcast_batched" {
		t.Fatalf("second outbound type = %q, want broadcast_batched", typ)
	}
	if batched.Dest != "n2" {
		t.Fatalf("broadcast_batched dest = %q, want n2", batched.Dest)
	}
	var payload broadcastBatchedPayload
	if err := batched.Unmarshal(&payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if len(payload.Messages) != 1 || payload.Messages[0] != 42 {
		t.Fatalf("batched messages = %v, want [42]", payload.Messages)
	}
}

func TestCoalescingBoundHoldsBatchUntilWindowElapses(t *testing.T) {
	app, out, clock := newTestApp(t, "n1", []maelstrom.NodeID{"n1", "n2"})

	if err := app.Handle(envelope("c1", "n1", `{"type":"broadcast","msg_id":1,"message":1}`)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	clock.advance(coalesceWindow - time.Millisecond)
	if err := app.Tick(); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	for _, env := range outboundEnvelopes(t, out) {
		if typ, _ := env.Type(); typ == "broadcast_batched" {
			t.Fatalf("broadcast_batched emitted before coalescing window elapsed")
		}
	}
}

func TestHandleBroadcastBatchedIsIdempotent(t *testing.T) {
	app, _, _ := newTestApp(t, "n2", []maelstrom.NodeID{"n1", "n2"})

	deliverBatch := func() error {
		return app.Handle(envelope("n1", "n2", `{"type":"broadcast_batched","msg_id":1,"messages":[7,7,7]}`))
	}
	if err := deliverBatch(); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := deliverBatch(); err != nil {
		t.Fatalf("second delivery: %v", err)
	}

	if len(app.messagesSeen) != 1 {
		t.Fatalf("messagesSeen = %v, want exactly {7}", app.messagesSeen)
	}
	if _, ok := app.messagesSeen[7]; !ok {
		t.Fatalf("messagesSeen missing 7: %v", app.messagesSeen)
	}
}

func TestReadReturnsSeenMessagesSnapshot(t *testing.T) {
	app, out, _ := newTestApp(t, "n2", []maelstrom.NodeID{"n1", "n2"})

	if err := app.Handle(envelope("n1", "n2", `{"type":"broadcast_batched","msg_id":1,"messages":[1,2,3]}`)); err != nil {
		t.Fatalf("Handle broadcast_batched: %v", err)
	}
	if err := app.Handle(envelope("c1", "n2", `{"type":"read","msg_id":2}`)); err != nil {
		t.Fatalf("Handle read: %v", err)
	}

	envs := outboundEnvelopes(t, out)
	readOk := envs[len(envs)-1]
	if typ, _ := readOk.Type(); typ != "read_ok" {
		t.Fatalf("last outbound type = %q, want read_ok", typ)
	}
	var payload readOkPayload
	if err := readOk.Unmarshal(&payload); err != nil {
		t.Fatalf("decode read_ok: %v", err)
	}
	seen := map[uint32]bool{}
	for _, m := range payload.Messages {
		seen[m] = true
	}
	for _, want := range []uint32{1, 2, 3} {
		if !seen[want] {
			t.Fatalf("read_ok messages %v missing %d", payload.Messages, want)
		}
	}
}

func TestTopologyIsStableAcrossTopologyMessages(t *testing.T) {
	app, out, _ := newTestApp(t, "n1", []maelstrom.NodeID{"n1", "n2", "n3"})
	before := append([]maelstrom.NodeID(nil), app.neighbors...)

	if err := app.Handle(envelope("c1", "n1", `{"type":"topology","msg_id":1,"topology":{}}`)); err != nil {
		t.Fatalf("Handle topology: %v", err)
	}

	envs := outboundEnvelopes(t, out)
	if typ, _ := envs[0].Type(); typ != "topology_ok" {
		t.Fatalf("outbound type = %q, want topology_ok", typ)
	}
	if len(app.neighbors) != len(before) {
		t.Fatalf("neighbors changed after topology message: %v -> %v", before, app.neighbors)
	}
	for i := range before {
		if app.neighbors[i] != before[i] {
			t.Fatalf("neighbors changed after topology message: %v -> %v", before, app.neighbors)
		}
	}
}

func TestRetransmissionResendsUnackedBatchAfterInterval(t *testing.T) {
	app, out, clock := newTestApp(t, "n1", []maelstrom.NodeID{"n1", "n2"})

	if err := app.Handle(envelope("c1", "n1", `{"type":"broadcast","msg_id":1,"message":9}`)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	clock.advance(coalesceWindow)
	if err := app.Tick(); err != nil {
		t.Fatalf("Tick (flush): %v", err)
	}

	firstBatchCount := countType(t, out, "broadcast_batched")
	if firstBatchCount != 1 {
		t.Fatalf("got %d broadcast_batched after flush, want 1", firstBatchCount)
	}

	clock.advance(resendInterval - time.Millisecond)
	if err := app.Tick(); err != nil {
		t.Fatalf("Tick (too soon): %v", err)
	}
	if got := countType(t, out, "broadcast_batched"); got != 1 {
		t.Fatalf("got %d broadcast_batched before resend interval elapsed, want 1", got)
	}

	clock.advance(time.Millisecond)
	if err := app.Tick(); err != nil {
		t.Fatalf("Tick (resend): %v", err)
	}
	if got := countType(t, out, "broadcast_batched"); got != 2 {
		t.Fatalf("got %d broadcast_batched after resend interval elapsed, want 2", got)
	}
}

func TestBroadcastBatchedOkClearsUnackedEntry(t *testing.T) {
	app, out, clock := newTestApp(t, "n1", []maelstrom.NodeID{"n1", "n2"})

	if err := app.Handle(envelope("c1", "n1", `{"type":"broadcast","msg_id":1,"message":5}`)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	clock.advance(coalesceWindow)
	if err := app.Tick(); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	envs := outboundEnvelopes(t, out)
	var sentID maelstrom.MessageID
	for _, env := range envs {
		if typ, _ := env.Type(); typ == "broadcast_batched" {
			id, ok, err := env.MsgID()
			if err != nil || !ok {
				t.Fatalf("broadcast_batched missing msg_id")
			}
			sentID = id
		}
	}

	ackBody := `{"type":"broadcast_batched_ok","in_reply_to":` + itoaMsgID(sentID) + `}`
	if err := app.Handle(envelope("n2", "n1", ackBody)); err != nil {
		t.Fatalf("Handle ack: %v", err)
	}

	if entries, ok := app.unacked["n2"]; ok && len(entries) != 0 {
		t.Fatalf("unacked entries for n2 not cleared: %v", entries)
	}
}

func countType(t *testing.T, out *bytes.Buffer, typ string) int {
	t.Helper()
	count := 0
	for _, env := range outboundEnvelopes(t, out) {
		got, _ := env.Type()
		if got == typ {
			count++
		}
	}
	return count
}

func itoaMsgID(id maelstrom.MessageID) string {
	b, _ := json.Marshal(id)
	return string(b)
}
