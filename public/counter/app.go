// Package counter implements the g-counter application: an add/read
// counter whose durable state lives in the sequentially consistent seq-kv
// service rather than in the node itself. Increments are accumulated
// locally and reconciled against seq-kv on tick via a read-then-compare-
// and-swap loop, since the service offers no atomic increment of its own.
package counter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tenzoki/maelgox/public/maelstrom"
	"github.com/tenzoki/maelgox/public/seqkv"
)

const (
	counterKey       = "counter"
	reconcileTimeout = 2 * time.Second
	staleReadAge     = 500 * time.Millisecond
)

// App is the g-counter application. Add{delta} replies immediately and
// accumulates delta locally; Tick reconciles the accumulated delta against
// seq-kv so Read can answer from local state without a round trip.
type App struct {
	node   *maelstrom.Node
	client *seqkv.Client

	mu               sync.Mutex
	lastRead         uint32
	lastReadAt       time.Time
	unconfirmedDelta uint32
	reconciling      bool
}

// New builds the counter application for node.
func New(node *maelstrom.Node) *App {
	return &App{node: node, client: seqkv.New(node)}
}

type addPayload struct {
	Type  string `json:"type"`
	Delta uint32 `json:"delta"`
}

type readOkPayload struct {
	Type  string `json:"type"`
	Value uint32 `json:"value"`
}

// Handle replies to add and read requests from local state; it never
// itself talks to seq-kv, so it never blocks.
func (a *App) Handle(env maelstrom.Envelope) error {
	typ, err := env.Type()
	if err != nil {
		return err
	}

	switch typ {
	case "add":
		var payload addPayload
		if err := env.Unmarshal(&payload); err != nil {
			return err
		}
		a.mu.Lock()
		a.unconfirmedDelta += payload.Delta
		a.mu.Unlock()
		_, err := a.node.ReplyTo(env, struct {
			Type string `json:"type"`
		}{Type: "add_ok"})
		return err

	case "read":
		a.mu.Lock()
		value := a.lastRead + a.unconfirmedDelta
		a.mu.Unlock()
		_, err := a.node.ReplyTo(env, readOkPayload{Type: "read_ok", Value: value})
		return err

	default:
		return nil
	}
}

// Tick kicks off a reconciliation round when there's an unconfirmed delta
// to fold in or the last confirmed read has gone stale. Reconciliation
// itself runs on its own goroutine (it calls seq-kv via SendAndReceive,
// which blocks) so Tick never performs synchronous I/O.
func (a *App) Tick() error {
	a.mu.Lock()
	if a.reconciling {
		a.mu.Unlock()
		return nil
	}
	delta := a.unconfirmedDelta
	stale := time.Since(a.lastReadAt) >= staleReadAge
	if delta == 0 && !stale {
		a.mu.Unlock()
		return nil
	}
	a.reconciling = true
	a.mu.Unlock()

	go a.reconcile(delta)
	return nil
}

func (a *App) reconcile(delta uint32) {
	defer func() {
		a.mu.Lock()
		a.reconciling = false
		a.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()

	current, err := a.readCounter(ctx)
	if err != nil {
		return
	}

	if delta == 0 {
		a.mu.Lock()
		a.lastRead = current
		a.lastReadAt = time.Now()
		a.mu.Unlock()
		return
	}

	target := current + delta
	ok, err := a.client.CompareAndSwap(ctx, counterKey, jsonUint32(current), jsonUint32(target))
	if err != nil || !ok {
		return
	}

	a.mu.Lock()
	a.lastRead = target
	a.lastReadAt = time.Now()
	if a.unconfirmedDelta >= delta {
		a.unconfirmedDelta -= delta
	} else {
		a.unconfirmedDelta = 0
	}
	a.mu.Unlock()
}

func (a *App) readCounter(ctx context.Context) (uint32, error) {
	value, found, err := a.client.Read(ctx, counterKey)
	if err != nil {
		return 0, fmt.Errorf("counter: read: %w", err)
	}
	if !found {
		return 0, nil
	}
	var v uint32
	if err := json.Unmarshal(value, &v); err != nil {
		return 0, fmt.Errorf("counter: decode stored value: %w", err)
	}
	return v, nil
}

func jsonUint32(v uint32) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
