package maelstrom

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

// AppRunner is implemented by every application built on this runtime.
// Handle is invoked once per inbound envelope that the runtime's own
// request/response correlation didn't already consume as an RPC reply.
// Tick is invoked once per tick period regardless of message traffic, the
// only place periodic work (coalesced-send flush, retransmission) belongs.
type AppRunner interface {
	Handle(env Envelope) error
	Tick() error
}

// Options configures the runtime's event loop. The harness is the sole
// invoker of these binaries, so Options is set only via the Go API, never
// from flags or a config file.
type Options struct {
	// TickPeriod is the interval between Tick calls. Zero means 10ms.
	TickPeriod time.Duration
}

func (o Options) withDefaults() Options {
	if o.TickPeriod <= 0 {
		o.TickPeriod = 10 * time.Millisecond
	}
	return o
}

// Run drives a binary's entire lifecycle against os.Stdin/os.Stdout: the
// init handshake, then the message/tick loop, until stdin is exhausted.
// newApp is called once the node's identity is known from the init
// envelope, mirroring the teacher's AgentFramework.Run() staged lifecycle
// (init -> connect -> register -> message loop -> shutdown).
func Run(newApp func(*Node) AppRunner) error {
	return RunWithOptions(context.Background(), os.Stdin, os.Stdout, newApp, Options{})
}

// RunWithOptions is Run with an injectable context, stream pair, and
// Options, so applications and their tests can run the same event loop
// against io.Pipe-backed streams instead of the real process stdio.
func RunWithOptions(ctx context.Context, in io.Reader, out io.Writer, newApp func(*Node) AppRunner, opts Options) error {
	opts = opts.withDefaults()

	lines := startReader(in)

	first, ok := <-lines
	if !ok {
		return fmt.Errorf("maelstrom: stdin closed before init message")
	}
	if first.err != nil {
		return fmt.Errorf("maelstrom: reading init message: %w", first.err)
	}

	var initPayload InitPayload
	if err := first.env.Unmarshal(&initPayload); err != nil {
		return fmt.Errorf("maelstrom: decoding init message: %w", err)
	}
	if initPayload.Type != typeInit {
		return fmt.Errorf("maelstrom: expected init message, got type %q", initPayload.Type)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil)).With("node_id", initPayload.NodeID)

	w := newWriter(out, initPayload.NodeID)
	node := newNode(initPayload.NodeID, initPayload.NodeIDs, w)

	if _, err := node.ReplyTo(first.env, InitOkPayload{Type: typeInitOk}); err != nil {
		return fmt.Errorf("maelstrom: replying to init: %w", err)
	}
	logger.Info("initialized", "peers", len(initPayload.NodeIDs))

	app := newApp(node)

	ticker := time.NewTicker(opts.TickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			node.shutdown()
			return ctx.Err()

		case line, ok := <-lines:
			if !ok {
				node.shutdown()
				logger.Info("stdin closed, shutting down")
				return nil
			}
			if line.err != nil {
				logger.Warn("malformed input line, ignoring", "err", line.err)
				continue
			}
			if node.Deliver(line.env) {
				continue
			}
			if err := app.Handle(line.env); err != nil {
				node.shutdown()
				return fmt.Errorf("maelstrom: handling message: %w", err)
			}

		case <-ticker.C:
			if err := app.Tick(); err != nil {
				node.shutdown()
				return fmt.Errorf("maelstrom: tick: %w", err)
			}
		}
	}
}
