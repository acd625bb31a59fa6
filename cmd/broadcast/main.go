// Command broadcast is the gossip broadcast Maelstrom node: chunk-ring
// topology, batched at-least-once dissemination, and timeout-driven
// retransmission.
package main

import (
	"log/slog"
	"os"

	"github.com/tenzoki/maelgox/public/broadcast"
	"github.com/tenzoki/maelgox/public/maelstrom"
)

func main() {
	err := maelstrom.Run(func(n *maelstrom.Node) maelstrom.AppRunner {
		return broadcast.New(n)
	})
	if err != nil {
		slog.Error("broadcast node exited with error", "err", err)
		os.Exit(1)
	}
}
