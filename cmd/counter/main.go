// Command counter is the g-counter Maelstrom node: an add/read counter
// backed by the sequentially consistent seq-kv service.
package main

import (
	"log/slog"
	"os"

	"github.com/tenzoki/maelgox/public/counter"
	"github.com/tenzoki/maelgox/public/maelstrom"
)

func main() {
	err := maelstrom.Run(func(n *maelstrom.Node) maelstrom.AppRunner {
		return counter.New(n)
	})
	if err != nil {
		slog.Error("counter node exited with error", "err", err)
		os.Exit(1)
	}
}
