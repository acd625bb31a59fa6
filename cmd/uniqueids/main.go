// Command uniqueids is the trivial Maelstrom node that answers each
// generate request with a value unique across the whole cluster.
package main

import (
	"log/slog"
	"os"

	"github.com/tenzoki/maelgox/public/maelstrom"
	"github.com/tenzoki/maelgox/public/uniqueids"
)

func main() {
	err := maelstrom.Run(func(n *maelstrom.Node) maelstrom.AppRunner {
		return uniqueids.New(n)
	})
	if err != nil {
		slog.Error("unique-ids node exited with error", "err", err)
		os.Exit(1)
	}
}
