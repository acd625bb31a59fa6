// Command echo is the trivial Maelstrom node that replies to every echo
// request with the same payload it received.
package main

import (
	"log/slog"
	"os"

	"github.com/tenzoki/maelgox/public/echo"
	"github.com/tenzoki/maelgox/public/maelstrom"
)

func main() {
	err := maelstrom.Run(func(n *maelstrom.Node) maelstrom.AppRunner {
		return echo.New(n)
	})
	if err != nil {
		slog.Error("echo node exited with error", "err", err)
		os.Exit(1)
	}
}
