// Package uniqueids implements the trivial Maelstrom node that answers
// each generate request with a value unique across the whole cluster,
// using a version-4 UUID the way the original source's unique-ids app
// does.
package uniqueids

import (
	"github.com/google/uuid"

	"github.com/tenzoki/maelgox/public/maelstrom"
)

type App struct {
	node *maelstrom.Node
}

func New(node *maelstrom.Node) *App {
	return &App{node: node}
}

type generateOkPayload struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func (a *App) Handle(env maelstrom.Envelope) error {
	typ, err := env.Type()
	if err != nil {
		return err
	}
	if typ != "generate" {
		return nil
	}

	_, err = a.node.ReplyTo(env, generateOkPayload{Type: "generate_ok", ID: uuid.NewString()})
	return err
}

func (a *App) Tick() error { return nil }
