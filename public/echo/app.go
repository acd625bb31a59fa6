// Package echo implements the trivial Maelstrom node that replies to every
// echo request with the same payload it received.
package echo

import "github.com/tenzoki/maelgox/public/maelstrom"

type App struct {
	node *maelstrom.Node
}

func New(node *maelstrom.Node) *App {
	return &App{node: node}
}

type echoPayload struct {
	Type string `json:"type"`
	Echo string `json:"echo"`
}

func (a *App) Handle(env maelstrom.Envelope) error {
	typ, err := env.Type()
	if err != nil {
		return err
	}
	if typ != "echo" {
		return nil
	}

	var payload echoPayload
	if err := env.Unmarshal(&payload); err != nil {
		return err
	}
	_, err = a.node.ReplyTo(env, echoPayload{Type: "echo_ok", Echo: payload.Echo})
	return err
}

func (a *App) Tick() error { return nil }
