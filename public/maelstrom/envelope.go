package maelstrom

import (
	"encoding/json"
	"fmt"
)

// Envelope is the outer JSON object carried over the wire: one per line on
// stdin/stdout. Body is kept as raw JSON because its shape is application
// specific; the runtime only ever needs to peek msg_id/in_reply_to/type out
// of it before handing the whole envelope to the application.
type Envelope struct {
	Src  NodeID          `json:"src"`
	Dest NodeID          `json:"dest"`
	Body json.RawMessage `json:"body"`
}

// bodyHeader is the subset of body fields the runtime itself cares about,
// common to every payload variant regardless of application.
type bodyHeader struct {
	Type      string     `json:"type"`
	MsgID     *MessageID `json:"msg_id,omitempty"`
	InReplyTo *MessageID `json:"in_reply_to,omitempty"`
}

func (e Envelope) header() (bodyHeader, error) {
	var h bodyHeader
	if err := json.Unmarshal(e.Body, &h); err != nil {
		return bodyHeader{}, fmt.Errorf("decode body header: %w", err)
	}
	return h, nil
}

// Type returns the wire "type" tag of the envelope's body.
func (e Envelope) Type() (string, error) {
	h, err := e.header()
	if err != nil {
		return "", err
	}
	return h.Type, nil
}

// MsgID returns the body's msg_id, if present.
func (e Envelope) MsgID() (MessageID, bool, error) {
	h, err := e.header()
	if err != nil {
		return 0, false, err
	}
	if h.MsgID == nil {
		return 0, false, nil
	}
	return *h.MsgID, true, nil
}

// InReplyTo returns the body's in_reply_to, if present.
func (e Envelope) InReplyTo() (MessageID, bool, error) {
	h, err := e.header()
	if err != nil {
		return 0, false, err
	}
	if h.InReplyTo == nil {
		return 0, false, nil
	}
	return *h.InReplyTo, true, nil
}

// Unmarshal decodes the envelope's body into v, an application-specific
// payload struct. Fields the struct doesn't declare (msg_id, in_reply_to,
// other variants' fields) are silently dropped by encoding/json.
func (e Envelope) Unmarshal(v interface{}) error {
	if err := json.Unmarshal(e.Body, v); err != nil {
		return fmt.Errorf("decode body payload: %w", err)
	}
	return nil
}

// buildBody flattens payload's fields together with msg_id and an optional
// in_reply_to into a single JSON object, mirroring the wire's flattened
// body shape (spec: "payload fields are inlined into body").
func buildBody(msgID MessageID, inReplyTo *MessageID, payload interface{}) (json.RawMessage, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payloadBytes, &fields); err != nil {
		return nil, fmt.Errorf("payload must marshal to a JSON object: %w", err)
	}

	msgIDBytes, err := json.Marshal(msgID)
	if err != nil {
		return nil, fmt.Errorf("marshal msg_id: %w", err)
	}
	fields["msg_id"] = msgIDBytes

	if inReplyTo != nil {
		inReplyToBytes, err := json.Marshal(*inReplyTo)
		if err != nil {
			return nil, fmt.Errorf("marshal in_reply_to: %w", err)
		}
		fields["in_reply_to"] = inReplyToBytes
	}

	out, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}
	return out, nil
}

// InitPayload is the shared initialization payload, common to every
// application and handled only by the runtime.
type InitPayload struct {
	Type    string   `json:"type"`
	NodeID  NodeID   `json:"node_id,omitempty"`
	NodeIDs []NodeID `json:"node_ids,omitempty"`
}

// InitOkPayload acknowledges initialization.
type InitOkPayload struct {
	Type string `json:"type"`
}

const (
	typeInit   = "init"
	typeInitOk = "init_ok"
)
