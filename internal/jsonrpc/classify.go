package jsonrpc

import (
	"bytes"
	"encoding/json"

	"github.com/imsgguard/imsg-guard/api"
)

// Kind tags the structural classification of one protocol line.
type Kind int

const (
	// KindUnparsed marks a line that is not a single well-formed JSON-RPC
	// message. The relay passes such lines through unmodified.
	KindUnparsed Kind = iota
	KindRequest
	KindResponse
	KindNotification
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindNotification:
		return "notification"
	default:
		return "unparsed"
	}
}

// Message is the classified decode of one protocol line.
type Message struct {
	Kind Kind

	// Raw is the original line.
	Raw []byte

	// Msg is the decoded message. Nil when Kind is KindUnparsed.
	Msg *api.JSONRPCMessage
}

// Classify decodes one line into a tagged Message. It never fails: a line
// that does not decode as a JSON object is returned as KindUnparsed so the
// caller can pass it through rather than break the pipe.
func Classify(line []byte) *Message {
	m := &Message{Kind: KindUnparsed, Raw: line}

	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return m
	}

	var msg api.JSONRPCMessage
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return m
	}

	// A literal null id decodes to a non-nil RawMessage. Treat it as absent
	// so `"id": null` classifies like a notification, not a request.
	if bytes.Equal(bytes.TrimSpace(msg.ID), []byte("null")) {
		msg.ID = nil
	}

	// Classification is structural: the jsonrpc version field is not
	// required, so a crafted message cannot dodge the policy by omitting it.
	switch {
	case msg.Method != "" && msg.ID != nil:
		m.Kind = KindRequest
	case msg.Method != "":
		m.Kind = KindNotification
	case msg.ID != nil:
		m.Kind = KindResponse
	default:
		return m
	}
	m.Msg = &msg
	return m
}

// Method returns the decoded method name, or "" for unparsed lines and responses.
func (m *Message) Method() string {
	if m.Msg == nil {
		return ""
	}
	return m.Msg.Method
}

// DecodeParams unmarshals the message params into a map. Returns nil, false
// when there are no params or they are not a JSON object.
func (m *Message) DecodeParams() (map[string]any, bool) {
	if m.Msg == nil || m.Msg.Params == nil {
		return nil, false
	}
	var params map[string]any
	if err := json.Unmarshal(m.Msg.Params, &params); err != nil {
		return nil, false
	}
	return params, true
}

// WithParams returns the serialized message with its params replaced.
func (m *Message) WithParams(params json.RawMessage) ([]byte, error) {
	out := *m.Msg
	out.Params = params
	if out.JSONRPC == "" {
		out.JSONRPC = "2.0"
	}
	return json.Marshal(&out)
}
