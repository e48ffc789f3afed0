package policy

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/imsgguard/imsg-guard/api"
	"github.com/imsgguard/imsg-guard/internal/contacts"
	"github.com/imsgguard/imsg-guard/internal/jsonrpc"
)

// SendMethod is the outbound method carrying a message destination.
const SendMethod = "send"

// Default vocabularies of the backend RPC. All three are configurable
// because the backend's method set is not fully enumerable; anything that
// plausibly names a destination or sender must be covered.
var (
	DefaultMessageMethods = []string{"message", "new_message", "message_received"}
	DefaultIndirectKeys   = []string{"chat_id", "chat_guid", "chat_identifier"}
	DefaultSenderKeys     = []string{"sender", "handle", "from", "address"}
)

// ContactPolicyConfig overrides the recognized RPC vocabulary.
type ContactPolicyConfig struct {
	MessageMethods []string
	IndirectKeys   []string
	SenderKeys     []string
}

// ContactPolicy decides, per classified message, whether it crosses the
// boundary unchanged, rewritten between alias and handle, or not at all.
// It holds only the immutable Directory and is safe for concurrent use.
type ContactPolicy struct {
	dir            *contacts.Directory
	messageMethods map[string]struct{}
	indirectKeys   []string
	senderKeys     []string
}

// NewContactPolicy creates a ContactPolicy over the given directory.
func NewContactPolicy(dir *contacts.Directory, cfg ContactPolicyConfig) *ContactPolicy {
	if len(cfg.MessageMethods) == 0 {
		cfg.MessageMethods = DefaultMessageMethods
	}
	if len(cfg.IndirectKeys) == 0 {
		cfg.IndirectKeys = DefaultIndirectKeys
	}
	if len(cfg.SenderKeys) == 0 {
		cfg.SenderKeys = DefaultSenderKeys
	}

	p := &ContactPolicy{
		dir:            dir,
		messageMethods: make(map[string]struct{}, len(cfg.MessageMethods)),
		indirectKeys:   cfg.IndirectKeys,
		senderKeys:     cfg.SenderKeys,
	}
	for _, m := range cfg.MessageMethods {
		p.messageMethods[m] = struct{}{}
	}
	return p
}

// Directory returns the directory the policy enforces.
func (p *ContactPolicy) Directory() *contacts.Directory { return p.dir }

// EvaluateOutbound applies the client→backend rule. Only send requests are
// restricted: the destination must resolve to a directory entry, aliases are
// rewritten to real handles, and indirect chat/group targets are always
// blocked because they cannot be resolved to a single verifiable contact.
func (p *ContactPolicy) EvaluateOutbound(m *jsonrpc.Message) *api.Decision {
	switch m.Kind {
	case jsonrpc.KindUnparsed, jsonrpc.KindResponse:
		return &api.Decision{Action: api.ActionAllow}
	}

	if m.Method() != SendMethod {
		return &api.Decision{Action: api.ActionAllow}
	}

	params, ok := m.DecodeParams()
	if !ok {
		return &api.Decision{
			Action:  api.ActionBlock,
			Reason:  api.ReasonUnknownContact,
			Message: "send params are not an object",
		}
	}

	// Indirect targets block even when a valid 'to' is also present.
	for _, key := range p.indirectKeys {
		if val, present := params[key]; present && !isEmptyValue(val) {
			return &api.Decision{
				Action:   api.ActionBlock,
				Reason:   api.ReasonIndirectTarget,
				Message:  fmt.Sprintf("send via %s is not allowed", key),
				Identity: fmt.Sprintf("%v", val),
			}
		}
	}

	to, _ := params["to"].(string)
	to = strings.TrimSpace(to)
	if to == "" {
		return &api.Decision{
			Action:  api.ActionBlock,
			Reason:  api.ReasonUnknownContact,
			Message: "send has no 'to' field",
		}
	}

	// Alias first, then normalize-and-match against known handles.
	if handle, ok := p.dir.ResolveToHandle(to); ok {
		if handle == to {
			return &api.Decision{Action: api.ActionAllow, Identity: to}
		}
		params["to"] = handle
		rewritten, err := json.Marshal(params)
		if err != nil {
			return &api.Decision{
				Action:  api.ActionBlock,
				Reason:  api.ReasonUnknownContact,
				Message: "failed to rewrite send params: " + err.Error(),
			}
		}
		return &api.Decision{
			Action:   api.ActionRewrite,
			Identity: to,
			Params:   rewritten,
		}
	}

	// Identity is always the alias so rate limiting and the audit trail
	// key on the same name regardless of how the sender addressed it.
	if alias, ok := p.dir.ResolveToAlias(to); ok {
		return &api.Decision{Action: api.ActionAllow, Identity: alias}
	}

	return &api.Decision{
		Action:   api.ActionBlock,
		Reason:   api.ReasonUnknownContact,
		Message:  fmt.Sprintf("recipient %q is not a known contact alias or handle", to),
		Identity: to,
	}
}

// EvaluateInbound applies the backend→client rule to notifications. Message
// deliveries from unknown senders are dropped, self-echoes are dropped, and
// permitted deliveries have every sender field rewritten to the alias so no
// real handle reaches the untrusted side. Non-message notifications and
// responses pass through.
func (p *ContactPolicy) EvaluateInbound(m *jsonrpc.Message) *api.Decision {
	if m.Kind != jsonrpc.KindNotification {
		return &api.Decision{Action: api.ActionAllow}
	}
	if _, ok := p.messageMethods[m.Method()]; !ok {
		return &api.Decision{Action: api.ActionAllow}
	}

	params, ok := m.DecodeParams()
	if !ok {
		return &api.Decision{
			Action:  api.ActionBlock,
			Reason:  api.ReasonUnknownSender,
			Message: "message notification params are not an object",
		}
	}

	// Sender fields may live on the nested message object or at top level.
	inner := params
	if raw, present := params["message"]; present {
		obj, ok := raw.(map[string]any)
		if !ok {
			return &api.Decision{
				Action:  api.ActionBlock,
				Reason:  api.ReasonUnknownSender,
				Message: "unrecognized message notification shape",
			}
		}
		inner = obj
	}

	if isFromMe(inner) || isFromMe(params) {
		return &api.Decision{
			Action:  api.ActionBlock,
			Reason:  api.ReasonSelfEcho,
			Message: "self-echo is never delivered",
		}
	}

	sender := p.findSender(inner)
	if sender == "" {
		sender = p.findSender(params)
	}
	if sender == "" {
		return &api.Decision{
			Action:  api.ActionBlock,
			Reason:  api.ReasonUnknownSender,
			Message: "message notification has no sender field",
		}
	}

	alias, ok := p.dir.ResolveToAlias(sender)
	if !ok {
		return &api.Decision{
			Action:   api.ActionBlock,
			Reason:   api.ReasonUnknownSender,
			Message:  fmt.Sprintf("sender %q is not in contacts", sender),
			Identity: sender,
		}
	}

	for _, key := range p.senderKeys {
		if _, present := inner[key]; present {
			inner[key] = alias
		}
		if _, present := params[key]; present {
			params[key] = alias
		}
	}

	rewritten, err := json.Marshal(params)
	if err != nil {
		return &api.Decision{
			Action:  api.ActionBlock,
			Reason:  api.ReasonUnknownSender,
			Message: "failed to rewrite notification params: " + err.Error(),
		}
	}
	return &api.Decision{
		Action:   api.ActionRewrite,
		Identity: alias,
		Params:   rewritten,
	}
}

func (p *ContactPolicy) findSender(obj map[string]any) string {
	for _, key := range p.senderKeys {
		if val, ok := obj[key].(string); ok {
			if s := strings.TrimSpace(val); s != "" {
				return s
			}
		}
	}
	return ""
}

// isFromMe matches the shapes the backend is known to emit for the
// self-message flag: bool, 0/1, and their string forms.
func isFromMe(obj map[string]any) bool {
	switch v := obj["is_from_me"].(type) {
	case bool:
		return v
	case float64:
		return v == 1
	case string:
		return v == "true" || v == "1"
	default:
		return false
	}
}

func isEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case float64:
		return val == 0
	case bool:
		return !val
	default:
		return false
	}
}
