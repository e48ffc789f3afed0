package api

import (
	"encoding/json"
	"time"
)

// Action is what the policy engine tells the transport to do with a message.
type Action string

const (
	ActionAllow   Action = "allow"   // forward unchanged
	ActionRewrite Action = "rewrite" // forward with substituted params
	ActionBlock   Action = "block"   // reject (requests) or drop (notifications)
)

// Reason identifies why a message was blocked.
type Reason string

const (
	ReasonUnknownContact Reason = "unknown_contact"
	ReasonIndirectTarget Reason = "indirect_target_unverifiable"
	ReasonUnknownSender  Reason = "unknown_sender"
	ReasonSelfEcho       Reason = "self_echo"
	ReasonMethodDenied   Reason = "method_denied"
	ReasonHandleLeak     Reason = "handle_leak"
	ReasonRateLimited    Reason = "rate_limited"
)

// Direction indicates which way a message is flowing through the filter.
type Direction string

const (
	DirectionOutbound Direction = "outbound" // client → backend
	DirectionInbound  Direction = "inbound"  // backend → client
)

// Decision is the outcome of evaluating one message against the contact policy.
type Decision struct {
	Action Action
	Reason Reason

	// Message is the human-readable explanation for blocks.
	Message string

	// Identity is the offending or resolved identity, for the audit trail.
	Identity string

	// Params replaces the original params when Action is ActionRewrite.
	Params json.RawMessage
}

// Blocked reports whether the decision denies the message.
func (d *Decision) Blocked() bool { return d.Action == ActionBlock }

// AuditRecord is one line of the decision log.
type AuditRecord struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Direction Direction     `json:"direction"`
	Method    string        `json:"method,omitempty"`
	Identity  string        `json:"identity,omitempty"`
	Action    Action        `json:"action"`
	Reason    Reason        `json:"reason,omitempty"`
	Message   string        `json:"message,omitempty"`
	RawSize   int           `json:"raw_size,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// QueryFilter defines criteria for querying audit records.
type QueryFilter struct {
	Since  time.Time `json:"since,omitempty"`
	Until  time.Time `json:"until,omitempty"`
	Method string    `json:"method,omitempty"`
	Action Action    `json:"action,omitempty"`
	Reason Reason    `json:"reason,omitempty"`
	Limit  int       `json:"limit,omitempty"`
	Offset int       `json:"offset,omitempty"`
}

// AuditStats summarizes the decision log.
type AuditStats struct {
	Total        int            `json:"total"`
	AllowCount   int            `json:"allow_count"`
	RewriteCount int            `json:"rewrite_count"`
	BlockCount   int            `json:"block_count"`
	ByMethod     map[string]int `json:"by_method"`
	ByReason     map[string]int `json:"by_reason"`
}
