package filter

import (
	"time"

	"github.com/imsgguard/imsg-guard/api"
	"github.com/imsgguard/imsg-guard/internal/jsonrpc"
)

// Context carries one message's state through the filter chain.
type Context struct {
	// Raw is the original protocol line.
	Raw []byte

	// Direction indicates outbound (client→backend) or inbound (backend→client).
	Direction api.Direction

	// Msg is the classified message (set by ClassifyFilter).
	Msg *jsonrpc.Message

	// Decision is set by the PolicyFilter.
	Decision *api.Decision

	// StartTime records when the message entered the pipeline.
	StartTime time.Time

	// Halted indicates the message was blocked; later filters still run
	// (audit) but must not override the decision.
	Halted bool

	// out is the effective output line when it differs from Raw.
	out []byte
}

// NewContext creates a Context for one raw line.
func NewContext(raw []byte, direction api.Direction) *Context {
	return &Context{
		Raw:       raw,
		Direction: direction,
		StartTime: time.Now(),
	}
}

// Out returns the bytes to forward: the rewritten line when the policy or a
// scrubber substituted identities, otherwise the original line.
func (fc *Context) Out() []byte {
	if fc.out != nil {
		return fc.out
	}
	return fc.Raw
}

// SetOut replaces the effective output line.
func (fc *Context) SetOut(line []byte) { fc.out = line }

// Method returns the classified method name, if any.
func (fc *Context) Method() string {
	if fc.Msg == nil {
		return ""
	}
	return fc.Msg.Method()
}

// ToAuditRecord converts the context into an audit record.
func (fc *Context) ToAuditRecord() *api.AuditRecord {
	rec := &api.AuditRecord{
		Timestamp: fc.StartTime,
		Direction: fc.Direction,
		Method:    fc.Method(),
		RawSize:   len(fc.Raw),
		Duration:  time.Since(fc.StartTime),
	}
	if fc.Decision != nil {
		rec.Action = fc.Decision.Action
		rec.Reason = fc.Decision.Reason
		rec.Message = fc.Decision.Message
		rec.Identity = fc.Decision.Identity
	} else {
		rec.Action = api.ActionAllow
	}
	return rec
}
