package filter

import (
	"context"

	"github.com/imsgguard/imsg-guard/api"
	"github.com/imsgguard/imsg-guard/internal/jsonrpc"
	"github.com/imsgguard/imsg-guard/internal/policy"
)

// PolicyFilter evaluates the message against the contact policy and, for
// outbound non-send requests, the optional method-policy engine.
type PolicyFilter struct {
	contacts *policy.ContactPolicy
	methods  policy.Engine
}

// NewPolicyFilter creates a PolicyFilter. The method engine may be nil, in
// which case non-send methods pass through, matching the backend protocol's
// own behavior.
func NewPolicyFilter(contacts *policy.ContactPolicy, methods policy.Engine) *PolicyFilter {
	return &PolicyFilter{contacts: contacts, methods: methods}
}

func (f *PolicyFilter) Name() string { return "policy" }

func (f *PolicyFilter) Process(ctx context.Context, fc *Context) error {
	switch fc.Direction {
	case api.DirectionOutbound:
		fc.Decision = f.contacts.EvaluateOutbound(fc.Msg)
		if !fc.Decision.Blocked() {
			if err := f.applyMethodPolicy(ctx, fc); err != nil {
				return err
			}
		}
	case api.DirectionInbound:
		fc.Decision = f.contacts.EvaluateInbound(fc.Msg)
	}

	if fc.Decision.Blocked() {
		fc.Halted = true
		return nil
	}
	if fc.Decision.Action == api.ActionRewrite {
		out, err := fc.Msg.WithParams(fc.Decision.Params)
		if err != nil {
			return err
		}
		fc.SetOut(out)
	}
	return nil
}

func (f *PolicyFilter) applyMethodPolicy(ctx context.Context, fc *Context) error {
	if f.methods == nil {
		return nil
	}
	m := fc.Msg
	if m.Kind != jsonrpc.KindRequest && m.Kind != jsonrpc.KindNotification {
		return nil
	}
	if m.Method() == policy.SendMethod {
		return nil
	}

	res, err := f.methods.Evaluate(ctx, &policy.EvalInput{
		Method: m.Method(),
		Params: m.Msg.Params,
	})
	if err != nil {
		return err
	}
	if res.Action != api.ActionAllow {
		fc.Decision = &api.Decision{
			Action:  api.ActionBlock,
			Reason:  api.ReasonMethodDenied,
			Message: blockMessage(res),
		}
		fc.Halted = true
	}
	return nil
}

func blockMessage(res *policy.EvalResult) string {
	if res.Message != "" {
		return res.Message
	}
	if res.Rule != "" {
		return "method denied by rule " + res.Rule
	}
	return "method denied by policy"
}
