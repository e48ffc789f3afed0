package policy

import "context"

// Engine is the interface for method-policy evaluation backends. The contact
// policy for send requests and inbound notifications is native code and is
// never delegated to an Engine; engines only decide whether the untrusted
// side may invoke other RPC methods at all.
type Engine interface {
	// Evaluate checks a request against loaded rules and returns a verdict.
	Evaluate(ctx context.Context, input *EvalInput) (*EvalResult, error)

	// Reload reloads rules from the source (file, inline, etc.).
	Reload(ctx context.Context) error
}
