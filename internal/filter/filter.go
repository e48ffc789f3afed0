package filter

import "context"

// Filter is a single step in the message processing pipeline.
type Filter interface {
	// Name returns the filter name for logging.
	Name() string

	// Process inspects or modifies the context: classify the raw line, set
	// the policy decision, scrub the output, record the audit trail.
	// Returning an error aborts the chain.
	Process(ctx context.Context, fc *Context) error
}
