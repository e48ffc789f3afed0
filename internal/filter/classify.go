package filter

import (
	"context"

	"github.com/imsgguard/imsg-guard/internal/jsonrpc"
)

// ClassifyFilter decodes the raw line into a tagged message. It never fails:
// unparsable lines are tagged as such and pass through the rest of the chain.
type ClassifyFilter struct{}

func NewClassifyFilter() *ClassifyFilter { return &ClassifyFilter{} }

func (f *ClassifyFilter) Name() string { return "classify" }

func (f *ClassifyFilter) Process(_ context.Context, fc *Context) error {
	fc.Msg = jsonrpc.Classify(fc.Raw)
	return nil
}
