package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/storage/inmem"
	"github.com/open-policy-agent/opa/v1/topdown"

	"github.com/imsgguard/imsg-guard/api"
)

// OPAEngine implements the method-policy Engine using embedded OPA/Rego.
type OPAEngine struct {
	mu   sync.RWMutex
	path string

	query rego.PreparedEvalQuery
}

// NewOPAEngine creates a new OPA engine from a .rego policy file.
func NewOPAEngine(path string) (*OPAEngine, error) {
	e := &OPAEngine{path: path}
	if err := e.Reload(context.Background()); err != nil {
		return nil, err
	}
	return e, nil
}

// NewOPAEngineFromSource creates a new OPA engine from raw Rego source.
func NewOPAEngineFromSource(source string) (*OPAEngine, error) {
	e := &OPAEngine{}
	if err := e.loadSource(source); err != nil {
		return nil, err
	}
	return e, nil
}

// Evaluate runs the Rego policy against the given input.
//
// The policy must define the following in package imsgguard:
//
//	verdict: "allow" | "block"
//	rule_name: string (optional)
//	message: string (optional)
//
// Input available to the policy:
//
//	input.method: string
//	input.params: object
//
// Anything other than an explicit "allow" verdict blocks the request.
func (e *OPAEngine) Evaluate(ctx context.Context, input *EvalInput) (*EvalResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	inputMap := map[string]any{
		"method": input.Method,
	}
	if input.Params != nil {
		var params any
		if err := json.Unmarshal(input.Params, &params); err == nil {
			inputMap["params"] = params
		}
	}

	rs, err := e.query.Eval(ctx, rego.EvalInput(inputMap))
	if err != nil {
		if topdown.IsError(err) {
			return &EvalResult{
				Action:  api.ActionBlock,
				Rule:    "_opa_error",
				Message: "OPA evaluation error: " + err.Error(),
			}, nil
		}
		return nil, fmt.Errorf("OPA evaluation failed: %w", err)
	}

	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return &EvalResult{
			Action:  api.ActionBlock,
			Rule:    "_opa_default",
			Message: "OPA policy returned no result",
		}, nil
	}

	resultMap, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return &EvalResult{
			Action:  api.ActionBlock,
			Rule:    "_opa_parse_error",
			Message: "unexpected OPA result type",
		}, nil
	}

	return parseOPAResult(resultMap), nil
}

// Reload re-reads the Rego policy file from disk and recompiles.
func (e *OPAEngine) Reload(_ context.Context) error {
	if e.path == "" {
		return nil
	}
	data, err := os.ReadFile(e.path)
	if err != nil {
		return fmt.Errorf("reading OPA policy file: %w", err)
	}
	return e.loadSource(string(data))
}

func (e *OPAEngine) loadSource(source string) error {
	// Parse to validate
	_, err := ast.ParseModuleWithOpts("policy.rego", source, ast.ParserOptions{RegoVersion: ast.RegoV1})
	if err != nil {
		return fmt.Errorf("parsing Rego policy: %w", err)
	}

	store := inmem.New()

	r := rego.New(
		rego.Query("data.imsgguard"),
		rego.Module("policy.rego", source),
		rego.Store(store),
	)

	query, err := r.PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("preparing OPA query: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.query = query

	return nil
}

func parseOPAResult(m map[string]any) *EvalResult {
	result := &EvalResult{
		Action: api.ActionBlock, // fail closed if not set
	}

	if v, ok := m["verdict"].(string); ok && v == "allow" {
		result.Action = api.ActionAllow
	}
	if r, ok := m["rule_name"].(string); ok {
		result.Rule = r
	}
	if msg, ok := m["message"].(string); ok {
		result.Message = msg
	}

	return result
}
