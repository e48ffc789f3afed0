package policy

import (
	"encoding/json"

	"github.com/imsgguard/imsg-guard/api"
)

// Rule is a single method-policy rule, evaluated first-match-wins against
// non-send requests from the untrusted side.
type Rule struct {
	Name    string    `yaml:"name" json:"name"`
	Match   RuleMatch `yaml:"match" json:"match"`
	Action  string    `yaml:"action" json:"action"`
	Message string    `yaml:"message,omitempty" json:"message,omitempty"`
}

// RuleMatch specifies conditions for matching a request.
type RuleMatch struct {
	Method string                   `yaml:"method,omitempty" json:"method,omitempty"`
	Params map[string]ArgumentMatch `yaml:"params,omitempty" json:"params,omitempty"`
}

// ArgumentMatch specifies a matching condition for a single parameter.
type ArgumentMatch struct {
	Exact string `yaml:"exact,omitempty" json:"exact,omitempty"`
	Regex string `yaml:"regex,omitempty" json:"regex,omitempty"`
}

// EvalInput is the input to a method-policy evaluation.
type EvalInput struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// EvalResult is the output of a method-policy evaluation.
type EvalResult struct {
	Action  api.Action `json:"action"`
	Rule    string     `json:"rule,omitempty"`
	Message string     `json:"message,omitempty"`
}
