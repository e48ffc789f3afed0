package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/imsgguard/imsg-guard/api"
)

// RulesEngine implements first-match-wins method-policy evaluation over
// rules parsed from the YAML config.
type RulesEngine struct {
	rules         []Rule
	defaultAction api.Action

	// compiled regex cache, keyed by rule name and param key
	regexCache map[string]*regexp.Regexp
}

// NewRulesEngine creates a method-policy engine from already-loaded rules.
// The default action applies when no rule matches; empty means allow,
// matching the underlying protocol's behavior for non-send methods.
func NewRulesEngine(rules []Rule, defaultAction api.Action) (*RulesEngine, error) {
	if defaultAction == "" {
		defaultAction = api.ActionAllow
	}
	e := &RulesEngine{
		rules:         rules,
		defaultAction: defaultAction,
		regexCache:    make(map[string]*regexp.Regexp),
	}
	if err := ValidateRules(rules); err != nil {
		return nil, err
	}
	for _, rule := range rules {
		for key, am := range rule.Match.Params {
			if am.Regex != "" {
				re, err := regexp.Compile(am.Regex)
				if err != nil {
					return nil, fmt.Errorf("rule %q param %q: %w", rule.Name, key, err)
				}
				e.regexCache[rule.Name+":"+key] = re
			}
		}
	}
	return e, nil
}

// ValidateRules checks rule names, actions and regex patterns.
func ValidateRules(rules []Rule) error {
	validActions := map[string]bool{"allow": true, "block": true}
	for i, rule := range rules {
		if rule.Name == "" {
			return fmt.Errorf("rule %d: name is required", i)
		}
		if !validActions[rule.Action] {
			return fmt.Errorf("rule %q: invalid action %q", rule.Name, rule.Action)
		}
		if rule.Match.Method == "" {
			return fmt.Errorf("rule %q: match.method is required", rule.Name)
		}
		for key, am := range rule.Match.Params {
			if am.Regex != "" {
				if _, err := regexp.Compile(am.Regex); err != nil {
					return fmt.Errorf("rule %q: param %q regex invalid: %w", rule.Name, key, err)
				}
			}
		}
	}
	return nil
}

// Evaluate checks the input against rules in order, returning the first match.
func (e *RulesEngine) Evaluate(_ context.Context, input *EvalInput) (*EvalResult, error) {
	for _, rule := range e.rules {
		if e.matches(&rule, input) {
			return &EvalResult{
				Action:  api.Action(rule.Action),
				Rule:    rule.Name,
				Message: rule.Message,
			}, nil
		}
	}
	return &EvalResult{
		Action:  e.defaultAction,
		Rule:    "_default",
		Message: "no matching rule; default action applied",
	}, nil
}

// Reload is a no-op: rules live in the main config, which requires a restart.
func (e *RulesEngine) Reload(_ context.Context) error { return nil }

func (e *RulesEngine) matches(rule *Rule, input *EvalInput) bool {
	if rule.Match.Method != "" && rule.Match.Method != input.Method {
		return false
	}

	if len(rule.Match.Params) > 0 {
		if input.Params == nil {
			return false
		}
		var params map[string]any
		if err := json.Unmarshal(input.Params, &params); err != nil {
			return false
		}
		for key, am := range rule.Match.Params {
			val, ok := params[key]
			if !ok {
				return false
			}
			if !e.matchParam(rule.Name, key, am, val) {
				return false
			}
		}
	}

	return true
}

func (e *RulesEngine) matchParam(ruleName, key string, am ArgumentMatch, val any) bool {
	str := fmt.Sprintf("%v", val)

	if am.Exact != "" {
		return str == am.Exact
	}
	if am.Regex != "" {
		re, ok := e.regexCache[ruleName+":"+key]
		if !ok {
			return false
		}
		return re.MatchString(str)
	}
	return true
}
