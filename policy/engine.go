// Package policy evaluates the Rego admission policy applied to prompts
// before they may start or restart a run.
package policy

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/open-policy-agent/opa/rego"
)

// Input is the document the admission policy is evaluated against.
type Input struct {
	Action string `json:"action"` // "start" or "restart"
	Prompt string `json:"prompt"`
	Name   string `json:"name,omitempty"`
	Model  string `json:"model,omitempty"`
	Org    string `json:"org,omitempty"`
	Limits Limits `json:"limits"`
}

// Limits are numeric bounds supplied by configuration.
type Limits struct {
	MaxPromptLength int `json:"max_prompt_length"`
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool
	Reasons []string
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
// The module must define data.run_policy.deny as a set of reason strings.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.run_policy.deny"),
		rego.Module("run_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// NewEngineFromFile loads the policy module from path, or DefaultPolicy when path is empty.
func NewEngineFromFile(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return NewEngine(ctx, string(content))
}

// Evaluate checks a prompt against the policy. Reasons are sorted.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Allowed: true}, nil
	}

	var reasons []string
	switch v := results[0].Expressions[0].Value.(type) {
	case []interface{}:
		for _, item := range v {
			reasons = append(reasons, fmt.Sprint(item))
		}
	case nil:
	default:
		return Decision{}, fmt.Errorf("unexpected policy result type %T", v)
	}
	sort.Strings(reasons)

	return Decision{Allowed: len(reasons) == 0, Reasons: reasons}, nil
}

// DefaultPolicy is the default policy content.
const DefaultPolicy = `
package run_policy

import rego.v1

deny contains "prompt is empty" if {
	trim_space(input.prompt) == ""
}

deny contains msg if {
	input.limits.max_prompt_length > 0
	count(input.prompt) > input.limits.max_prompt_length
	msg := sprintf("prompt exceeds %d characters", [input.limits.max_prompt_length])
}

# Prompts may not smuggle the seminar terminator used by the worker.
deny contains "prompt contains reserved marker <INFO>" if {
	contains(input.prompt, "<INFO>")
}
`
