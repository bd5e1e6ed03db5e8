// Package policy evaluates per-deployment stage gating rules.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Decisions returned by stage policies.
const (
	DecisionAllow = "allow"
	DecisionSkip  = "skip"
)

// Engine is the OPA stage policy engine. It gates pipeline stages in
// addition to each stage's own entry conditions.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.stage_policy.decision"),
		rego.Module("stage_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate decides whether a stage may run for a request.
// Input keys: stage, user_id, user_request.
// Returns "allow" or "skip".
func (e *Engine) Evaluate(ctx context.Context, input interface{}) (string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		// The default policy defines a decision; no result means the
		// loaded policy omitted one, so fail open.
		return DecisionAllow, nil
	}

	if s, ok := results[0].Expressions[0].Value.(string); ok {
		return s, nil
	}
	return DecisionAllow, nil
}

// DefaultPolicy is the default stage policy content.
const DefaultPolicy = `
package stage_policy

default decision = "allow"

# Example: corpus administration is reserved for operators
decision = "skip" {
	input.stage == "corpus-admin"
	input.user_id == "guest"
}
`
