package sandbox

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/rego"
)

// Policy evaluates a Rego bundle over a scan report for organizations
// wanting risk rules beyond the built-in pattern list (spec.md §4.D's
// "optional OPA policy layer"). The query must return a single boolean:
// true means the code is allowed to run.
type Policy struct {
	query rego.PreparedEvalQuery
}

// NewPolicy compiles a Rego module (regoQuery selects the decision, e.g.
// "data.sandbox.allow") and returns a Policy ready to evaluate.
func NewPolicy(ctx context.Context, regoModule, regoQuery string) (*Policy, error) {
	prepared, err := rego.New(
		rego.Query(regoQuery),
		rego.Module("sandbox_policy.rego", regoModule),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("sandbox: compile policy: %w", err)
	}
	return &Policy{query: prepared}, nil
}

// Allow evaluates the policy against a scan result. A policy violation
// (query evaluates to false, or yields no result) denies execution.
func (p *Policy) Allow(ctx context.Context, scan ScanResult) (bool, error) {
	input := map[string]any{
		"safe":       scan.Safe,
		"risk_level": string(scan.RiskLevel),
		"issues":     scan.Issues,
	}

	results, err := p.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("sandbox: evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}
	allowed, _ := results[0].Expressions[0].Value.(bool)
	return allowed, nil
}
