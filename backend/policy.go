package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/open-policy-agent/opa/rego"

	"parley/bridge"
)

// PolicyEngine gates tool calls through an OPA rego policy compiled from the
// workspace's tool-permission config.
type PolicyEngine struct {
	query rego.PreparedEvalQuery
}

// NewPolicyEngine compiles a workspace's tool-permission config into a
// prepared rego query.
func NewPolicyEngine(ctx context.Context, cfg bridge.ToolPermissionConfig) (*PolicyEngine, error) {
	module, err := buildPolicyModule(cfg)
	if err != nil {
		return nil, err
	}

	r := rego.New(
		rego.Query("data.parley.tools.decision"),
		rego.Module("tool_policy.rego", module),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare tool policy: %w", err)
	}

	return &PolicyEngine{query: query}, nil
}

// Decide evaluates the policy for a tool name and returns one of the
// bridge.Policy* constants. Unresolvable evaluations fall back to
// require_approval so nothing runs unreviewed.
func (e *PolicyEngine) Decide(ctx context.Context, toolName string) (string, error) {
	input := map[string]any{"tool_name": toolName}

	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate tool policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return bridge.PolicyRequireApproval, nil
	}

	decision, ok := results[0].Expressions[0].Value.(string)
	if !ok {
		return bridge.PolicyRequireApproval, nil
	}

	return decision, nil
}

// buildPolicyModule generates the rego source for a permission config: the
// default policy as the default rule, one override rule per named tool.
func buildPolicyModule(cfg bridge.ToolPermissionConfig) (string, error) {
	defaultPolicy := cfg.DefaultPolicy
	if defaultPolicy == "" {
		defaultPolicy = bridge.PolicyRequireApproval
	}
	if err := validatePolicy(defaultPolicy); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("package parley.tools\n\n")
	b.WriteString("import rego.v1\n\n")
	fmt.Fprintf(&b, "default decision := %q\n", defaultPolicy)

	for toolName, policy := range cfg.Tools {
		if err := validatePolicy(policy); err != nil {
			return "", fmt.Errorf("tool %q: %w", toolName, err)
		}
		fmt.Fprintf(&b, "\ndecision := %q if {\n\tinput.tool_name == %q\n}\n", policy, toolName)
	}

	return b.String(), nil
}

func validatePolicy(policy string) error {
	switch policy {
	case bridge.PolicyAllow, bridge.PolicyRequireApproval, bridge.PolicyBlock:
		return nil
	default:
		return fmt.Errorf("unknown tool policy: %q", policy)
	}
}
