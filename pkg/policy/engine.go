package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	"github.com/openfroyo/deployer/pkg/config"
	"github.com/openfroyo/deployer/pkg/engine"
)

// Engine evaluates preflight policies against the deployer configuration.
type Engine struct {
	policies []*compiledPolicy
	logger   zerolog.Logger
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy *Policy
	query  rego.PreparedEvalQuery
}

// NewEngine creates a policy engine over the given policies. With no
// policies, the built-in set is used.
func NewEngine(ctx context.Context, logger zerolog.Logger, policies ...Policy) (*Engine, error) {
	if len(policies) == 0 {
		policies = BuiltinPolicies()
	}

	e := &Engine{
		logger: logger.With().Str("component", "policy-engine").Logger(),
	}

	for i := range policies {
		if !policies[i].Enabled {
			continue
		}
		if err := e.compile(ctx, &policies[i]); err != nil {
			return nil, fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Debug().Int("count", len(e.policies)).Msg("Policies compiled")
	return e, nil
}

// compile parses a policy and prepares its deny query for reuse.
func (e *Engine) compile(ctx context.Context, policy *Policy) error {
	module, err := ast.ParseModuleWithOpts(policy.Name, policy.Rego, ast.ParserOptions{RegoVersion: ast.RegoV1})
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	query := module.Package.Path.String() + ".deny"
	prepared, err := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Query(query),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	e.policies = append(e.policies, &compiledPolicy{policy: policy, query: prepared})
	return nil
}

// Policies returns the names of the compiled policies, in evaluation order.
func (e *Engine) Policies() []string {
	names := make([]string, 0, len(e.policies))
	for _, cp := range e.policies {
		names = append(names, cp.policy.Name)
	}
	return names
}

// Evaluate evaluates every policy against the configuration.
func (e *Engine) Evaluate(ctx context.Context, cfg *config.Config) (*Result, error) {
	input := NewInput(cfg)
	result := &Result{Allowed: true}

	for _, cp := range e.policies {
		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			return nil, fmt.Errorf("policy %s evaluation failed: %w", cp.policy.Name, err)
		}
		result.Violations = append(result.Violations, violations...)
	}

	for _, v := range result.Violations {
		if v.Severity == SeverityError {
			result.Allowed = false
			break
		}
	}

	e.logger.Debug().
		Int("violations", len(result.Violations)).
		Bool("allowed", result.Allowed).
		Msg("Policy evaluation completed")

	return result, nil
}

// Check evaluates the policies and returns a ConfigError listing every
// blocking violation. Warnings are returned alongside a nil error.
func (e *Engine) Check(ctx context.Context, cfg *config.Config) ([]Violation, error) {
	result, err := e.Evaluate(ctx, cfg)
	if err != nil {
		return nil, engine.NewError(engine.KindConfig, "preflight policy evaluation failed", err)
	}
	if result.Allowed {
		return result.Warnings(), nil
	}

	msgs := make([]string, 0, len(result.Violations))
	for _, v := range result.Errors() {
		msgs = append(msgs, v.Message)
	}
	return result.Warnings(), engine.Errorf(engine.KindConfig, "configuration rejected by preflight policy: %s", strings.Join(msgs, "; ")).
		WithHint("Fix the listed settings in the deployer configuration file and re-run.")
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, createViolation(cp.policy, d))
		}
	}
	return violations, nil
}

// createViolation creates a Violation from a deny set element.
func createViolation(policy *Policy, result interface{}) Violation {
	violation := Violation{
		Policy:   policy.Name,
		Severity: policy.Severity,
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
		if field, ok := v["field"].(string); ok {
			violation.Field = field
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}
