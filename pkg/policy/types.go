package policy

import (
	"github.com/openfroyo/deployer/pkg/config"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityWarning is for findings that are reported but do not block the run.
	SeverityWarning Severity = "warning"

	// SeverityError is for violations that block the run.
	SeverityError Severity = "error"
)

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. The module must define a
	// "deny" set in its package.
	Rego string `json:"rego"`

	// Severity is the default severity for violations that do not set one.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Message describes the violation.
	Message string `json:"message"`

	// Severity is the violation's severity.
	Severity Severity `json:"severity"`

	// Field is the configuration key the violation refers to, if any.
	Field string `json:"field,omitempty"`
}

// Result is the outcome of evaluating every enabled policy.
type Result struct {
	// Allowed is false when any violation has error severity.
	Allowed bool `json:"allowed"`

	// Violations lists every finding, errors and warnings alike.
	Violations []Violation `json:"violations,omitempty"`
}

// Errors returns the blocking violations.
func (r *Result) Errors() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == SeverityError {
			out = append(out, v)
		}
	}
	return out
}

// Warnings returns the non-blocking violations.
func (r *Result) Warnings() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity != SeverityError {
			out = append(out, v)
		}
	}
	return out
}

// Input is the document policies are evaluated against.
type Input struct {
	// Config is the loaded deployer configuration.
	Config *config.Config `json:"config"`

	// SecretsMode is the numeric secrets file mode, since Rego has no octal
	// parser.
	SecretsMode int `json:"secrets_mode"`
}

// NewInput builds the policy input for a configuration.
func NewInput(cfg *config.Config) *Input {
	return &Input{
		Config:      cfg,
		SecretsMode: int(cfg.SecretsMode()),
	}
}
