package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a fatal stage failure. Every kind aborts the run; the
// kind only decides how the failure is reported to the operator.
type ErrorKind string

const (
	// KindPrivilege indicates the deployer is not running with the rights it
	// needs. Raised before any host state is touched.
	KindPrivilege ErrorKind = "PrivilegeError"

	// KindDependency indicates the package index refresh or a package
	// installation failed.
	KindDependency ErrorKind = "DependencyError"

	// KindFetch indicates the application source could not be retrieved.
	KindFetch ErrorKind = "FetchError"

	// KindEnvironment indicates the isolated runtime environment could not be
	// created or its dependencies could not be resolved.
	KindEnvironment ErrorKind = "EnvironmentError"

	// KindSecrets indicates the secrets file could not be created or locked down.
	KindSecrets ErrorKind = "SecretsError"

	// KindServiceStart indicates the application service could not be
	// registered or failed to come up.
	KindServiceStart ErrorKind = "ServiceStartError"

	// KindConfigValidation indicates the reverse proxy rejected its
	// configuration or failed to reload it. A rejected configuration is
	// rolled back and the running proxy keeps its previous one.
	KindConfigValidation ErrorKind = "ConfigValidationError"

	// KindFirewall indicates a firewall rule or enforcement change failed.
	KindFirewall ErrorKind = "FirewallError"

	// KindConfig indicates the deployer's own configuration is invalid or
	// violates the preflight policy.
	KindConfig ErrorKind = "ConfigError"
)

// StageError is a classified, fatal error raised by a stage.
type StageError struct {
	// Kind is the failure classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Stage is the name of the stage that failed, if applicable.
	Stage string `json:"stage,omitempty"`

	// ExitCode is the exit status of the failing external command, or 0
	// when the failure did not come from a command.
	ExitCode int `json:"exit_code,omitempty"`

	// Hint is operator guidance printed below the error.
	Hint string `json:"hint,omitempty"`

	// Output holds diagnostic text captured from the failing tool.
	Output string `json:"output,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *StageError) Error() string {
	msg := e.Message
	if e.Stage != "" {
		msg = fmt.Sprintf("%s (stage=%s)", msg, e.Stage)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s", e.Kind, msg, e.Err.Error())
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *StageError) Unwrap() error {
	return e.Err
}

// Is matches another *StageError of the same kind, so callers can write
// errors.Is(err, &StageError{Kind: KindFetch}).
func (e *StageError) Is(target error) bool {
	t, ok := target.(*StageError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewError creates a new classified error.
func NewError(kind ErrorKind, message string, err error) *StageError {
	return &StageError{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Errorf creates a new classified error with a formatted message and no cause.
func Errorf(kind ErrorKind, format string, args ...interface{}) *StageError {
	return &StageError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// WithStage adds the failing stage's name.
func (e *StageError) WithStage(stage string) *StageError {
	e.Stage = stage
	return e
}

// WithExitCode records the failing command's exit status.
func (e *StageError) WithExitCode(code int) *StageError {
	e.ExitCode = code
	return e
}

// WithHint adds operator guidance.
func (e *StageError) WithHint(hint string) *StageError {
	e.Hint = hint
	return e
}

// WithOutput attaches tool diagnostics.
func (e *StageError) WithOutput(output string) *StageError {
	e.Output = output
	return e
}

// KindOf returns the kind of the first StageError in err's chain, or "" if
// there is none.
func KindOf(err error) ErrorKind {
	var e *StageError
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries a StageError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// ExitCode returns the process exit status for err: 0 for nil, the failing
// command's status when one was recorded, and 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var e *StageError
	if errors.As(err, &e) && e.ExitCode > 0 && e.ExitCode < 256 {
		return e.ExitCode
	}
	return 1
}
