// Package hostexec runs external commands on the host being provisioned.
package hostexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Command describes one external command invocation.
type Command struct {
	// Name is the executable, resolved through PATH.
	Name string

	// Args are the command arguments.
	Args []string

	// Dir is the working directory. Empty means the deployer's own.
	Dir string

	// Env holds extra KEY=VALUE pairs appended to the deployer's environment.
	Env []string
}

// Cmd is shorthand for building a Command.
func Cmd(name string, args ...string) Command {
	return Command{Name: name, Args: args}
}

// InDir returns a copy of the command that runs in dir.
func (c Command) InDir(dir string) Command {
	c.Dir = dir
	return c
}

// WithEnv returns a copy of the command with extra environment variables.
func (c Command) WithEnv(env ...string) Command {
	c.Env = append(append([]string(nil), c.Env...), env...)
	return c
}

// String renders the command as a shell-like line for logs and errors.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Name)
	for _, a := range c.Args {
		if a == "" || strings.ContainsAny(a, " \t'\"$") {
			parts = append(parts, fmt.Sprintf("%q", a))
			continue
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// Result is the captured outcome of a command that ran to completion.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner executes host commands. Run returns an error only when the command
// could not be started or was interrupted; a non-zero exit is reported
// through Result.ExitCode.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// LocalRunner executes commands on the local machine with os/exec.
type LocalRunner struct {
	logger zerolog.Logger
}

// NewLocalRunner creates a runner for the local host.
func NewLocalRunner(logger zerolog.Logger) *LocalRunner {
	return &LocalRunner{logger: logger.With().Str("component", "hostexec").Logger()}
}

// Run executes cmd and captures its output.
func (r *LocalRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Name == "" {
		return nil, fmt.Errorf("command is required")
	}

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	if cmd.Dir != "" {
		c.Dir = cmd.Dir
	}
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	r.logger.Debug().Str("command", cmd.String()).Str("dir", cmd.Dir).Msg("executing command")

	start := time.Now()
	err := c.Run()
	result := &Result{
		Duration: time.Since(start),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) || ctx.Err() != nil {
			return nil, fmt.Errorf("failed to execute %s: %w", cmd.Name, err)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	r.logger.Debug().
		Str("command", cmd.String()).
		Int("exit_code", result.ExitCode).
		Dur("duration", result.Duration).
		Msg("command finished")

	return result, nil
}

// CommandError reports a command that exited with a non-zero status.
type CommandError struct {
	Command  Command
	ExitCode int
	Stderr   string
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", e.Command.String(), e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + lastLines(s, 5)
	}
	return msg
}

// Exec runs cmd and converts a non-zero exit into a *CommandError.
func Exec(ctx context.Context, r Runner, cmd Command) (*Result, error) {
	res, err := r.Run(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return res, &CommandError{Command: cmd, ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	return res, nil
}

// StatusOf returns the exit status carried by err, or 0.
func StatusOf(err error) int {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.ExitCode
	}
	return 0
}

// Diagnostics returns the captured stderr (falling back to stdout) of a
// failed command.
func Diagnostics(res *Result) string {
	if res == nil {
		return ""
	}
	if s := strings.TrimSpace(res.Stderr); s != "" {
		return s
	}
	return strings.TrimSpace(res.Stdout)
}

func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
