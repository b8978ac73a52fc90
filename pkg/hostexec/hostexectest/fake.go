// Package hostexectest provides a scriptable hostexec.Runner for tests.
package hostexectest

import (
	"context"
	"strings"
	"sync"

	"github.com/openfroyo/deployer/pkg/hostexec"
)

// HandlerFunc produces the result of a matched command. It may also mutate a
// test host (e.g. create files) to emulate the command's side effects.
type HandlerFunc func(cmd hostexec.Command) (*hostexec.Result, error)

type rule struct {
	prefix  string
	handler HandlerFunc
}

// FakeRunner records every command and answers from registered rules.
// Commands matching no rule succeed with empty output.
type FakeRunner struct {
	mu    sync.Mutex
	rules []rule
	calls []hostexec.Command
}

// NewFakeRunner creates an empty fake runner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{}
}

// On registers a handler for commands whose rendered form starts with
// prefix. Later registrations take precedence.
func (f *FakeRunner) On(prefix string, h HandlerFunc) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule{prefix: prefix, handler: h})
	return f
}

// Exit makes commands matching prefix exit with code and stderr.
func (f *FakeRunner) Exit(prefix string, code int, stderr string) *FakeRunner {
	return f.On(prefix, func(hostexec.Command) (*hostexec.Result, error) {
		return &hostexec.Result{ExitCode: code, Stderr: stderr}, nil
	})
}

// Stdout makes commands matching prefix succeed with the given output.
func (f *FakeRunner) Stdout(prefix, stdout string) *FakeRunner {
	return f.On(prefix, func(hostexec.Command) (*hostexec.Result, error) {
		return &hostexec.Result{Stdout: stdout}, nil
	})
}

// Run implements hostexec.Runner.
func (f *FakeRunner) Run(ctx context.Context, cmd hostexec.Command) (*hostexec.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	rules := append([]rule(nil), f.rules...)
	f.mu.Unlock()

	line := cmd.String()
	for i := len(rules) - 1; i >= 0; i-- {
		if strings.HasPrefix(line, rules[i].prefix) {
			return rules[i].handler(cmd)
		}
	}
	return &hostexec.Result{}, nil
}

// Calls returns every command run so far, rendered as strings.
func (f *FakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.String())
	}
	return out
}

// Commands returns every command run so far.
func (f *FakeRunner) Commands() []hostexec.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]hostexec.Command(nil), f.calls...)
}

// Ran reports whether a command starting with prefix was run.
func (f *FakeRunner) Ran(prefix string) bool {
	return f.Index(prefix) >= 0
}

// Index returns the position of the first command starting with prefix, or -1.
func (f *FakeRunner) Index(prefix string) int {
	for i, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			return i
		}
	}
	return -1
}

// Reset forgets recorded calls but keeps the rules.
func (f *FakeRunner) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}
