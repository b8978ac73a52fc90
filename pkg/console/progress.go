// Package console prints operator-facing stage progress, failures and the
// completion report.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/muesli/termenv"

	"github.com/openfroyo/deployer/pkg/engine"
)

// Palette colours used for progress output.
const (
	colorLabel   = "#818cf8"
	colorOK      = "#22c55e"
	colorFail    = "#ef4444"
	colorWarn    = "#eab308"
	colorSkipped = "#9ca3af"
)

// Progress prints operator-facing stage progress. It implements
// engine.Observer.
type Progress struct {
	mu      sync.Mutex
	out     io.Writer
	profile termenv.Profile
}

// NewProgress creates a progress printer writing to out. Colours follow the
// terminal's capabilities unless noColor is set.
func NewProgress(out io.Writer, noColor bool) *Progress {
	profile := termenv.Ascii
	if !noColor {
		profile = termenv.NewOutput(out).ColorProfile()
	}
	return &Progress{out: out, profile: profile}
}

func (p *Progress) style(s, hex string) termenv.Style {
	return p.profile.String(s).Foreground(p.profile.Color(hex))
}

func (p *Progress) printf(format string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

// Label returns the "[n/total]" prefix for a numbered stage.
func Label(result *engine.StageResult, total int) string {
	return fmt.Sprintf("[%d/%d]", result.Index, total)
}

// RunStarted is a no-op; the first stage label starts the output.
func (p *Progress) RunStarted(context.Context, *engine.Run) {}

// StageStarted prints the stage label and title.
func (p *Progress) StageStarted(_ context.Context, run *engine.Run, result *engine.StageResult) {
	if !result.Numbered {
		return
	}
	label := p.style(Label(result, run.Total), colorLabel).Bold()
	p.printf("%s %s...\n", label, result.Title)
}

// StageFinished prints the stage outcome.
func (p *Progress) StageFinished(_ context.Context, _ *engine.Run, result *engine.StageResult) {
	if !result.Numbered {
		return
	}

	switch result.Status {
	case engine.StageStatusSucceeded:
		mark := "ok"
		if !result.Changed {
			mark = "ok (unchanged)"
		}
		line := "      " + p.style(mark, colorOK).String()
		if result.Summary != "" {
			line += " " + result.Summary
		}
		p.printf("%s\n", line)
		for _, w := range result.Warnings {
			p.printf("      %s %s\n", p.style("warning:", colorWarn), w)
		}
	case engine.StageStatusFailed:
		p.printf("      %s\n", p.style("failed", colorFail).Bold())
	}
}

// RunFinished prints the failure details and the stages that did not run.
func (p *Progress) RunFinished(_ context.Context, run *engine.Run) {
	if run.Status != engine.RunStatusAborted {
		return
	}

	var skipped []string
	for _, res := range run.Results {
		if res.Status == engine.StageStatusSkipped && res.Numbered {
			skipped = append(skipped, res.Title)
		}
	}

	p.printf("\n%s\n", p.FormatError(run.Err))
	if len(skipped) > 0 {
		p.printf("%s %s\n", p.style("Not run:", colorSkipped), strings.Join(skipped, ", "))
	}
}

// FormatError renders an error with its hint and captured tool output.
func (p *Progress) FormatError(err error) string {
	if err == nil {
		return ""
	}

	var b strings.Builder
	var se *engine.StageError
	if !errors.As(err, &se) {
		fmt.Fprintf(&b, "%s %s", p.style("Error:", colorFail).Bold(), err)
		return b.String()
	}

	fmt.Fprintf(&b, "%s %s", p.style(string(se.Kind)+":", colorFail).Bold(), se.Message)
	// Captured output supersedes the cause, which repeats its tail.
	if se.Err != nil && se.Output == "" {
		fmt.Fprintf(&b, ": %s", se.Err)
	}
	if se.Output != "" {
		b.WriteString("\n")
		for _, line := range strings.Split(strings.TrimRight(se.Output, "\n"), "\n") {
			fmt.Fprintf(&b, "    %s\n", line)
		}
		s := strings.TrimRight(b.String(), "\n")
		b.Reset()
		b.WriteString(s)
	}
	if se.Hint != "" {
		fmt.Fprintf(&b, "\n%s %s", p.style("Hint:", colorWarn), se.Hint)
	}
	return b.String()
}
