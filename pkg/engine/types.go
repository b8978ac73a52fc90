package engine

import (
	"context"
	"time"
)

// Stage is one step of the provisioning chain. Stages run strictly in order;
// a returned error aborts the run.
type Stage interface {
	// Name is the stable identifier used in logs, metrics and the journal
	// (e.g. "packages").
	Name() string

	// Title is the operator-facing progress text (e.g. "Installing system packages").
	Title() string

	// Run performs the stage against the host. The run carries the results
	// of every stage executed so far.
	Run(ctx context.Context, run *Run) (*Outcome, error)
}

// Outcome describes what a successful stage did.
type Outcome struct {
	// Changed is false when the stage found the host already in the desired
	// state and made no modification.
	Changed bool `json:"changed"`

	// Summary is a one-line description of the result.
	Summary string `json:"summary,omitempty"`

	// Warnings are operator-facing notes that do not fail the stage.
	Warnings []string `json:"warnings,omitempty"`
}

// Warn appends a warning and returns the outcome for chaining.
func (o *Outcome) Warn(msg string) *Outcome {
	o.Warnings = append(o.Warnings, msg)
	return o
}

// StageResult is the recorded state of one stage within a run.
type StageResult struct {
	// Index is the 1-based position of the stage in the chain.
	Index int `json:"index"`

	// Name is the stage identifier.
	Name string `json:"name"`

	// Title is the stage's progress text.
	Title string `json:"title"`

	// Numbered is false for the trailing report stage, which is not counted
	// in "[n/total]" progress labels.
	Numbered bool `json:"numbered"`

	// Status is the stage's current status.
	Status StageStatus `json:"status"`

	// Changed mirrors Outcome.Changed once the stage has succeeded.
	Changed bool `json:"changed"`

	// Summary mirrors Outcome.Summary.
	Summary string `json:"summary,omitempty"`

	// Warnings mirrors Outcome.Warnings.
	Warnings []string `json:"warnings,omitempty"`

	// StartedAt is when the stage began executing.
	StartedAt time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the stage reached a terminal status.
	CompletedAt time.Time `json:"completed_at,omitempty"`

	// Err is the error that failed the stage.
	Err error `json:"-"`
}

// Duration returns how long the stage ran.
func (r *StageResult) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// Run is a single invocation of the orchestrator.
type Run struct {
	// ID is the unique identifier of the run.
	ID string `json:"id"`

	// Status is the overall run status.
	Status RunStatus `json:"status"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run reached Complete or Aborted.
	CompletedAt time.Time `json:"completed_at,omitempty"`

	// Total is the number of numbered stages.
	Total int `json:"total"`

	// Results holds one entry per stage, in execution order.
	Results []*StageResult `json:"results"`

	// Err is the error that aborted the run.
	Err error `json:"-"`
}

// Result returns the result of the named stage, or nil.
func (r *Run) Result(name string) *StageResult {
	for _, res := range r.Results {
		if res.Name == name {
			return res
		}
	}
	return nil
}

// Succeeded reports whether the named stage completed successfully.
func (r *Run) Succeeded(name string) bool {
	res := r.Result(name)
	return res != nil && res.Status == StageStatusSucceeded
}

// Failed returns the failed stage result, or nil.
func (r *Run) Failed() *StageResult {
	for _, res := range r.Results {
		if res.Status == StageStatusFailed {
			return res
		}
	}
	return nil
}

// Observer is notified as a run progresses. Observers must not fail the
// run; errors are theirs to log.
type Observer interface {
	RunStarted(ctx context.Context, run *Run)
	StageStarted(ctx context.Context, run *Run, result *StageResult)
	StageFinished(ctx context.Context, run *Run, result *StageResult)
	RunFinished(ctx context.Context, run *Run)
}
