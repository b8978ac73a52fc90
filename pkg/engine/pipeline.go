package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Pipeline executes a fixed, linear chain of stages. The first failure
// aborts the run; later stages are marked skipped and nothing is rolled back.
type Pipeline struct {
	stages    []Stage
	final     Stage
	observers []Observer
	tracer    trace.Tracer
	logger    zerolog.Logger
	now       func() time.Time
	runID     string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithFinal sets a trailing stage that runs only when every numbered stage
// succeeded. It is not counted in progress labels.
func WithFinal(stage Stage) Option {
	return func(p *Pipeline) { p.final = stage }
}

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		if o != nil {
			p.observers = append(p.observers, o)
		}
	}
}

// WithTracer sets the tracer used to open one span per stage.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) {
		if t != nil {
			p.tracer = t
		}
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.logger = l.With().Str("component", "pipeline").Logger() }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithRunID sets the run ID instead of generating one, so callers can tag
// logs with it before the run starts.
func WithRunID(id string) Option {
	return func(p *Pipeline) { p.runID = id }
}

// NewPipeline creates a pipeline over the given stages, in order.
func NewPipeline(stages []Stage, opts ...Option) *Pipeline {
	p := &Pipeline{
		stages: stages,
		tracer: noop.NewTracerProvider().Tracer("deployer"),
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Stages returns the numbered stages followed by the final stage, if any.
func (p *Pipeline) Stages() []Stage {
	all := append([]Stage(nil), p.stages...)
	if p.final != nil {
		all = append(all, p.final)
	}
	return all
}

// Execute runs every stage in order. It returns the run record together with
// the error of the failed stage, if any.
func (p *Pipeline) Execute(ctx context.Context) (*Run, error) {
	run := p.newRun()

	ctx, span := p.tracer.Start(ctx, "deployer.run", trace.WithAttributes(
		attribute.String("run.id", run.ID),
		attribute.Int("run.stages", run.Total),
	))
	defer span.End()

	run.Status = RunStatusRunning
	for _, o := range p.observers {
		o.RunStarted(ctx, run)
	}

	all := p.Stages()
	for i, stage := range all {
		if err := p.runStage(ctx, run, stage, run.Results[i]); err != nil {
			for _, rest := range run.Results[i+1:] {
				rest.Status = StageStatusSkipped
			}
			run.Err = err
			p.finish(ctx, run, RunStatusAborted)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return run, err
		}
	}

	p.finish(ctx, run, RunStatusComplete)
	span.SetStatus(codes.Ok, "")
	return run, nil
}

func (p *Pipeline) newRun() *Run {
	id := p.runID
	if id == "" {
		id = uuid.New().String()
	}
	run := &Run{
		ID:        id,
		Status:    RunStatusPending,
		StartedAt: p.now(),
		Total:     len(p.stages),
	}
	for i, stage := range p.Stages() {
		run.Results = append(run.Results, &StageResult{
			Index:    i + 1,
			Name:     stage.Name(),
			Title:    stage.Title(),
			Numbered: i < len(p.stages),
			Status:   StageStatusPending,
		})
	}
	return run
}

func (p *Pipeline) runStage(ctx context.Context, run *Run, stage Stage, result *StageResult) error {
	ctx, span := p.tracer.Start(ctx, "deployer.stage."+stage.Name(), trace.WithAttributes(
		attribute.Int("stage.index", result.Index),
	))
	defer span.End()

	result.Status = StageStatusRunning
	result.StartedAt = p.now()
	for _, o := range p.observers {
		o.StageStarted(ctx, run, result)
	}

	p.logger.Debug().Str("stage", stage.Name()).Int("index", result.Index).Msg("stage started")

	outcome, err := stage.Run(ctx, run)
	result.CompletedAt = p.now()

	if err != nil {
		var se *StageError
		if errors.As(err, &se) && se.Stage == "" {
			se.Stage = stage.Name()
		}
		result.Status = StageStatusFailed
		result.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Debug().Err(err).Str("stage", stage.Name()).Msg("stage failed")
	} else {
		result.Status = StageStatusSucceeded
		if outcome != nil {
			result.Changed = outcome.Changed
			result.Summary = outcome.Summary
			result.Warnings = outcome.Warnings
		}
		span.SetAttributes(attribute.Bool("stage.changed", result.Changed))
		span.SetStatus(codes.Ok, "")
		p.logger.Debug().Str("stage", stage.Name()).Bool("changed", result.Changed).
			Dur("duration", result.Duration()).Msg("stage succeeded")
	}

	for _, o := range p.observers {
		o.StageFinished(ctx, run, result)
	}
	return err
}

func (p *Pipeline) finish(ctx context.Context, run *Run, status RunStatus) {
	run.Status = status
	run.CompletedAt = p.now()
	for _, o := range p.observers {
		o.RunFinished(ctx, run)
	}
}
