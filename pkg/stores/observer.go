package stores

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/openfroyo/deployer/pkg/engine"
)

// Recorder persists finished runs.
type Recorder interface {
	RecordRun(ctx context.Context, run *engine.Run) error
}

// JournalObserver records each run when it finishes.
type JournalObserver struct {
	recorder Recorder
	gate     string
	logger   zerolog.Logger
}

// NewJournalObserver creates an observer. When gate is non-empty, runs in
// which the named stage did not succeed are not recorded.
func NewJournalObserver(r Recorder, gate string, logger zerolog.Logger) *JournalObserver {
	return &JournalObserver{
		recorder: r,
		gate:     gate,
		logger:   logger.With().Str("component", "journal").Logger(),
	}
}

func (o *JournalObserver) RunStarted(context.Context, *engine.Run) {}

func (o *JournalObserver) StageStarted(context.Context, *engine.Run, *engine.StageResult) {}

func (o *JournalObserver) StageFinished(context.Context, *engine.Run, *engine.StageResult) {}

// RunFinished records the run. Interrupted runs are still recorded.
func (o *JournalObserver) RunFinished(ctx context.Context, run *engine.Run) {
	if o.gate != "" && !run.Succeeded(o.gate) {
		o.logger.Debug().Str("gate", o.gate).Msg("gate stage did not succeed, run not recorded")
		return
	}
	if err := o.recorder.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		o.logger.Warn().Err(err).Str("run_id", run.ID).Msg("failed to record run")
		return
	}
	o.logger.Debug().Str("run_id", run.ID).Str("status", string(run.Status)).Msg("run recorded")
}
