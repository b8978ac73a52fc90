package stores

import (
	"errors"
	"time"

	"github.com/openfroyo/deployer/pkg/engine"
)

// RunRecord is a persisted run.
type RunRecord struct {
	ID           string           `json:"id"`
	Status       engine.RunStatus `json:"status"`
	StartedAt    time.Time        `json:"started_at"`
	CompletedAt  time.Time        `json:"completed_at,omitempty"`
	FailedStage  string           `json:"failed_stage,omitempty"`
	ErrorKind    string           `json:"error_kind,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	ExitCode     int              `json:"exit_code"`
	Stages       []StageRecord    `json:"stages,omitempty"`
}

// StageRecord is a persisted stage result.
type StageRecord struct {
	Index       int                `json:"index"`
	Name        string             `json:"name"`
	Title       string             `json:"title"`
	Status      engine.StageStatus `json:"status"`
	Changed     bool               `json:"changed"`
	Summary     string             `json:"summary,omitempty"`
	Warnings    []string           `json:"warnings,omitempty"`
	StartedAt   time.Time          `json:"started_at,omitempty"`
	CompletedAt time.Time          `json:"completed_at,omitempty"`
}

func recordFromRun(run *engine.Run) *RunRecord {
	rec := &RunRecord{
		ID:          run.ID,
		Status:      run.Status,
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
		ExitCode:    engine.ExitCode(run.Err),
	}

	if failed := run.Failed(); failed != nil {
		rec.FailedStage = failed.Name
	}
	if run.Err != nil {
		rec.ErrorKind = string(engine.KindOf(run.Err))
		rec.ErrorMessage = run.Err.Error()
		var se *engine.StageError
		if errors.As(run.Err, &se) {
			rec.ErrorMessage = se.Message
		}
	}

	for _, res := range run.Results {
		rec.Stages = append(rec.Stages, StageRecord{
			Index:       res.Index,
			Name:        res.Name,
			Title:       res.Title,
			Status:      res.Status,
			Changed:     res.Changed,
			Summary:     res.Summary,
			Warnings:    res.Warnings,
			StartedAt:   res.StartedAt,
			CompletedAt: res.CompletedAt,
		})
	}
	return rec
}
