package engine

import (
	"encoding/json"
	"fmt"
)

// StageStatus represents the status of a single stage within a run.
type StageStatus string

const (
	// StageStatusPending indicates the stage has not started yet.
	StageStatusPending StageStatus = "pending"

	// StageStatusRunning indicates the stage is currently executing.
	StageStatusRunning StageStatus = "running"

	// StageStatusSucceeded indicates the stage completed successfully.
	StageStatusSucceeded StageStatus = "succeeded"

	// StageStatusFailed indicates the stage failed and aborted the run.
	StageStatusFailed StageStatus = "failed"

	// StageStatusSkipped indicates the stage never ran because an earlier
	// stage failed.
	StageStatusSkipped StageStatus = "skipped"
)

// Validate checks if the stage status is valid.
func (s StageStatus) Validate() error {
	switch s {
	case StageStatusPending, StageStatusRunning, StageStatusSucceeded,
		StageStatusFailed, StageStatusSkipped:
		return nil
	default:
		return fmt.Errorf("invalid stage status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s StageStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *StageStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = StageStatus(str)
	return s.Validate()
}

// RunStatus represents the overall status of an orchestrator run.
type RunStatus string

const (
	// RunStatusPending indicates the run has been created but not started.
	RunStatusPending RunStatus = "pending"

	// RunStatusRunning indicates stages are executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusComplete indicates every stage succeeded.
	RunStatusComplete RunStatus = "complete"

	// RunStatusAborted indicates a stage failed and the run stopped there.
	RunStatusAborted RunStatus = "aborted"
)

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusComplete, RunStatusAborted:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}
