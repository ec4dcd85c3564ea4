package report

import (
	"fmt"

	"github.com/mohans/reportq/asyncx"
)

// TaskNotFoundError is returned when a run references a missing task record.
type TaskNotFoundError struct {
	TaskID string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("unable to generate report: task with id [%s] is not found", e.TaskID)
}

func (e *TaskNotFoundError) Unwrap() error { return asyncx.ErrTaskNotFound }

// TaskAlreadyProcessedError is returned when a run is delivered again for a
// task record that already reached Finished.
type TaskAlreadyProcessedError struct {
	TaskID string
	Status asyncx.Status
}

func (e *TaskAlreadyProcessedError) Error() string {
	return fmt.Sprintf("task %s already processed with status %s", e.TaskID, e.Status)
}

func (e *TaskAlreadyProcessedError) Unwrap() error { return asyncx.ErrTaskFinished }

// GenerationError marks a failure of the Generator. Its message is the
// generator's own, so task records show the original text.
type GenerationError struct {
	Report string
	Err    error
}

func (e *GenerationError) Error() string { return e.Err.Error() }

func (e *GenerationError) Unwrap() error { return e.Err }

// SubmissionError is returned when recording or submitting a run fails.
type SubmissionError struct {
	Op  string
	Err error
}

func (e *SubmissionError) Error() string { return fmt.Sprintf("submit report: %s: %v", e.Op, e.Err) }

func (e *SubmissionError) Unwrap() error { return e.Err }
