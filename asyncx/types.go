package asyncx

import (
	"errors"
	"time"
)

// Status represents the lifecycle state of a task record.
// Valid values: Queued, Active, Finished. Finished is terminal.
type Status string

const (
	StatusQueued   Status = "Queued"
	StatusActive   Status = "Active"
	StatusFinished Status = "Finished"
)

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool { return s == StatusFinished }

// State is the result axis of a task record, independent of Status.
type State string

const (
	StateOk    State = "Ok"
	StateError State = "Error"
)

var (
	// ErrTaskNotFound is returned when no task record matches an id.
	ErrTaskNotFound = errors.New("asyncx: task not found")
	// ErrTaskFinished is returned when mutating a task that already reached Finished.
	ErrTaskFinished = errors.New("asyncx: task already finished")
	// ErrNoHandler is passed to callbacks of messages no handler accepts.
	ErrNoHandler = errors.New("asyncx: no handler registered")
)

// TaskRecord is the persisted representation of one orchestration run.
// Callers poll it to observe progress and the final outcome.
type TaskRecord struct {
	ID              string
	Name            string
	Status          Status
	State           State
	Message         string
	PercentComplete float64 // meaningful while Active on batch runs
	ResultJSON      *string // set on success only
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       *time.Time
	FinishedAt      *time.Time
}
