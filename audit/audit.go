// Package audit records append-only success/failure events for every
// orchestration attempt.
package audit

import (
	"context"
	"time"
)

// Outcome of an audited attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Event is one audit row. TargetID is optional.
type Event struct {
	ID          string
	Name        string
	TargetClass string
	TargetID    string
	UserID      string
	Message     string
	Outcome     Outcome
	CreatedAt   time.Time
}

// Sink receives audit events. Outcome and CreatedAt are set by the sink.
type Sink interface {
	Success(ctx context.Context, ev Event) error
	Failure(ctx context.Context, ev Event) error
}
