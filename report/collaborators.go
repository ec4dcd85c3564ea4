package report

import (
	"context"

	"github.com/hibiken/asynq"

	"github.com/mohans/reportq/asyncx"
)

// Generator produces the table of one report.
type Generator interface {
	GenerateTable(ctx context.Context, r Report, opts Options) (*Table, error)
}

// ResultStore persists generation results. Purge and write for the same
// identity are expected to be serialized by the store.
type ResultStore interface {
	BuildCreateResults(ctx context.Context, r Report, table *Table, opts Options, taskID string) (ResultRef, error)
	PurgeForIdentity(ctx context.Context, identity string) error
}

// Catalog loads persisted report definitions.
type Catalog interface {
	Get(ctx context.Context, id string) (*Report, error)
}

// Queue accepts deferred invocations. *asyncx.Client implements it.
type Queue interface {
	Enqueue(ctx context.Context, msg asyncx.Message) (*asynq.TaskInfo, error)
}

// Policy decides between queued and inline execution. It is consulted on
// every dispatch, so implementations may change their answer at runtime.
type Policy interface {
	Sync() bool
}

// StaticPolicy is a fixed Policy.
type StaticPolicy bool

func (p StaticPolicy) Sync() bool { return bool(p) }

// PolicyFunc adapts a function to Policy.
type PolicyFunc func() bool

func (f PolicyFunc) Sync() bool { return f() }
