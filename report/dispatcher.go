package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mohans/reportq/asyncx"
	"github.com/mohans/reportq/audit"
)

const (
	MethodGenerateTable  = "generate_table"
	MethodGenerateTables = "generate_tables"

	EventGenerateTable  = "generate_table"
	EventGenerateTables = "generate_tables"

	// CallbackTarget and CallbackFinalize name the task finalization callback
	// attached to single-report messages.
	CallbackTarget   = "Task"
	CallbackFinalize = "finalize"

	MsgQueued = "Task has been queued"
)

const (
	defaultQueueName = "generic"
	defaultRole      = "reporting"
	defaultTimeout   = 10 * time.Minute
)

// tableArgs is the queue payload of a single-report run. Report is set only
// when the report is not persisted; otherwise the envelope's InstanceID
// carries its id.
type tableArgs struct {
	TaskID  string  `json:"task_id"`
	Report  *Report `json:"report,omitempty"`
	Options Options `json:"options"`
}

// tablesArgs is the queue payload of a batch run.
type tablesArgs struct {
	TaskID  string   `json:"task_id"`
	Reports []Report `json:"reports"`
	Options Options  `json:"options"`
}

// Dispatcher records runs and routes them to the queue or the Executor.
type Dispatcher struct {
	tasks   asyncx.Store
	queue   Queue
	audit   audit.Sink
	policy  Policy
	exec    *Executor
	logger  *slog.Logger
	qname   string
	role    string
	timeout time.Duration
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

func WithDispatchLogger(l *slog.Logger) DispatcherOption { return func(d *Dispatcher) { d.logger = l } }
func WithQueueName(name string) DispatcherOption         { return func(d *Dispatcher) { d.qname = name } }
func WithRole(role string) DispatcherOption              { return func(d *Dispatcher) { d.role = role } }

// WithDefaultTimeout sets the queue timeout of reports without their own.
func WithDefaultTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.timeout = t }
}

func NewDispatcher(tasks asyncx.Store, queue Queue, sink audit.Sink, policy Policy, exec *Executor, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		tasks:   tasks,
		queue:   queue,
		audit:   sink,
		policy:  policy,
		exec:    exec,
		logger:  slog.Default(),
		qname:   defaultQueueName,
		role:    defaultRole,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) timeoutFor(r Report) time.Duration {
	if r.QueueTimeout > 0 {
		return r.QueueTimeout
	}
	return d.timeout
}

// SubmitOne records a run of r and queues it, or runs it inline when the
// policy asks for synchronous execution. The task id is returned whenever
// the record was created; in sync mode the run's error is returned with it.
func (d *Dispatcher) SubmitOne(ctx context.Context, r Report, opts Options) (string, error) {
	opts = opts.Clone()
	opts[KeyUserID] = opts.UserID()
	sync := d.policy.Sync()

	task, err := d.tasks.Create(ctx, fmt.Sprintf("Generate Report: '%s'", r.Name), MsgQueued)
	if err != nil {
		return "", &SubmissionError{Op: "create task", Err: err}
	}
	logger := d.logger.With("task_id", task.ID, "report", r.Name, "mode", modeLabel(sync))

	if !sync {
		ref := refFor(r)
		msg := asyncx.Message{
			Queue:       d.qname,
			Role:        d.role,
			TargetClass: r.TargetClass(),
			InstanceID:  ref.ID,
			Method:      MethodGenerateTable,
			Args:        tableArgs{TaskID: task.ID, Report: ref.Report, Options: opts},
			Priority:    asyncx.PriorityHigh,
			Timeout:     d.timeoutFor(r),
			Callback: &asyncx.Callback{
				Target:     CallbackTarget,
				InstanceID: task.ID,
				Method:     CallbackFinalize,
				Args:       []string{string(asyncx.StatusFinished)},
			},
		}
		if _, err := d.queue.Enqueue(ctx, msg); err != nil {
			return task.ID, &SubmissionError{Op: "enqueue", Err: err}
		}
	}

	if err := d.audit.Success(ctx, audit.Event{
		Name:        EventGenerateTable,
		TargetClass: r.TargetClass(),
		TargetID:    r.ID,
		UserID:      opts.UserID(),
		Message:     task.Name + ", successfully initiated",
	}); err != nil {
		return task.ID, &SubmissionError{Op: "audit", Err: err}
	}
	dispatchTotal.WithLabelValues(kindSingle, modeLabel(sync)).Inc()
	logger.Info("report run submitted")

	if sync {
		return task.ID, d.exec.RunOne(ctx, task.ID, r, opts)
	}
	return task.ID, nil
}

// SubmitBatch records one run covering all reports. In async mode the
// whole batch is a single queue message.
func (d *Dispatcher) SubmitBatch(ctx context.Context, reports []Report, opts Options) (string, error) {
	opts = opts.Clone()
	opts[KeyUserID] = opts.UserID()
	sync := d.policy.Sync()
	targetClass := DefaultClass
	if len(reports) > 0 {
		targetClass = reports[0].TargetClass()
	}

	task, err := d.tasks.Create(ctx, "Generate Reports: "+reportNames(reports), MsgQueued)
	if err != nil {
		return "", &SubmissionError{Op: "create task", Err: err}
	}
	logger := d.logger.With("task_id", task.ID, "reports", len(reports), "mode", modeLabel(sync))

	if !sync {
		var timeout time.Duration
		for _, r := range reports {
			timeout = max(timeout, d.timeoutFor(r))
		}
		msg := asyncx.Message{
			Queue:       d.qname,
			Role:        d.role,
			TargetClass: targetClass,
			Method:      MethodGenerateTables,
			Args:        tablesArgs{TaskID: task.ID, Reports: reports, Options: opts},
			Priority:    asyncx.PriorityHigh,
			Timeout:     max(timeout, d.timeout),
		}
		if _, err := d.queue.Enqueue(ctx, msg); err != nil {
			return task.ID, &SubmissionError{Op: "enqueue", Err: err}
		}
	}

	if err := d.audit.Success(ctx, audit.Event{
		Name:        EventGenerateTables,
		TargetClass: targetClass,
		UserID:      opts.UserID(),
		Message:     task.Name + ", successfully initiated",
	}); err != nil {
		return task.ID, &SubmissionError{Op: "audit", Err: err}
	}
	dispatchTotal.WithLabelValues(kindBatch, modeLabel(sync)).Inc()
	logger.Info("report batch submitted")

	if sync {
		return task.ID, d.exec.RunBatch(ctx, task.ID, reports, opts)
	}
	return task.ID, nil
}
