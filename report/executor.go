package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mohans/reportq/asyncx"
	"github.com/mohans/reportq/audit"
)

const (
	MsgGeneratingReport  = "Generating report"
	MsgReportComplete    = "Generating report complete"
	MsgGeneratingReports = "Generating reports"
	MsgReportsComplete   = "Generating reports complete"
)

// Executor performs report runs against an existing task record.
type Executor struct {
	tasks   asyncx.Store
	audit   audit.Sink
	gen     Generator
	results ResultStore
	logger  *slog.Logger
}

func NewExecutor(tasks asyncx.Store, sink audit.Sink, gen Generator, results ResultStore, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{tasks: tasks, audit: sink, gen: gen, results: results, logger: logger}
}

// RunOne generates r for task taskID and persists the result.
func (e *Executor) RunOne(ctx context.Context, taskID string, r Report, opts Options) error {
	return e.guard(ctx, run{
		kind:        kindSingle,
		event:       EventGenerateTable,
		taskID:      taskID,
		targetClass: r.TargetClass(),
		targetID:    r.ID,
		userID:      opts.UserID(),
		subject:     r.Name,
	}, func(ctx context.Context) error {
		return e.runOne(ctx, taskID, r, opts)
	})
}

// RunBatch generates reports in order for task taskID. The first failing
// report fails the whole batch.
func (e *Executor) RunBatch(ctx context.Context, taskID string, reports []Report, opts Options) error {
	targetClass := DefaultClass
	if len(reports) > 0 {
		targetClass = reports[0].TargetClass()
	}
	return e.guard(ctx, run{
		kind:        kindBatch,
		event:       EventGenerateTables,
		taskID:      taskID,
		targetClass: targetClass,
		userID:      opts.UserID(),
		subject:     reportNames(reports),
	}, func(ctx context.Context) error {
		return e.runBatch(ctx, taskID, reports, opts)
	})
}

func (e *Executor) runOne(ctx context.Context, taskID string, r Report, opts Options) error {
	if err := e.tasks.UpdateStatus(ctx, taskID, asyncx.StatusActive, asyncx.StateOk, MsgGeneratingReport); err != nil {
		return err
	}
	table, err := e.gen.GenerateTable(ctx, r, opts)
	if err != nil {
		return &GenerationError{Report: r.Name, Err: err}
	}

	opts = opts.Clone()
	mode := opts.Mode()
	opts[KeyMode] = mode
	identity := opts.UserID()
	if mode == ModeAdhoc || opts.SessionID() != "" {
		identity = Identity(opts.UserID(), opts.SessionID(), mode)
		opts[KeyReportSource] = ReportSourceUser
		if err := e.results.PurgeForIdentity(ctx, identity); err != nil {
			return fmt.Errorf("purge results for %s: %w", identity, err)
		}
	}
	opts[KeyUserID] = identity

	ref, err := e.results.BuildCreateResults(ctx, r, table, opts, taskID)
	if err != nil {
		return fmt.Errorf("store result of %s: %w", r.Name, err)
	}
	b, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("encode result ref: %w", err)
	}
	if err := e.tasks.SetResult(ctx, taskID, string(b)); err != nil {
		return err
	}
	return e.tasks.UpdateStatus(ctx, taskID, asyncx.StatusFinished, asyncx.StateOk, MsgReportComplete)
}

func (e *Executor) runBatch(ctx context.Context, taskID string, reports []Report, opts Options) error {
	if err := e.tasks.UpdateStatus(ctx, taskID, asyncx.StatusActive, asyncx.StateOk, MsgGeneratingReports); err != nil {
		return err
	}
	total := len(reports)
	items := make([]BatchItem, 0, total)
	for i, r := range reports {
		table, err := e.gen.GenerateTable(ctx, r, opts)
		if err != nil {
			return &GenerationError{Report: r.Name, Err: err}
		}
		items = append(items, BatchItem{Report: r, Table: table})
		msg := fmt.Sprintf("Generation of report [%s] complete", r.Name)
		if err := e.tasks.UpdateProgress(ctx, taskID, msg, PercentComplete(total, i)); err != nil {
			return err
		}
	}

	b, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode batch results: %w", err)
	}
	if err := e.tasks.SetResult(ctx, taskID, string(b)); err != nil {
		return err
	}
	return e.tasks.UpdateStatus(ctx, taskID, asyncx.StatusFinished, asyncx.StateOk, MsgReportsComplete)
}

// run describes one guarded execution for logging and auditing.
type run struct {
	kind        string
	event       string
	taskID      string
	targetClass string
	targetID    string
	userID      string
	subject     string
}

// guard is the error boundary around every run. A failing run is logged,
// its task gets the failure text with State=Error and is forced Finished,
// an audit failure is appended, and the original error is returned.
// Missing or already finished tasks are reported without touching anything.
func (e *Executor) guard(ctx context.Context, rn run, fn func(context.Context) error) error {
	task, err := e.tasks.GetByID(ctx, rn.taskID)
	switch {
	case errors.Is(err, asyncx.ErrTaskNotFound):
		return &TaskNotFoundError{TaskID: rn.taskID}
	case err != nil:
		return fmt.Errorf("load task %s: %w", rn.taskID, err)
	case task.Status.IsTerminal():
		return &TaskAlreadyProcessedError{TaskID: rn.taskID, Status: task.Status}
	}

	logger := e.logger.With("task_id", rn.taskID, "kind", rn.kind, "target_class", rn.targetClass, "report", rn.subject)
	start := time.Now()
	err = fn(ctx)
	runDuration.WithLabelValues(rn.kind).Observe(time.Since(start).Seconds())
	if err == nil {
		runsTotal.WithLabelValues(rn.kind, "ok").Inc()
		logger.Info("report run finished", "duration", time.Since(start))
		return nil
	}
	runsTotal.WithLabelValues(rn.kind, "error").Inc()
	logger.Error("report run failed", "userid", rn.userID, "error", err)

	// Recording must happen even if the run's context expired.
	rctx := context.WithoutCancel(ctx)
	msg := err.Error()
	var recordErrs []error
	if serr := e.tasks.SetError(rctx, rn.taskID, msg); serr != nil {
		recordErrs = append(recordErrs, serr)
	}
	if aerr := e.audit.Failure(rctx, audit.Event{
		Name:        rn.event,
		TargetClass: rn.targetClass,
		TargetID:    rn.targetID,
		UserID:      rn.userID,
		Message:     msg,
	}); aerr != nil {
		recordErrs = append(recordErrs, aerr)
	}
	if merr := e.tasks.MarkFinished(rctx, rn.taskID); merr != nil {
		recordErrs = append(recordErrs, merr)
	}
	if len(recordErrs) > 0 {
		logger.Error("recording run failure", "error", errors.Join(recordErrs...))
		return errors.Join(append([]error{err}, recordErrs...)...)
	}
	return err
}
