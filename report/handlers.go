package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/mohans/reportq/asyncx"
)

// Register wires the report methods, and the task finalization callback,
// into p. The methods serve every target class; classes only adds explicit
// routes for them.
func Register(p *asyncx.Processor, exec *Executor, tasks asyncx.Store, catalog Catalog, logger *slog.Logger, classes ...string) {
	if logger == nil {
		logger = slog.Default()
	}
	h := &queueHandlers{exec: exec, tasks: tasks, catalog: catalog, logger: logger}
	p.HandleMethod(MethodGenerateTable, h.generateTable)
	p.HandleMethod(MethodGenerateTables, h.generateTables)
	for _, class := range classes {
		p.Handle(class, MethodGenerateTable, h.generateTable)
		p.Handle(class, MethodGenerateTables, h.generateTables)
	}
	p.RegisterCallback(CallbackTarget, CallbackFinalize, h.finalize)
}

type queueHandlers struct {
	exec    *Executor
	tasks   asyncx.Store
	catalog Catalog
	logger  *slog.Logger
}

func (h *queueHandlers) generateTable(ctx context.Context, env asyncx.Envelope) error {
	var args tableArgs
	if err := json.Unmarshal(env.Args, &args); err != nil {
		return fmt.Errorf("decode %s args: %v: %w", env.Method, err, asynq.SkipRetry)
	}
	r, err := TargetRef{ID: env.InstanceID, Report: args.Report}.Resolve(ctx, h.catalog)
	if err != nil {
		return queueError(err)
	}
	return queueError(h.exec.RunOne(ctx, args.TaskID, *r, args.Options))
}

func (h *queueHandlers) generateTables(ctx context.Context, env asyncx.Envelope) error {
	var args tablesArgs
	if err := json.Unmarshal(env.Args, &args); err != nil {
		return fmt.Errorf("decode %s args: %v: %w", env.Method, err, asynq.SkipRetry)
	}
	return queueError(h.exec.RunBatch(ctx, args.TaskID, args.Reports, args.Options))
}

// finalize forces the callback's task into the terminal state named by its
// first argument when the run failed. Runs that already recorded their
// outcome are left untouched.
func (h *queueHandlers) finalize(ctx context.Context, cb asyncx.Callback, runErr error) error {
	if runErr == nil {
		return nil
	}
	status := asyncx.StatusFinished
	if len(cb.Args) > 0 && cb.Args[0] != "" {
		status = asyncx.Status(cb.Args[0])
	}
	err := h.tasks.UpdateStatus(ctx, cb.InstanceID, status, asyncx.StateError, runErr.Error())
	switch {
	case err == nil:
		h.logger.Warn("task finalized by queue callback", "task_id", cb.InstanceID, "error", runErr)
		return nil
	case errors.Is(err, asyncx.ErrTaskFinished), errors.Is(err, asyncx.ErrTaskNotFound):
		return nil
	}
	return err
}

// queueError stops asynq from retrying runs that can never succeed.
func queueError(err error) error {
	var notFound *TaskNotFoundError
	var processed *TaskAlreadyProcessedError
	if errors.As(err, &notFound) || errors.As(err, &processed) || errors.Is(err, ErrReportNotFound) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}
