package report

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohans/reportq/asyncx"
)

func TestPercentComplete(t *testing.T) {
	tests := []struct {
		total int
		want  []float64
	}{
		{1, []float64{100}},
		{2, []float64{200, 100}},
		{3, []float64{300, 150, 100}},
		{4, []float64{400, 200, 133.33333333333334, 100}},
		{5, []float64{500, 250, 166.66666666666669, 125, 100}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("total=%d", tt.total), func(t *testing.T) {
			for i, want := range tt.want {
				assert.InDelta(t, want, PercentComplete(tt.total, i), 1e-9, "index %d", i)
			}
		})
	}
	assert.Equal(t, 400.0, PercentComplete(4, 0))
	assert.Equal(t, 100.0, PercentComplete(4, 3))
}

func newQueuedTask(t *testing.T, h *harness, name string) string {
	t.Helper()
	rec, err := h.tasks.Create(context.Background(), name, MsgQueued)
	require.NoError(t, err)
	return rec.ID
}

func TestRunOne_TaskNotFound(t *testing.T) {
	h := newHarness(t)

	err := h.exec.RunOne(context.Background(), "missing", Report{Name: "vms"}, nil)
	var nf *TaskNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "missing", nf.TaskID)
	assert.ErrorIs(t, err, asyncx.ErrTaskNotFound)
	assert.Empty(t, h.gen.calls)
	assert.Empty(t, h.auditEvents(t, DefaultClass))
}

func TestRunBatch_TaskNotFound(t *testing.T) {
	h := newHarness(t)

	err := h.exec.RunBatch(context.Background(), "missing", []Report{{Name: "a"}}, nil)
	var nf *TaskNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Empty(t, h.gen.calls)
}

func TestRunOne_AlreadyFinishedIsUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	taskID := newQueuedTask(t, h, "Generate Report: 'vms'")
	require.NoError(t, h.tasks.UpdateStatus(ctx, taskID, asyncx.StatusFinished, asyncx.StateError, "boom"))

	err := h.exec.RunOne(ctx, taskID, Report{Name: "vms"}, nil)
	var done *TaskAlreadyProcessedError
	require.ErrorAs(t, err, &done)
	assert.Empty(t, h.gen.calls)

	rec := h.task(t, taskID)
	assert.Equal(t, "boom", rec.Message)
	assert.Equal(t, asyncx.StateError, rec.State)
	assert.Empty(t, h.auditEvents(t, DefaultClass))
}

func TestRunOne_AdhocPurgesBeforeWrite(t *testing.T) {
	h := newHarness(t)
	taskID := newQueuedTask(t, h, "Generate Report: 'vms'")

	err := h.exec.RunOne(context.Background(), taskID, Report{ID: "9", Name: "vms"}, Options{KeyUserID: "alice"})
	require.NoError(t, err)

	assert.Equal(t, []string{"purge:alice||adhoc", "build:vms"}, h.results.events)
	require.Len(t, h.results.builds, 1)
	b := h.results.builds[0]
	assert.Equal(t, taskID, b.taskID)
	assert.Equal(t, "alice||adhoc", b.opts.UserID())
	assert.Equal(t, ModeAdhoc, b.opts.String(KeyMode))
	assert.Equal(t, ReportSourceUser, b.opts.String(KeyReportSource))
}

func TestRunOne_SessionForcesPurge(t *testing.T) {
	h := newHarness(t)
	taskID := newQueuedTask(t, h, "Generate Report: 'vms'")

	// session ids arrive as JSON numbers from the queue
	opts := Options{KeyUserID: "bob", KeyMode: ModeSchedule, KeySessionID: float64(123)}
	require.NoError(t, h.exec.RunOne(context.Background(), taskID, Report{ID: "9", Name: "vms"}, opts))

	assert.Equal(t, []string{"bob|123|schedule"}, h.results.purged)
	assert.Equal(t, "bob|123|schedule", h.results.builds[0].opts.UserID())
}

func TestRunOne_ScheduledRunDoesNotPurge(t *testing.T) {
	h := newHarness(t)
	taskID := newQueuedTask(t, h, "Generate Report: 'vms'")

	opts := Options{KeyUserID: "bob", KeyMode: ModeSchedule, "extra": "kept"}
	require.NoError(t, h.exec.RunOne(context.Background(), taskID, Report{ID: "9", Name: "vms"}, opts))

	assert.Empty(t, h.results.purged)
	require.Len(t, h.results.builds, 1)
	b := h.results.builds[0]
	assert.Equal(t, "bob", b.opts.UserID())
	assert.Empty(t, b.opts.String(KeyReportSource))
	assert.Equal(t, "kept", b.opts.String("extra"))
	assert.Equal(t, ModeSchedule, opts.String(KeyMode), "caller options are not modified")

	rec := h.task(t, taskID)
	assert.Equal(t, asyncx.StatusFinished, rec.Status)
	assert.Equal(t, asyncx.StateOk, rec.State)
}

func TestRunBatch_ProgressSequence(t *testing.T) {
	h := newHarness(t)
	ps := &progressStore{Store: h.tasks}
	h.withStore(ps)
	taskID := newQueuedTask(t, h, "Generate Reports")
	reports := []Report{{Name: "a"}, {Name: "b"}, {Name: "c"}, {Name: "d"}}

	require.NoError(t, h.exec.RunBatch(context.Background(), taskID, reports, Options{KeyUserID: "alice"}))

	require.Len(t, ps.percents, 4)
	assert.InDeltaSlice(t, []float64{400, 200, 133.33333333333334, 100}, ps.percents, 1e-9)
	assert.Equal(t, "Generation of report [a] complete", ps.messages[0])
	assert.Equal(t, "Generation of report [d] complete", ps.messages[3])
	assert.Empty(t, h.results.events, "batch runs do not persist per-report results")

	rec := h.task(t, taskID)
	assert.Equal(t, asyncx.StatusFinished, rec.Status)
	assert.Equal(t, MsgReportsComplete, rec.Message)
}

func TestRunBatch_FailureStopsAndRecords(t *testing.T) {
	h := newHarness(t)
	ps := &progressStore{Store: h.tasks}
	h.withStore(ps)
	boom := errors.New("disk full")
	h.gen.fail["b"] = boom
	taskID := newQueuedTask(t, h, "Generate Reports")

	err := h.exec.RunBatch(context.Background(), taskID, []Report{{Name: "a"}, {Name: "b"}, {Name: "c"}}, nil)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, "disk full", err.Error())

	assert.Len(t, ps.percents, 1)
	rec := h.task(t, taskID)
	assert.Equal(t, asyncx.StatusFinished, rec.Status)
	assert.Equal(t, asyncx.StateError, rec.State)
	assert.Equal(t, "disk full", rec.Message)
	assert.Nil(t, rec.ResultJSON)

	// terminal: a late status update is rejected
	lateErr := h.tasks.UpdateStatus(context.Background(), taskID, asyncx.StatusActive, asyncx.StateOk, "again")
	assert.ErrorIs(t, lateErr, asyncx.ErrTaskFinished)
}

func TestRunOne_RecordingFailureKeepsOriginalError(t *testing.T) {
	h := newHarness(t)
	fs := &failingSetErrorStore{Store: h.tasks}
	h.withStore(fs)
	genErr := errors.New("query timed out")
	h.gen.fail["vms"] = genErr
	taskID := newQueuedTask(t, h, "Generate Report: 'vms'")

	err := h.exec.RunOne(context.Background(), taskID, Report{ID: "7", Name: "vms"}, Options{KeyUserID: "alice"})
	require.ErrorIs(t, err, genErr)
	var gen *GenerationError
	require.ErrorAs(t, err, &gen)
	assert.Contains(t, err.Error(), "database is locked")
	assert.Equal(t, 1, fs.finishCalls)

	rec := h.task(t, taskID)
	assert.Equal(t, asyncx.StatusFinished, rec.Status)
	assert.Equal(t, MsgGeneratingReport, rec.Message, "the failure message could not be stored")

	events := h.auditEvents(t, DefaultClass)
	require.Len(t, events, 1)
	assert.Equal(t, "query timed out", events[0].Message)
}
