package report

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/mohans/reportq/asyncx"
	"github.com/mohans/reportq/audit"
	"github.com/mohans/reportq/internal/testdb"
)

// ── fakes ────────────────────────────────────────────────────────────────────

type fakeQueue struct {
	mu   sync.Mutex
	msgs []asyncx.Message
	err  error
}

func (q *fakeQueue) Enqueue(_ context.Context, msg asyncx.Message) (*asynq.TaskInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return nil, q.err
	}
	q.msgs = append(q.msgs, msg)
	return &asynq.TaskInfo{ID: fmt.Sprintf("q-%d", len(q.msgs)), Queue: asyncx.QueueName(msg.Queue, msg.Priority)}, nil
}

func (q *fakeQueue) messages() []asyncx.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]asyncx.Message(nil), q.msgs...)
}

type fakeGenerator struct {
	mu    sync.Mutex
	fail  map[string]error // report name -> error
	calls []string
}

func (g *fakeGenerator) GenerateTable(_ context.Context, r Report, _ Options) (*Table, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, r.Name)
	if err := g.fail[r.Name]; err != nil {
		return nil, err
	}
	return &Table{Columns: []string{"name"}, Rows: [][]any{{r.Name}}}, nil
}

type buildCall struct {
	report string
	opts   Options
	taskID string
}

type fakeResults struct {
	mu     sync.Mutex
	events []string // "purge:<identity>" and "build:<report>" in call order
	purged []string
	builds []buildCall
}

func (f *fakeResults) PurgeForIdentity(_ context.Context, identity string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "purge:"+identity)
	f.purged = append(f.purged, identity)
	return nil
}

func (f *fakeResults) BuildCreateResults(_ context.Context, r Report, table *Table, opts Options, taskID string) (ResultRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "build:"+r.Name)
	f.builds = append(f.builds, buildCall{report: r.Name, opts: opts.Clone(), taskID: taskID})
	return ResultRef{
		ID:         fmt.Sprintf("res-%d", len(f.builds)),
		ReportID:   r.ID,
		ReportName: r.Name,
		TaskID:     taskID,
		Identity:   opts.UserID(),
		Source:     opts.String(KeyReportSource),
		Rows:       len(table.Rows),
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// progressStore records UpdateProgress calls on top of a real store.
type progressStore struct {
	asyncx.Store
	mu       sync.Mutex
	percents []float64
	messages []string
}

func (s *progressStore) UpdateProgress(ctx context.Context, taskID, message string, percent float64) error {
	s.mu.Lock()
	s.percents = append(s.percents, percent)
	s.messages = append(s.messages, message)
	s.mu.Unlock()
	return s.Store.UpdateProgress(ctx, taskID, message, percent)
}

// failingCreateStore refuses to create task records.
type failingCreateStore struct {
	asyncx.Store
}

func (failingCreateStore) Create(context.Context, string, string) (*asyncx.TaskRecord, error) {
	return nil, errors.New("db down")
}

// failingSetErrorStore cannot record failure messages and counts the
// MarkFinished calls that follow.
type failingSetErrorStore struct {
	asyncx.Store
	mu          sync.Mutex
	finishCalls int
}

func (s *failingSetErrorStore) SetError(context.Context, string, string) error {
	return errors.New("database is locked")
}

func (s *failingSetErrorStore) MarkFinished(ctx context.Context, taskID string) error {
	s.mu.Lock()
	s.finishCalls++
	s.mu.Unlock()
	return s.Store.MarkFinished(ctx, taskID)
}

// ── harness ──────────────────────────────────────────────────────────────────

type harness struct {
	tasks   *asyncx.SQLStore
	store   asyncx.Store
	audit   *audit.SQLSink
	queue   *fakeQueue
	gen     *fakeGenerator
	results *fakeResults
	catalog *SQLCatalog
	exec    *Executor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testdb.Open(t)
	h := &harness{
		tasks:   asyncx.NewSQLStore(db, testdb.DriverName),
		audit:   audit.NewSQLSink(db, testdb.DriverName, nil),
		queue:   &fakeQueue{},
		gen:     &fakeGenerator{fail: map[string]error{}},
		results: &fakeResults{},
		catalog: NewSQLCatalog(db, testdb.DriverName),
	}
	h.store = h.tasks
	h.exec = NewExecutor(h.store, h.audit, h.gen, h.results, nil)
	return h
}

// withStore swaps the task store seen by the executor and dispatchers.
func (h *harness) withStore(s asyncx.Store) {
	h.store = s
	h.exec = NewExecutor(s, h.audit, h.gen, h.results, nil)
}

func (h *harness) dispatcher(policy Policy, opts ...DispatcherOption) *Dispatcher {
	return NewDispatcher(h.store, h.queue, h.audit, policy, h.exec, opts...)
}

func (h *harness) task(t *testing.T, id string) *asyncx.TaskRecord {
	t.Helper()
	rec, err := h.tasks.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID(%s): %v", id, err)
	}
	return rec
}

func (h *harness) auditEvents(t *testing.T, class string) []audit.Event {
	t.Helper()
	events, err := h.audit.List(context.Background(), class)
	if err != nil {
		t.Fatalf("list audit events: %v", err)
	}
	return events
}
