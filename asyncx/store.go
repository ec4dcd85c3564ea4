package asyncx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mohans/reportq/internal/sqlutil"
)

// Store abstracts persistence for task records.
// Implementations must be safe for concurrent use and must reject every
// mutation of a Finished record with ErrTaskFinished.
type Store interface {
	Create(ctx context.Context, name, message string) (*TaskRecord, error)
	GetByID(ctx context.Context, taskID string) (*TaskRecord, error)
	UpdateStatus(ctx context.Context, taskID string, status Status, state State, message string) error
	UpdateProgress(ctx context.Context, taskID string, message string, percent float64) error
	SetResult(ctx context.Context, taskID string, resultJSON string) error
	// SetError records a failure message with State=Error and leaves Status alone.
	SetError(ctx context.Context, taskID string, message string) error
	// MarkFinished forces the record into its terminal state.
	MarkFinished(ctx context.Context, taskID string) error
}

// SQLStore is the database/sql implementation of Store (SQLite or Postgres).
// The schema lives in the migrations package.
type SQLStore struct {
	db     *sql.DB
	dollar bool
}

// NewSQLStore wraps db. driverName selects the placeholder style.
func NewSQLStore(db *sql.DB, driverName string) *SQLStore {
	return &SQLStore{db: db, dollar: sqlutil.Dollar(driverName)}
}

func (s *SQLStore) q(query string) string { return sqlutil.Rebind(s.dollar, query) }

func (s *SQLStore) Create(ctx context.Context, name, message string) (*TaskRecord, error) {
	if s.db == nil {
		return nil, errors.New("nil db")
	}
	now := time.Now().UTC()
	rec := &TaskRecord{
		ID:        uuid.NewString(),
		Name:      name,
		Status:    StatusQueued,
		State:     StateOk,
		Message:   message,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO tasks (id, name, status, state, message, pct_complete, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)`),
		rec.ID, rec.Name, string(rec.Status), string(rec.State), rec.Message, now, now)
	if err != nil {
		return nil, fmt.Errorf("create task %q: %w", name, err)
	}
	return rec, nil
}

func (s *SQLStore) UpdateStatus(ctx context.Context, taskID string, status Status, state State, message string) error {
	now := time.Now().UTC()
	var query string
	switch status {
	case StatusActive:
		query = `UPDATE tasks SET status = ?, state = ?, message = ?, updated_at = ?, started_at = COALESCE(started_at, ?)
			WHERE id = ? AND status <> ?`
	case StatusFinished:
		query = `UPDATE tasks SET status = ?, state = ?, message = ?, updated_at = ?, finished_at = ?
			WHERE id = ? AND status <> ?`
	default:
		return s.guarded(ctx, taskID, "update status",
			`UPDATE tasks SET status = ?, state = ?, message = ?, updated_at = ? WHERE id = ? AND status <> ?`,
			string(status), string(state), message, now, taskID, string(StatusFinished))
	}
	return s.guarded(ctx, taskID, "update status", query,
		string(status), string(state), message, now, now, taskID, string(StatusFinished))
}

func (s *SQLStore) UpdateProgress(ctx context.Context, taskID string, message string, percent float64) error {
	return s.guarded(ctx, taskID, "update progress",
		`UPDATE tasks SET message = ?, pct_complete = ?, updated_at = ? WHERE id = ? AND status <> ?`,
		message, percent, time.Now().UTC(), taskID, string(StatusFinished))
}

func (s *SQLStore) SetResult(ctx context.Context, taskID string, resultJSON string) error {
	return s.guarded(ctx, taskID, "set result",
		`UPDATE tasks SET result_json = ?, updated_at = ? WHERE id = ? AND status <> ?`,
		resultJSON, time.Now().UTC(), taskID, string(StatusFinished))
}

func (s *SQLStore) SetError(ctx context.Context, taskID string, message string) error {
	return s.guarded(ctx, taskID, "set error",
		`UPDATE tasks SET state = ?, message = ?, updated_at = ? WHERE id = ? AND status <> ?`,
		string(StateError), message, time.Now().UTC(), taskID, string(StatusFinished))
}

func (s *SQLStore) MarkFinished(ctx context.Context, taskID string) error {
	now := time.Now().UTC()
	return s.guarded(ctx, taskID, "mark finished",
		`UPDATE tasks SET status = ?, updated_at = ?, finished_at = ? WHERE id = ? AND status <> ?`,
		string(StatusFinished), now, now, taskID, string(StatusFinished))
}

// guarded runs an UPDATE that excludes Finished rows and turns a zero row
// count into ErrTaskNotFound or ErrTaskFinished.
func (s *SQLStore) guarded(ctx context.Context, taskID, op, query string, args ...any) error {
	if s.db == nil {
		return errors.New("nil db")
	}
	res, err := s.db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return fmt.Errorf("%s for task %s: %w", op, taskID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s for task %s: %w", op, taskID, err)
	}
	if n > 0 {
		return nil
	}
	var status string
	err = s.db.QueryRowContext(ctx, s.q(`SELECT status FROM tasks WHERE id = ?`), taskID).Scan(&status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s for task %s: %w", op, taskID, ErrTaskNotFound)
	case err != nil:
		return fmt.Errorf("%s for task %s: %w", op, taskID, err)
	}
	return fmt.Errorf("%s for task %s: %w", op, taskID, ErrTaskFinished)
}

func (s *SQLStore) GetByID(ctx context.Context, taskID string) (*TaskRecord, error) {
	if s.db == nil {
		return nil, errors.New("nil db")
	}
	row := s.db.QueryRowContext(ctx, s.q(`SELECT id, name, status, state, message, pct_complete, result_json,
		created_at, updated_at, started_at, finished_at FROM tasks WHERE id = ?`), taskID)
	rec := TaskRecord{}
	var status, state string
	var resultJSON sql.NullString
	var startedAt, finishedAt sql.NullTime
	err := row.Scan(&rec.ID, &rec.Name, &status, &state, &rec.Message, &rec.PercentComplete, &resultJSON,
		&rec.CreatedAt, &rec.UpdatedAt, &startedAt, &finishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get task %s: %w", taskID, ErrTaskNotFound)
		}
		return nil, fmt.Errorf("get task %s: %w", taskID, err)
	}
	rec.Status = Status(status)
	rec.State = State(state)
	if resultJSON.Valid {
		v := resultJSON.String
		rec.ResultJSON = &v
	}
	if startedAt.Valid {
		t := startedAt.Time
		rec.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		rec.FinishedAt = &t
	}
	return &rec, nil
}
