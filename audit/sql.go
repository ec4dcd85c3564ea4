package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mohans/reportq/internal/sqlutil"
)

// SQLSink appends events to the audit_events table and mirrors them to slog.
type SQLSink struct {
	db     *sql.DB
	dollar bool
	logger *slog.Logger
}

func NewSQLSink(db *sql.DB, driverName string, logger *slog.Logger) *SQLSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLSink{db: db, dollar: sqlutil.Dollar(driverName), logger: logger.With("component", "audit")}
}

func (s *SQLSink) Success(ctx context.Context, ev Event) error {
	ev.Outcome = OutcomeSuccess
	return s.append(ctx, ev)
}

func (s *SQLSink) Failure(ctx context.Context, ev Event) error {
	ev.Outcome = OutcomeFailure
	return s.append(ctx, ev)
}

func (s *SQLSink) append(ctx context.Context, ev Event) error {
	ev.ID = uuid.NewString()
	ev.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, sqlutil.Rebind(s.dollar, `INSERT INTO audit_events
		(id, event, target_class, target_id, userid, message, outcome, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		ev.ID, ev.Name, ev.TargetClass, ev.TargetID, ev.UserID, ev.Message, string(ev.Outcome), ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("append audit event %s: %w", ev.Name, err)
	}
	s.logger.Info("audit",
		"event", ev.Name,
		"outcome", ev.Outcome,
		"target_class", ev.TargetClass,
		"target_id", ev.TargetID,
		"userid", ev.UserID,
		"message", ev.Message)
	return nil
}

// List returns the events recorded for targetClass, oldest first.
func (s *SQLSink) List(ctx context.Context, targetClass string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, sqlutil.Rebind(s.dollar, `SELECT id, event, target_class, target_id, userid, message, outcome, created_at
		FROM audit_events WHERE target_class = ? ORDER BY created_at, id`), targetClass)
	if err != nil {
		return nil, fmt.Errorf("list audit events for %s: %w", targetClass, err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var outcome string
		if err := rows.Scan(&ev.ID, &ev.Name, &ev.TargetClass, &ev.TargetID, &ev.UserID, &ev.Message, &outcome, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		ev.Outcome = Outcome(outcome)
		events = append(events, ev)
	}
	return events, rows.Err()
}
