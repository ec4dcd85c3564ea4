package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohans/reportq/internal/sqlutil"
)

// ErrReportNotFound is returned by catalogs for unknown report ids.
var ErrReportNotFound = errors.New("report not found")

// SQLCatalog stores report definitions in the reports table.
type SQLCatalog struct {
	db     *sql.DB
	dollar bool
}

func NewSQLCatalog(db *sql.DB, driverName string) *SQLCatalog {
	return &SQLCatalog{db: db, dollar: sqlutil.Dollar(driverName)}
}

// Save inserts r, assigning an id when it has none, and returns the stored copy.
func (c *SQLCatalog) Save(ctx context.Context, r Report) (Report, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.Class = r.TargetClass()
	_, err := c.db.ExecContext(ctx, sqlutil.Rebind(c.dollar, `INSERT INTO reports
		(id, name, class, query, queue_timeout_seconds, created_at) VALUES (?, ?, ?, ?, ?, ?)`),
		r.ID, r.Name, r.Class, r.Query, int64(r.QueueTimeout/time.Second), time.Now().UTC())
	if err != nil {
		return Report{}, fmt.Errorf("save report %q: %w", r.Name, err)
	}
	return r, nil
}

func (c *SQLCatalog) Get(ctx context.Context, id string) (*Report, error) {
	row := c.db.QueryRowContext(ctx, sqlutil.Rebind(c.dollar,
		`SELECT id, name, class, query, queue_timeout_seconds FROM reports WHERE id = ?`), id)
	var r Report
	var timeout int64
	if err := row.Scan(&r.ID, &r.Name, &r.Class, &r.Query, &timeout); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("report %s: %w", id, ErrReportNotFound)
		}
		return nil, fmt.Errorf("get report %s: %w", id, err)
	}
	r.QueueTimeout = time.Duration(timeout) * time.Second
	return &r, nil
}

// CachedCatalog keeps recently resolved reports in memory.
type CachedCatalog struct {
	next  Catalog
	cache *lru.Cache[string, Report]
}

func NewCachedCatalog(next Catalog, size int) (*CachedCatalog, error) {
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[string, Report](size)
	if err != nil {
		return nil, fmt.Errorf("report cache: %w", err)
	}
	return &CachedCatalog{next: next, cache: cache}, nil
}

func (c *CachedCatalog) Get(ctx context.Context, id string) (*Report, error) {
	if r, ok := c.cache.Get(id); ok {
		return &r, nil
	}
	r, err := c.next.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache.Add(id, *r)
	return r, nil
}
