// Package generator produces report tables by running each report's query.
package generator

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/mohans/reportq/report"
)

// SQL runs report queries against a database. It implements report.Generator.
type SQL struct {
	db      *sql.DB
	maxRows int
}

// NewSQL returns a generator over db. maxRows caps every table; 0 means no cap.
// The per-run option "limit" can lower the cap further.
func NewSQL(db *sql.DB, maxRows int) *SQL {
	return &SQL{db: db, maxRows: maxRows}
}

func (g *SQL) GenerateTable(ctx context.Context, r report.Report, opts report.Options) (*report.Table, error) {
	if strings.TrimSpace(r.Query) == "" {
		return nil, fmt.Errorf("report %q has no query", r.Name)
	}
	limit := g.maxRows
	if l := opts.Int(report.KeyLimit); l > 0 && (limit == 0 || l < limit) {
		limit = l
	}

	rows, err := g.db.QueryContext(ctx, r.Query)
	if err != nil {
		return nil, fmt.Errorf("run report %q: %w", r.Name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns of report %q: %w", r.Name, err)
	}
	table := &report.Table{Columns: cols, Rows: [][]any{}}
	for rows.Next() {
		if limit > 0 && len(table.Rows) == limit {
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan report %q: %w", r.Name, err)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		table.Rows = append(table.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read report %q: %w", r.Name, err)
	}
	return table, nil
}
