package report

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultClass is the target class of reports that do not name one.
const DefaultClass = "Report"

// Report is a report definition, the unit of work of a run.
// A Report with an empty ID has not been persisted yet.
type Report struct {
	ID           string        `json:"id,omitempty"`
	Name         string        `json:"name"`
	Class        string        `json:"class,omitempty"`
	Query        string        `json:"query,omitempty"`
	QueueTimeout time.Duration `json:"queue_timeout,omitempty"`
}

func (r Report) IsNew() bool { return r.ID == "" }

// TargetClass is the class name used for queue routing and audit events.
func (r Report) TargetClass() string {
	if r.Class == "" {
		return DefaultClass
	}
	return r.Class
}

// Table is the output of one generation.
type Table struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// ResultRef identifies a persisted generation result.
type ResultRef struct {
	ID         string    `json:"id"`
	ReportID   string    `json:"report_id,omitempty"`
	ReportName string    `json:"report_name"`
	TaskID     string    `json:"task_id"`
	Identity   string    `json:"userid"`
	Source     string    `json:"report_source,omitempty"`
	Rows       int       `json:"rows"`
	CreatedAt  time.Time `json:"created_at"`
}

// BatchItem is one entry of a batch run's result.
type BatchItem struct {
	Report Report `json:"report"`
	Table  *Table `json:"table"`
}

// TargetRef points at a report either by persisted id or by value.
type TargetRef struct {
	ID     string
	Report *Report
}

func ByID(id string) TargetRef   { return TargetRef{ID: id} }
func ByValue(r Report) TargetRef { return TargetRef{Report: &r} }

func refFor(r Report) TargetRef {
	if r.IsNew() {
		return ByValue(r)
	}
	return ByID(r.ID)
}

// Resolve returns the referenced report, loading by-id references from c.
func (t TargetRef) Resolve(ctx context.Context, c Catalog) (*Report, error) {
	if t.Report != nil {
		return t.Report, nil
	}
	if t.ID == "" {
		return nil, errors.New("empty report reference")
	}
	if c == nil {
		return nil, fmt.Errorf("resolve report %s: no catalog configured", t.ID)
	}
	r, err := c.Get(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("resolve report %s: %w", t.ID, err)
	}
	return r, nil
}

// PercentComplete is the progress value recorded after batch item index
// (0-based) of total completes. The value starts at total*100 and falls to
// 100 on the last item.
func PercentComplete(total, index int) float64 {
	return float64(total) / float64(index+1) * 100.0
}

func reportNames(reports []Report) string {
	quoted := make([]string, len(reports))
	for i, r := range reports {
		quoted[i] = strconv.Quote(r.Name)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
