// Package warehouse persists event and issue rows and answers the aggregate
// queries reconciliation and forecasting need.
package warehouse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"flowcast/internal/eventlog"
	"flowcast/internal/stats"
)

const (
	DriverPostgres = "postgres"
	DriverJSONL    = "jsonl"
)

// Row is a single record destined for a warehouse table.
type Row interface {
	Columns() []string
	Values() []any
	Validate() error
}

// RowError reports a rejected row by its index within the submitted chunk.
type RowError struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}

func (e RowError) String() string {
	return fmt.Sprintf("row %d: %s", e.Index, e.Message)
}

// ThroughputQuery selects the completions that feed a throughput series.
type ThroughputQuery struct {
	Project        string
	TerminalStatus string
	Location       *time.Location
	IssueTypes     []string
	Sample         *stats.DateRange
}

// Warehouse is the analytics store holding the append-only event log.
type Warehouse interface {
	// CountRows returns the number of rows in table.
	CountRows(ctx context.Context, table string) (int64, error)
	// LatestTimestamps returns the newest stored event timestamp per issue id.
	// Ids without events are absent from the result.
	LatestTimestamps(ctx context.Context, issueIDs []string) (map[string]time.Time, error)
	// InsertRows writes rows atomically. Row-level rejections are returned as RowErrors
	// and nothing from the call is committed.
	InsertRows(ctx context.Context, table string, rows []Row) ([]RowError, error)
	// CountEvents returns the number of event rows stored for the given issue ids.
	CountEvents(ctx context.Context, issueIDs []string) (int64, error)
	// DeleteEvents removes every event row for the given issue ids.
	DeleteEvents(ctx context.Context, issueIDs []string) (int64, error)
	// Throughput returns completed-item counts per local calendar date.
	Throughput(ctx context.Context, q ThroughputQuery) (map[stats.Date]int, error)
	Close() error
}

// Config selects and configures a Warehouse implementation.
type Config struct {
	Driver      string
	DSN         string
	Dir         string
	EventsTable string
	IssuesTable string
}

// Open constructs the configured warehouse.
func Open(ctx context.Context, cfg Config) (Warehouse, error) {
	switch strings.ToLower(cfg.Driver) {
	case DriverPostgres, "":
		return NewPostgres(ctx, cfg)
	case DriverJSONL:
		return NewJSONL(cfg)
	default:
		return nil, fmt.Errorf("unknown warehouse driver %q", cfg.Driver)
	}
}

// EventRows adapts event rows for InsertRows.
func EventRows(rows []eventlog.EventRow) []Row {
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out
}

// IssueRows adapts issue rows for InsertRows.
func IssueRows(rows []eventlog.IssueRow) []Row {
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out
}

// validateRows collects the rows that fail their own validation.
func validateRows(rows []Row) []RowError {
	var errs []RowError
	for i, r := range rows {
		if err := r.Validate(); err != nil {
			errs = append(errs, RowError{Index: i, Message: err.Error()})
		}
	}
	return errs
}

// CompletionCounts derives throughput from raw event rows: an item completes on the local date of
// its latest ARRIVAL into the terminal status. Dates outside the sample range are dropped.
func CompletionCounts(rows []eventlog.EventRow, q ThroughputQuery) map[stats.Date]int {
	loc := q.Location
	if loc == nil {
		loc = time.UTC
	}
	types := make(map[string]bool, len(q.IssueTypes))
	for _, t := range q.IssueTypes {
		types[strings.ToLower(t)] = true
	}

	latest := make(map[string]time.Time)
	for _, r := range rows {
		if r.Project != q.Project || r.EventID != eventlog.KindArrival || r.StateName != q.TerminalStatus {
			continue
		}
		if len(types) > 0 && !types[strings.ToLower(r.IssueType)] {
			continue
		}
		if cur, ok := latest[r.IssueID]; !ok || r.Timestamp.After(cur) {
			latest[r.IssueID] = r.Timestamp.Time
		}
	}

	counts := make(map[stats.Date]int)
	for _, ts := range latest {
		d := stats.DateOf(ts.In(loc))
		if q.Sample != nil && !q.Sample.Contains(d) {
			continue
		}
		counts[d]++
	}
	return counts
}
