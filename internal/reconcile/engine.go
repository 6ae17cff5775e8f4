// Package reconcile keeps the warehouse event log in step with the issue tracker.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"flowcast/internal/eventlog"
	"flowcast/internal/jira"
	"flowcast/internal/retry"
	"flowcast/internal/warehouse"

	"github.com/rs/zerolog/log"
)

var (
	// ErrTableNotEmpty is returned by bootstrap loads against a populated table.
	ErrTableNotEmpty = errors.New("target table is not empty")
	// ErrNotBootstrapped is returned by sync when the events table has never been loaded.
	ErrNotBootstrapped = errors.New("events table is empty, run load-events first")
)

// DefaultIssueTypes are the work item types reconciled when none are configured.
var DefaultIssueTypes = []string{"bug", "story", "tech task", "tech debt"}

const watermarkLookupSize = 1000

// Config holds the table names and tracker query settings used by the engine.
type Config struct {
	EventsTable string
	IssuesTable string
	IssueTypes  []string
	PageSize    int
	BatchSize   int
	// EstimateField is the custom field holding the story point estimate.
	EstimateField string
}

// Observer receives progress counts, e.g. for metrics.
type Observer interface {
	CandidatesFound(n int)
	StaleItems(n int)
	RowsWritten(table string, n int)
}

type noopObserver struct{}

func (noopObserver) CandidatesFound(int)     {}
func (noopObserver) StaleItems(int)          {}
func (noopObserver) RowsWritten(string, int) {}

// Engine computes and appends the rows missing from the warehouse.
type Engine struct {
	tracker  jira.Client
	store    warehouse.Warehouse
	policy   retry.Policy
	cfg      Config
	observer Observer
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithObserver registers a progress observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithClock overrides the clock used to compute the sync window.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine wires the tracker and warehouse collaborators.
func NewEngine(tracker jira.Client, store warehouse.Warehouse, policy retry.Policy, cfg Config, opts ...Option) *Engine {
	if cfg.EventsTable == "" {
		cfg.EventsTable = "jira_events"
	}
	if cfg.IssuesTable == "" {
		cfg.IssuesTable = "jira_issues"
	}
	if len(cfg.IssueTypes) == 0 {
		cfg.IssueTypes = DefaultIssueTypes
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = warehouse.DefaultBatchSize
	}

	e := &Engine{
		tracker:  tracker,
		store:    store,
		policy:   policy,
		cfg:      cfg,
		observer: noopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result summarizes one reconciliation pass.
type Result struct {
	Candidates int `json:"candidates"`
	Stale      int `json:"stale"`
	Selected   int `json:"selected"`
	Written    int `json:"written"`
}

// BuildJQL returns the candidate search for items updated on or after since.
func BuildJQL(since time.Time, issueTypes []string) string {
	quoted := make([]string, 0, len(issueTypes))
	for _, t := range issueTypes {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if strings.ContainsAny(t, " -") {
			t = "'" + strings.ReplaceAll(t, "'", "\\'") + "'"
		}
		quoted = append(quoted, t)
	}
	jql := fmt.Sprintf(`updated >= "%s"`, since.Format(time.DateOnly))
	if len(quoted) > 0 {
		jql += fmt.Sprintf(" and type in (%s)", strings.Join(quoted, ", "))
	}
	return jql
}

// Candidates pages through every item updated on or after since. Each page is fetched
// under the retry policy on its own.
func (e *Engine) Candidates(ctx context.Context, since time.Time) ([]jira.Issue, error) {
	return e.Search(ctx, BuildJQL(since, e.cfg.IssueTypes))
}

// Search runs jql page by page and maps every result. An item whose fields cannot be
// mapped fails the search rather than silently shrinking the candidate set.
func (e *Engine) Search(ctx context.Context, jql string) ([]jira.Issue, error) {
	var issues []jira.Issue
	startAt := 0
	for {
		log.Debug().Str("jql", jql).Int("start_at", startAt).Msg("Searching issues")
		page, err := retry.Do(ctx, e.policy, "search", func(ctx context.Context) (*jira.SearchResponse, error) {
			return e.tracker.SearchIssues(ctx, jql, startAt, e.cfg.PageSize)
		})
		if err != nil {
			return nil, fmt.Errorf("search issues from %d: %w", startAt, err)
		}

		for _, dto := range page.Issues {
			issue, err := jira.MapIssue(dto, e.cfg.EstimateField)
			if err != nil {
				return nil, fmt.Errorf("map issue %s: %w", dto.Key, err)
			}
			issues = append(issues, issue)
		}

		log.Info().Int("fetched", startAt+len(page.Issues)).Int("total", page.Total).Msg("Issue page processed")
		if len(page.Issues) == 0 || startAt+len(page.Issues) >= page.Total {
			break
		}
		startAt += len(page.Issues)
	}
	e.observer.CandidatesFound(len(issues))
	return issues, nil
}

// Changelog fetches the full history of one item. Each page is retried on its own, so a
// transient failure deep in a long history does not refetch the pages already read.
func (e *Engine) Changelog(ctx context.Context, key string) (*jira.ChangelogDTO, error) {
	changelog := &jira.ChangelogDTO{}
	startAt := 0
	for {
		page, err := retry.Do(ctx, e.policy, "changelog", func(ctx context.Context) (*jira.ChangelogPageDTO, error) {
			return e.tracker.GetChangelogPage(ctx, key, startAt, jira.ChangelogPageSize)
		})
		if err != nil {
			return nil, fmt.Errorf("changelog of %s from %d: %w", key, startAt, err)
		}
		changelog.Histories = append(changelog.Histories, page.Values...)
		startAt += len(page.Values)
		if page.Last(startAt) {
			break
		}
	}
	return changelog, nil
}

// Plan returns the rows that must be appended so the warehouse reflects every candidate's
// current history. Items whose watermark is not older than their last update are skipped.
func (e *Engine) Plan(ctx context.Context, issues []jira.Issue) ([]eventlog.EventRow, Result, error) {
	result := Result{Candidates: len(issues)}

	watermarks, err := e.watermarks(ctx, issues)
	if err != nil {
		return nil, result, err
	}

	var selected []eventlog.EventRow
	for _, issue := range issues {
		watermark, seen := watermarks[issue.Key]
		if seen && !watermark.Before(issue.Updated) {
			continue
		}
		result.Stale++

		changelog, err := e.Changelog(ctx, issue.Key)
		if err != nil {
			return nil, result, fmt.Errorf("fetch changelog for %s: %w", issue.Key, err)
		}

		extracted, err := eventlog.ExtractRows(issue, changelog)
		if err != nil {
			return nil, result, fmt.Errorf("extract events: %w", err)
		}
		rows := SelectRows(extracted, watermark, seen)
		log.Debug().Str("key", issue.Key).Bool("seen", seen).Int("rows", len(rows)).Msg("Item reconciled")
		selected = append(selected, rows...)
	}

	result.Selected = len(selected)
	e.observer.StaleItems(result.Stale)
	return selected, result, nil
}

// SelectRows keeps rows strictly newer than the watermark, or all rows for an unseen item.
func SelectRows(rows []eventlog.EventRow, watermark time.Time, seen bool) []eventlog.EventRow {
	if !seen {
		return rows
	}
	var out []eventlog.EventRow
	for _, r := range rows {
		if r.Timestamp.After(watermark) {
			out = append(out, r)
		}
	}
	return out
}

func (e *Engine) watermarks(ctx context.Context, issues []jira.Issue) (map[string]time.Time, error) {
	all := make(map[string]time.Time, len(issues))
	for start := 0; start < len(issues); start += watermarkLookupSize {
		end := min(start+watermarkLookupSize, len(issues))
		ids := make([]string, 0, end-start)
		for _, issue := range issues[start:end] {
			ids = append(ids, issue.Key)
		}
		latest, err := e.store.LatestTimestamps(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("load watermarks: %w", err)
		}
		for id, ts := range latest {
			all[id] = ts
		}
	}
	return all, nil
}

func (e *Engine) writeEvents(ctx context.Context, rows []eventlog.EventRow) (int, error) {
	written, err := warehouse.WriteBatches(ctx, e.store, e.cfg.EventsTable, warehouse.EventRows(rows), e.cfg.BatchSize)
	e.observer.RowsWritten(e.cfg.EventsTable, written)
	return written, err
}

func (e *Engine) requireEmpty(ctx context.Context, table string) error {
	n, err := e.store.CountRows(ctx, table)
	if err != nil {
		return fmt.Errorf("count rows in %s: %w", table, err)
	}
	if n > 0 {
		return fmt.Errorf("%w: %s holds %d rows", ErrTableNotEmpty, table, n)
	}
	return nil
}
