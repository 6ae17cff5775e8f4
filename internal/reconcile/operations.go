package reconcile

import (
	"context"
	"fmt"
	"time"

	"flowcast/internal/eventlog"
	"flowcast/internal/jira"
	"flowcast/internal/warehouse"

	"github.com/rs/zerolog/log"
)

// DefaultFromDate is where bootstrap loads start when no date is given.
var DefaultFromDate = time.Date(2021, 10, 1, 0, 0, 0, 0, time.UTC)

// LoadEvents bootstraps an empty events table with the full history of every item updated since from.
func (e *Engine) LoadEvents(ctx context.Context, from time.Time) (Result, error) {
	if err := e.requireEmpty(ctx, e.cfg.EventsTable); err != nil {
		return Result{}, err
	}
	log.Info().Str("from", from.Format(time.DateOnly)).Str("table", e.cfg.EventsTable).Msg("Loading events")

	return e.reconcile(ctx, from)
}

// Sync appends the events missing for items updated in the trailing window of offsetDays.
func (e *Engine) Sync(ctx context.Context, offsetDays int) (Result, error) {
	n, err := e.store.CountRows(ctx, e.cfg.EventsTable)
	if err != nil {
		return Result{}, fmt.Errorf("count rows in %s: %w", e.cfg.EventsTable, err)
	}
	if n == 0 {
		return Result{}, ErrNotBootstrapped
	}
	if offsetDays < 0 {
		offsetDays = 0
	}

	since := e.now().AddDate(0, 0, -offsetDays)
	log.Info().Str("since", since.Format(time.DateOnly)).Int("offset_days", offsetDays).Msg("Syncing events")

	return e.reconcile(ctx, since)
}

func (e *Engine) reconcile(ctx context.Context, since time.Time) (Result, error) {
	issues, err := e.Candidates(ctx, since)
	if err != nil {
		return Result{}, err
	}

	rows, result, err := e.Plan(ctx, issues)
	if err != nil {
		return result, err
	}

	result.Written, err = e.writeEvents(ctx, rows)
	if err != nil {
		return result, err
	}

	log.Info().
		Int("candidates", result.Candidates).
		Int("stale", result.Stale).
		Int("written", result.Written).
		Msg("Reconciliation complete")
	return result, nil
}

// LoadIssues bootstraps an empty issues table with the estimate of every item updated since from.
func (e *Engine) LoadIssues(ctx context.Context, from time.Time) (int, error) {
	if err := e.requireEmpty(ctx, e.cfg.IssuesTable); err != nil {
		return 0, err
	}

	issues, err := e.Candidates(ctx, from)
	if err != nil {
		return 0, err
	}

	rows := make([]eventlog.IssueRow, 0, len(issues))
	for _, issue := range issues {
		rows = append(rows, eventlog.IssueRow{IssueID: issue.Key, Estimate: issue.Estimate})
	}

	written, err := warehouse.WriteBatches(ctx, e.store, e.cfg.IssuesTable, warehouse.IssueRows(rows), e.cfg.BatchSize)
	e.observer.RowsWritten(e.cfg.IssuesTable, written)
	if err != nil {
		return written, err
	}
	log.Info().Int("written", written).Str("table", e.cfg.IssuesTable).Msg("Issues loaded")
	return written, nil
}

// FixResult summarizes a key-rename cleanup.
type FixResult struct {
	Renamed int   `json:"renamed"`
	Deleted int64 `json:"deleted"`
}

// FixKeys removes events stored under keys an item has since been renamed from, so the next sync
// re-extracts its history under the current key.
func (e *Engine) FixKeys(ctx context.Context, from time.Time) (FixResult, error) {
	issues, err := e.Candidates(ctx, from)
	if err != nil {
		return FixResult{}, err
	}

	var result FixResult
	for _, issue := range issues {
		changelog, err := e.Changelog(ctx, issue.Key)
		if err != nil {
			return result, fmt.Errorf("fetch changelog for %s: %w", issue.Key, err)
		}

		changes, err := jira.KeyChanges(changelog)
		if err != nil {
			return result, err
		}
		if len(changes) == 0 {
			continue
		}
		result.Renamed++

		oldKeys := make([]string, 0, len(changes))
		for _, c := range changes {
			if c.From != "" && c.From != issue.Key {
				oldKeys = append(oldKeys, c.From)
			}
		}
		log.Info().Strs("old_keys", oldKeys).Str("key", issue.Key).Msg("Analyzing key change")

		count, err := e.store.CountEvents(ctx, oldKeys)
		if err != nil {
			return result, fmt.Errorf("count events for old keys of %s: %w", issue.Key, err)
		}
		if count == 0 {
			continue
		}

		log.Info().Int64("records", count).Str("key", issue.Key).Msg("Found records for old keys, cleaning up")
		deleted, err := e.store.DeleteEvents(ctx, oldKeys)
		if err != nil {
			return result, fmt.Errorf("delete events for old keys of %s: %w", issue.Key, err)
		}
		result.Deleted += deleted
	}
	return result, nil
}
