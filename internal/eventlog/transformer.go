package eventlog

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"flowcast/internal/jira"
)

// Extract converts an issue's changelog into directed status-transition events.
// Each status change yields a DEPARTURE keyed by the origin status followed by an ARRIVAL keyed by
// the destination status, both at the history entry's creation time. The result is sorted by
// timestamp; entries with equal timestamps keep their history order.
// A status change with an unreadable timestamp or status id fails the whole item.
func Extract(issue jira.Issue, changelog *jira.ChangelogDTO) ([]FlowEvent, error) {
	if changelog == nil {
		return nil, nil
	}

	var events []FlowEvent
	for i, history := range changelog.Histories {
		for _, item := range history.Items {
			if !strings.EqualFold(item.Field, "status") {
				continue
			}
			ts, err := jira.ParseTime(history.Created)
			if err != nil {
				return nil, fmt.Errorf("%s history %d: %w", issue.Key, i, err)
			}
			fromID, err := statusID(item.From)
			if err != nil {
				return nil, fmt.Errorf("%s history %d: from status: %w", issue.Key, i, err)
			}
			toID, err := statusID(item.To)
			if err != nil {
				return nil, fmt.Errorf("%s history %d: to status: %w", issue.Key, i, err)
			}
			from := Status{ID: fromID, Name: item.FromString}
			to := Status{ID: toID, Name: item.ToString}

			base := FlowEvent{
				IssueKey:  issue.Key,
				IssueType: issue.IssueType,
				Project:   issue.Project,
				From:      from,
				To:        to,
				Timestamp: ts,
			}
			departure, arrival := base, base
			departure.Kind = KindDeparture
			arrival.Kind = KindArrival
			events = append(events, departure, arrival)
		}
	}

	slices.SortStableFunc(events, func(a, b FlowEvent) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return events, nil
}

// Rows converts events into their persisted shape, preserving order.
func Rows(events []FlowEvent) []EventRow {
	rows := make([]EventRow, 0, len(events))
	for _, e := range events {
		rows = append(rows, e.Row())
	}
	return rows
}

// ExtractRows is Extract followed by Rows.
func ExtractRows(issue jira.Issue, changelog *jira.ChangelogDTO) ([]EventRow, error) {
	events, err := Extract(issue, changelog)
	if err != nil {
		return nil, err
	}
	return Rows(events), nil
}

// statusID reads a numeric status id. An absent id, as on a first transition out of
// creation, is 0.
func statusID(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("non-numeric status id %q", s)
	}
	return id, nil
}
