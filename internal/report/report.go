// Package report renders per-item cycle-time breakdowns as CSV.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"flowcast/internal/eventlog"
	"flowcast/internal/jira"
)

// DefaultJQL selects items finished in roughly the last working week.
const DefaultJQL = "status = done and updated >= startOfDay(-5) and type in (bug, story)"

const secondsPerDay = 86400

// Header is the CSV header row.
var Header = []string{
	"Item", "Project", "Type", "Assignee", "Arrival", "Departure", "SP Estimate",
	"CT", "In Progress CT", "In Review CT", "Ready for QA CT", "In QA CT", "Journey",
}

// breakdownStatuses are the statuses reported as their own cycle-time columns, in Header order.
var breakdownStatuses = []string{"In Progress", "In Review", "Ready for QA", "IN QA"}

// Transition is one status change of an item.
type Transition struct {
	From string
	To   string
	At   time.Time
}

// Item is a work item with its status transitions in chronological order.
type Item struct {
	Key         string
	Project     string
	IssueType   string
	Assignee    *string
	Estimate    *float64
	Transitions []Transition
}

// NewItem builds an Item from a tracker issue and its changelog.
func NewItem(issue jira.Issue, changelog *jira.ChangelogDTO) (Item, error) {
	item := Item{
		Key:       issue.Key,
		Project:   issue.Project,
		IssueType: issue.IssueType,
		Assignee:  issue.Assignee,
		Estimate:  issue.Estimate,
	}
	events, err := eventlog.Extract(issue, changelog)
	if err != nil {
		return Item{}, err
	}
	for _, e := range events {
		if e.Kind != eventlog.KindArrival {
			continue
		}
		item.Transitions = append(item.Transitions, Transition{From: e.From.Name, To: e.To.Name, At: e.Timestamp})
	}
	return item, nil
}

// Arrival is the first time the item entered "In Progress".
func (i Item) Arrival() (time.Time, bool) {
	for _, t := range i.Transitions {
		if strings.EqualFold(t.To, "In Progress") {
			return t.At, true
		}
	}
	return time.Time{}, false
}

// Departure is the last time the item entered "Done".
func (i Item) Departure() (time.Time, bool) {
	for j := len(i.Transitions) - 1; j >= 0; j-- {
		if strings.EqualFold(i.Transitions[j].To, "Done") {
			return i.Transitions[j].At, true
		}
	}
	return time.Time{}, false
}

// Breakdown sums the time spent in each status, keyed by status name. Time in a status counts from
// the latest entry into it until the item leaves it.
func (i Item) Breakdown() map[string]time.Duration {
	breakdown := make(map[string]time.Duration)
	entered := make(map[string]time.Time)
	for _, t := range i.Transitions {
		entered[t.To] = t.At
		if start, ok := entered[t.From]; ok {
			breakdown[t.From] += t.At.Sub(start)
		}
	}
	return breakdown
}

// Journey lists the statuses the item passed through, e.g. "To Do->In Progress->Done".
func (i Item) Journey() string {
	if len(i.Transitions) == 0 {
		return ""
	}
	steps := make([]string, 0, len(i.Transitions)+1)
	steps = append(steps, i.Transitions[0].From)
	for _, t := range i.Transitions {
		steps = append(steps, t.To)
	}
	return strings.Join(steps, "->")
}

// Record renders the CSV record of an item. Dates are shown in loc. Items that never both started
// and finished only carry their identity and journey.
func (i Item) Record(loc *time.Location) []string {
	if loc == nil {
		loc = time.UTC
	}
	assignee := ""
	if i.Assignee != nil {
		assignee = *i.Assignee
	}
	record := []string{i.Key, i.Project, i.IssueType, assignee}

	arrival, started := i.Arrival()
	departure, finished := i.Departure()
	if !started || !finished {
		record = append(record, make([]string, len(Header)-len(record)-1)...)
		return append(record, i.Journey())
	}

	estimate := ""
	if i.Estimate != nil {
		estimate = fmt.Sprintf("%.1f", *i.Estimate)
	}
	record = append(record,
		arrival.In(loc).Format(time.DateOnly),
		departure.In(loc).Format(time.DateOnly),
		estimate,
		days(departure.Sub(arrival)),
	)
	breakdown := i.Breakdown()
	for _, status := range breakdownStatuses {
		record = append(record, days(breakdown[status]))
	}
	return append(record, i.Journey())
}

func days(d time.Duration) string {
	return fmt.Sprintf("%.1f", d.Seconds()/secondsPerDay)
}

// Write renders the header and one record per item.
func Write(w io.Writer, items []Item, loc *time.Location) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, item := range items {
		if err := cw.Write(item.Record(loc)); err != nil {
			return fmt.Errorf("write %s: %w", item.Key, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
