package eventlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies one side of a status transition. The numeric values are persisted.
type Kind int

const (
	// KindDeparture marks the item leaving its origin status.
	KindDeparture Kind = 1
	// KindOther is reserved for unclassified transitions.
	KindOther Kind = 2
	// KindArrival marks the item entering its destination status.
	KindArrival Kind = 3
	// KindUnknown is stored for codes outside the known set instead of dropping the row.
	KindUnknown Kind = 99
)

var kindNames = map[Kind]string{
	KindDeparture: "DEPARTURE",
	KindOther:     "OTHER",
	KindArrival:   "ARRIVAL",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "UNKNOWN"
}

// KindFromName maps an event name to its code, falling back to KindUnknown.
func KindFromName(name string) Kind {
	for k, n := range kindNames {
		if strings.EqualFold(n, name) {
			return k
		}
	}
	return KindUnknown
}

// NormalizeKind maps a stored code back onto the known set.
func NormalizeKind(code int) Kind {
	if _, ok := kindNames[Kind(code)]; ok {
		return Kind(code)
	}
	return KindUnknown
}

// Status is a Jira status as recorded in the changelog.
type Status struct {
	ID   int
	Name string
}

// FlowEvent is one side of a status change of a work item.
type FlowEvent struct {
	IssueKey  string
	IssueType string
	Project   string
	From      Status
	To        Status
	Kind      Kind
	Timestamp time.Time
}

// State is the status the event is keyed by: the origin for departures, the destination otherwise.
func (e FlowEvent) State() Status {
	if e.Kind == KindDeparture {
		return e.From
	}
	return e.To
}

// Row converts the event into its persisted shape.
func (e FlowEvent) Row() EventRow {
	state := e.State()
	name := e.Kind.String()
	return EventRow{
		IssueID:   e.IssueKey,
		IssueType: e.IssueType,
		StateID:   state.ID,
		StateName: state.Name,
		EventID:   KindFromName(name),
		EventName: name,
		Timestamp: NewTimestamp(e.Timestamp),
		Project:   e.Project,
	}
}

// TimestampLayout is the warehouse wire format: UTC, microseconds, no zone suffix.
const TimestampLayout = "2006-01-02 15:04:05.000000"

// Timestamp is a UTC instant truncated to whole microseconds.
type Timestamp struct {
	time.Time
}

// NewTimestamp normalizes t to UTC microsecond precision.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC().Truncate(time.Microsecond)}
}

// ParseTimestamp reads the warehouse wire format.
func ParseTimestamp(s string) (Timestamp, error) {
	t, err := time.ParseInLocation(TimestampLayout, s, time.UTC)
	if err != nil {
		return Timestamp{}, err
	}
	return Timestamp{Time: t}, nil
}

func (t Timestamp) String() string {
	return t.UTC().Format(TimestampLayout)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// EventRow is the warehouse-resident shape of a FlowEvent.
type EventRow struct {
	IssueID   string    `json:"issue_id"`
	IssueType string    `json:"issue_type"`
	StateID   int       `json:"state_id"`
	StateName string    `json:"state_name"`
	EventID   Kind      `json:"event_id"`
	EventName string    `json:"event_name"`
	Timestamp Timestamp `json:"timestamp"`
	Project   string    `json:"project"`
}

// EventColumns lists the event table columns in Values order.
var EventColumns = []string{"issue_id", "issue_type", "state_id", "state_name", "event_id", "event_name", "timestamp", "project"}

func (r EventRow) Columns() []string { return EventColumns }

// Values returns the column values in EventColumns order.
func (r EventRow) Values() []any {
	return []any{r.IssueID, r.IssueType, r.StateID, r.StateName, int(r.EventID), r.EventName, r.Timestamp.Time, r.Project}
}

// Validate rejects rows the warehouse would refuse.
func (r EventRow) Validate() error {
	var errs []error
	if r.IssueID == "" {
		errs = append(errs, errors.New("issue_id is required"))
	}
	if r.Timestamp.IsZero() {
		errs = append(errs, errors.New("timestamp is required"))
	}
	if r.EventName == "" {
		errs = append(errs, fmt.Errorf("event_name is required for event_id %d", r.EventID))
	}
	return errors.Join(errs...)
}

// IssueRow is the persisted per-item record.
type IssueRow struct {
	IssueID  string   `json:"issue_id"`
	Estimate *float64 `json:"estimate"`
}

// IssueColumns lists the issue table columns in Values order.
var IssueColumns = []string{"issue_id", "estimate"}

func (r IssueRow) Columns() []string { return IssueColumns }

// Values returns the column values in IssueColumns order.
func (r IssueRow) Values() []any {
	return []any{r.IssueID, r.Estimate}
}

// Validate rejects rows the warehouse would refuse.
func (r IssueRow) Validate() error {
	if r.IssueID == "" {
		return errors.New("issue_id is required")
	}
	return nil
}
