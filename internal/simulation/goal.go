package simulation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"flowcast/internal/stats"
)

// ErrUnsupportedGoal is returned for goals that are neither a backlog size nor a future date.
var ErrUnsupportedGoal = errors.New("unsupported simulation goal")

// GoalKind selects the question a forecast answers.
type GoalKind int

const (
	// Backlog asks how many days it takes to clear a number of items.
	Backlog GoalKind = iota + 1
	// TargetDate asks how many items get completed before a date.
	TargetDate
)

// Goal is a classified forecasting goal.
type Goal struct {
	Kind  GoalKind   `json:"kind"`
	Items int        `json:"items,omitempty"`
	Date  stats.Date `json:"-"`
	Raw   string     `json:"raw"`
}

// ParseGoal classifies s: a positive integer is a backlog size, otherwise a YYYY-MM-DD date strictly
// after now is a target date. Anything else is ErrUnsupportedGoal.
func ParseGoal(s string, now time.Time) (Goal, error) {
	raw := strings.TrimSpace(s)

	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		return Goal{Kind: Backlog, Items: n, Raw: raw}, nil
	}

	if t, err := time.ParseInLocation(time.DateOnly, raw, now.Location()); err == nil && t.After(now) {
		return Goal{Kind: TargetDate, Date: stats.DateOf(t), Raw: raw}, nil
	}

	return Goal{}, fmt.Errorf("%w: %q", ErrUnsupportedGoal, s)
}

// Describe returns a human-readable description of the goal.
func (g Goal) Describe() string {
	switch g.Kind {
	case Backlog:
		return fmt.Sprintf("%d items in backlog", g.Items)
	case TargetDate:
		return fmt.Sprintf("number of items completed by %s", g.Date)
	default:
		return fmt.Sprintf("unsupported - %s", g.Raw)
	}
}
