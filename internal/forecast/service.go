// Package forecast answers "when" and "how many" questions from the warehouse's completion history.
package forecast

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"flowcast/internal/simulation"
	"flowcast/internal/stats"
	"flowcast/internal/warehouse"

	"github.com/rs/zerolog/log"
)

// ThroughputSource provides completion counts per day.
type ThroughputSource interface {
	Throughput(ctx context.Context, q warehouse.ThroughputQuery) (map[stats.Date]int, error)
}

// Settings configure how throughput is derived and simulated.
type Settings struct {
	TerminalStatus string
	Location       *time.Location
	MaxDays        int
	Workers        int
}

// Request describes one forecast.
type Request struct {
	Goal       string
	Project    string
	Sample     *stats.DateRange
	Trials     int
	IssueTypes []string
	Seed       *uint64
}

// Report is a finished forecast together with the inputs it was built from.
type Report struct {
	Request   Request             `json:"-"`
	Series    []int               `json:"-"`
	Stability stats.XmRResult     `json:"stability"`
	Forecast  simulation.Forecast `json:"forecast"`
}

// Service runs forecasts against a throughput source.
type Service struct {
	source   ThroughputSource
	settings Settings
	now      func() time.Time
}

// NewService creates a forecasting service.
func NewService(source ThroughputSource, settings Settings) *Service {
	if settings.TerminalStatus == "" {
		settings.TerminalStatus = "Done"
	}
	if settings.Location == nil {
		settings.Location = time.UTC
	}
	return &Service{source: source, settings: settings, now: time.Now}
}

// SetClock overrides the service clock.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Run classifies the goal, builds the throughput series and simulates it.
// Goal errors are reported before the warehouse is queried.
func (s *Service) Run(ctx context.Context, req Request) (Report, error) {
	now := s.now().In(s.settings.Location)
	goal, err := simulation.ParseGoal(req.Goal, now)
	if err != nil {
		return Report{}, err
	}
	if req.Trials <= 0 {
		req.Trials = simulation.DefaultTrials
	}

	counts, err := s.source.Throughput(ctx, warehouse.ThroughputQuery{
		Project:        req.Project,
		TerminalStatus: s.settings.TerminalStatus,
		Location:       s.settings.Location,
		IssueTypes:     req.IssueTypes,
		Sample:         req.Sample,
	})
	if err != nil {
		return Report{}, fmt.Errorf("load throughput: %w", err)
	}

	series, err := stats.BuildThroughput(counts, req.Sample)
	if err != nil {
		return Report{}, err
	}
	log.Debug().Int("days", len(series)).Int("completed_days", len(counts)).Msg("Throughput series built")

	stability := stats.ThroughputStability(series)
	if !stability.Stable() {
		log.Warn().Int("signals", len(stability.Signals)).Str("project", req.Project).Msg("Weekly throughput is not stable")
	}

	engine := simulation.NewEngine(series,
		simulation.WithNow(func() time.Time { return now }),
		simulation.WithMaxDays(s.settings.MaxDays),
		simulation.WithWorkers(s.settings.Workers),
	)
	if req.Seed != nil {
		engine.SetSeed(*req.Seed)
	}

	f, err := engine.Run(ctx, goal, req.Trials)
	if err != nil {
		return Report{}, err
	}
	return Report{Request: req, Series: series, Stability: stability, Forecast: f}, nil
}

// Header describes the forecast inputs, one line each.
func (r Report) Header() []string {
	types := "all"
	if len(r.Request.IssueTypes) > 0 {
		types = strings.Join(r.Request.IssueTypes, ", ")
	}
	return []string{
		" - starting the forecaster ...",
		fmt.Sprintf(" --- goal: %s", r.Forecast.Goal.Describe()),
		fmt.Sprintf(" --- project: '%s'", r.Request.Project),
		fmt.Sprintf(" --- throughput data: %s", describeSample(r.Request.Sample)),
		fmt.Sprintf(" --- issue types: %s", types),
		fmt.Sprintf(" --- experiment count: %d", r.Forecast.Trials),
	}
}

// Results renders the 95% confidence interval.
func (r Report) Results() []string {
	f := r.Forecast
	lines := []string{" - results:"}
	if !f.Reachable() {
		return append(lines, fmt.Sprintf("goal unreachable: none of %d trials finished within the day cap", f.Trials))
	}

	switch f.Goal.Kind {
	case simulation.Backlog:
		low, high := f.Dates()
		if !f.Bounded() {
			lines = append(lines,
				fmt.Sprintf("95%% CI (days): [%.0f, undefined]", math.Round(f.Low)),
				fmt.Sprintf("95%% CI (dates from today): [%s, undefined]", low),
				fmt.Sprintf("upper bound undefined: more than 2.5%% of trials reached the %d-day cap", f.Cap),
			)
			break
		}
		lines = append(lines,
			fmt.Sprintf("95%% CI (days): [%.0f, %.0f]", math.Round(f.Low), math.Round(f.High)),
			fmt.Sprintf("95%% CI (dates from today): [%s, %s]", low, high),
		)
	case simulation.TargetDate:
		lines = append(lines, fmt.Sprintf("95%% CI (items completed by %s): [%d, %d]", f.Goal.Date, int(f.Low), int(f.High)))
	}
	if f.Unreachable > 0 {
		lines = append(lines, fmt.Sprintf("%d of %d trials did not finish within the day cap", f.Unreachable, f.Trials))
	}
	if n := len(r.Stability.Signals); n > 0 {
		lines = append(lines, fmt.Sprintf("note: weekly throughput shows %d special-cause signal(s); the sample may mix delivery regimes", n))
	}
	return lines
}

func describeSample(r *stats.DateRange) string {
	if r == nil {
		return "all available"
	}
	return fmt.Sprintf("within %s", r)
}
