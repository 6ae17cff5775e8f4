package simulation

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime"
	"time"

	"flowcast/internal/stats"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultTrials is the number of Monte Carlo trials when none is given.
	DefaultTrials = 1000
	// DefaultMaxDays caps a single backlog trial.
	DefaultMaxDays = 3650

	lowerQuantile = 0.025
	upperQuantile = 0.975
)

// Engine performs the Monte-Carlo simulation.
type Engine struct {
	series  []int
	rng     *rand.Rand
	now     func() time.Time
	maxDays int
	workers int
}

// Option configures an Engine.
type Option func(*Engine)

// WithNow overrides the clock used to determine "today".
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMaxDays caps the number of calendar days a backlog trial may simulate.
func WithMaxDays(days int) Option {
	return func(e *Engine) {
		if days > 0 {
			e.maxDays = days
		}
	}
}

// WithWorkers bounds the number of trials running concurrently.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// NewEngine creates an engine sampling from a dense weekday throughput series.
func NewEngine(series []int, opts ...Option) *Engine {
	seed := uint64(time.Now().UnixNano())
	e := &Engine{
		series:  series,
		rng:     rand.New(rand.NewPCG(seed, seed>>1)),
		now:     time.Now,
		maxDays: DefaultMaxDays,
		workers: runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetSeed makes subsequent runs reproducible.
func (e *Engine) SetSeed(seed uint64) {
	e.rng = rand.New(rand.NewPCG(seed, 0))
}

// Outcome is the result of one trial.
type Outcome struct {
	Value   int
	Reached bool
}

// Forecast summarizes a Monte Carlo run.
type Forecast struct {
	Goal        Goal       `json:"goal"`
	Today       stats.Date `json:"-"`
	Trials      int        `json:"trials"`
	Unreachable int        `json:"unreachable"`
	Cap         int        `json:"day_cap,omitempty"` // day limit of a backlog trial
	Results     []int      `json:"-"`                 // every trial's value, capped trials at Cap
	Low         float64    `json:"ci95_low"`
	Median      float64    `json:"median"`
	High        float64    `json:"ci95_high"`
}

// Reachable reports whether at least one trial met the goal.
func (f Forecast) Reachable() bool {
	return f.Trials > f.Unreachable
}

// Bounded reports whether the upper end of the 95% interval is known. Capped trials are
// right-censored at Cap, so once more than 2.5% of trials hit it the upper bound is only
// known to be at least Cap.
func (f Forecast) Bounded() bool {
	return float64(f.Unreachable) <= float64(f.Trials)*(1-upperQuantile)
}

// Dates converts a backlog forecast's day interval into calendar dates from today.
func (f Forecast) Dates() (stats.Date, stats.Date) {
	return f.Today.AddDays(int(f.Low)), f.Today.AddDays(int(f.High))
}

// Run executes trials independent trials for goal and summarizes them with a 95% interval.
func (e *Engine) Run(ctx context.Context, goal Goal, trials int) (Forecast, error) {
	if len(e.series) == 0 {
		return Forecast{}, stats.ErrNoThroughput
	}
	if trials <= 0 {
		return Forecast{}, fmt.Errorf("trial count must be positive, got %d", trials)
	}

	today := stats.DateOf(e.now())
	var trial func(r *rand.Rand) Outcome
	switch goal.Kind {
	case Backlog:
		trial = func(r *rand.Rand) Outcome { return e.backlogTrial(r, today, goal.Items) }
	case TargetDate:
		trial = func(r *rand.Rand) Outcome { return e.targetDateTrial(r, today, goal.Date) }
	default:
		return Forecast{}, fmt.Errorf("%w: %q", ErrUnsupportedGoal, goal.Raw)
	}

	// Seeds are drawn up front so results do not depend on scheduling.
	seeds := make([]uint64, trials)
	for i := range seeds {
		seeds[i] = e.rng.Uint64()
	}

	outcomes := make([]Outcome, trials)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range trials {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = trial(rand.New(rand.NewPCG(seeds[i], uint64(i))))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Forecast{}, err
	}

	f := summarize(goal, today, outcomes)
	if goal.Kind == Backlog {
		f.Cap = e.maxDays
	}
	return f, nil
}

// backlogTrial counts calendar days until the sampled weekday throughput clears the backlog.
func (e *Engine) backlogTrial(r *rand.Rand, today stats.Date, backlog int) Outcome {
	remaining := backlog
	weekday := today.Weekday()
	days := 0
	for remaining > 0 {
		if days >= e.maxDays {
			return Outcome{Value: days, Reached: false}
		}
		if isWorkday(weekday) {
			remaining -= e.series[r.IntN(len(e.series))]
		}
		weekday = (weekday + 1) % 7
		days++
	}
	return Outcome{Value: days, Reached: true}
}

// targetDateTrial sums sampled weekday throughput for every day before target.
func (e *Engine) targetDateTrial(r *rand.Rand, today, target stats.Date) Outcome {
	completed := 0
	weekday := today.Weekday()
	for range today.DaysUntil(target) {
		if isWorkday(weekday) {
			completed += e.series[r.IntN(len(e.series))]
		}
		weekday = (weekday + 1) % 7
	}
	return Outcome{Value: completed, Reached: true}
}

func isWorkday(wd time.Weekday) bool {
	return wd != time.Saturday && wd != time.Sunday
}

func summarize(goal Goal, today stats.Date, outcomes []Outcome) Forecast {
	f := Forecast{
		Goal:   goal,
		Today:  today,
		Trials: len(outcomes),
	}
	for _, o := range outcomes {
		if !o.Reached {
			f.Unreachable++
		}
		f.Results = append(f.Results, o.Value)
	}
	if !f.Reachable() {
		return f
	}
	f.Low = stats.Percentile(f.Results, lowerQuantile)
	f.Median = stats.Percentile(f.Results, 0.5)
	f.High = stats.Percentile(f.Results, upperQuantile)
	return f
}
