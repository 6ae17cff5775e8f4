package forecast

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"flowcast/internal/simulation"
	"flowcast/internal/stats"
	"flowcast/internal/warehouse"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	counts  map[stats.Date]int
	queries []warehouse.ThroughputQuery
}

func (s *stubSource) Throughput(_ context.Context, q warehouse.ThroughputQuery) (map[stats.Date]int, error) {
	s.queries = append(s.queries, q)
	return s.counts, nil
}

func date(y int, m time.Month, d int) stats.Date { return stats.Date{Year: y, Month: m, Day: d} }

func newService(src ThroughputSource) *Service {
	svc := NewService(src, Settings{MaxDays: 100, Workers: 2})
	svc.SetClock(func() time.Time { return time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC) })
	return svc
}

func TestService_BacklogForecast(t *testing.T) {
	// One working week at 5 items a day.
	src := &stubSource{counts: map[stats.Date]int{
		date(2024, 2, 26): 5, date(2024, 2, 27): 5, date(2024, 2, 28): 5, date(2024, 2, 29): 5, date(2024, 3, 1): 5,
	}}
	seed := uint64(7)

	report, err := newService(src).Run(context.Background(), Request{Goal: "25", Project: "Project X", Seed: &seed, Trials: 100})
	require.NoError(t, err)

	assert.Equal(t, []int{5, 5, 5, 5, 5}, report.Series)
	assert.Equal(t, 5.0, report.Forecast.Low)
	assert.Equal(t, 5.0, report.Forecast.High)
	assert.Equal(t, []string{
		" - results:",
		"95% CI (days): [5, 5]",
		"95% CI (dates from today): [2024-03-09, 2024-03-09]",
	}, report.Results())

	require.Len(t, src.queries, 1)
	assert.Equal(t, "Done", src.queries[0].TerminalStatus)
	assert.Equal(t, "Project X", src.queries[0].Project)
}

func TestService_TargetDateForecast(t *testing.T) {
	src := &stubSource{counts: map[stats.Date]int{date(2024, 3, 1): 2}}

	report, err := newService(src).Run(context.Background(), Request{Goal: "2024-03-11", Project: "P"})
	require.NoError(t, err)

	assert.Equal(t, simulation.DefaultTrials, report.Forecast.Trials)
	assert.Equal(t, "95% CI (items completed by 2024-03-11): [10, 10]", report.Results()[1])
	assert.Contains(t, strings.Join(report.Header(), "\n"), "goal: number of items completed by 2024-03-11")
}

func TestService_GoalErrorSkipsWarehouse(t *testing.T) {
	src := &stubSource{}

	_, err := newService(src).Run(context.Background(), Request{Goal: "banana", Project: "P"})
	assert.ErrorIs(t, err, simulation.ErrUnsupportedGoal)
	assert.Empty(t, src.queries)
}

func TestService_NoThroughput(t *testing.T) {
	_, err := newService(&stubSource{}).Run(context.Background(), Request{Goal: "10", Project: "P"})
	assert.True(t, errors.Is(err, stats.ErrNoThroughput))
}

func TestService_UnreachableGoal(t *testing.T) {
	sample, err := stats.NewDateRange(date(2024, 2, 1), date(2024, 2, 29))
	require.NoError(t, err)

	report, err := newService(&stubSource{}).Run(context.Background(), Request{Goal: "10", Project: "P", Sample: &sample, Trials: 20})
	require.NoError(t, err)

	assert.False(t, report.Forecast.Reachable())
	assert.Contains(t, report.Results()[1], "goal unreachable")
	assert.Contains(t, strings.Join(report.Header(), "\n"), "throughput data: within [2024-02-01, 2024-02-29]")
}

func TestService_CappedTrialsLeaveUpperBoundUndefined(t *testing.T) {
	// One in five weekdays delivers five items; 75 items need about as many workdays as the cap allows.
	src := &stubSource{counts: map[stats.Date]int{date(2024, 2, 26): 5}}
	sample, err := stats.NewDateRange(date(2024, 2, 26), date(2024, 3, 1))
	require.NoError(t, err)
	seed := uint64(3)

	report, err := newService(src).Run(context.Background(), Request{Goal: "75", Project: "P", Sample: &sample, Seed: &seed, Trials: 200})
	require.NoError(t, err)

	f := report.Forecast
	require.True(t, f.Reachable())
	assert.False(t, f.Bounded())
	assert.Equal(t, 100, f.Cap)
	lines := strings.Join(report.Results(), "\n")
	assert.Contains(t, lines, "undefined]")
	assert.Contains(t, lines, "more than 2.5% of trials reached the 100-day cap")
}

func TestService_FlagsUnstableThroughput(t *testing.T) {
	// Nine quiet weeks followed by one burst week.
	counts := map[stats.Date]int{}
	d := date(2024, 1, 1)
	for workdays := 0; workdays < 50; d = d.AddDays(1) {
		if !d.IsWorkday() {
			continue
		}
		counts[d] = 2
		if workdays >= 45 {
			counts[d] = 20
		}
		workdays++
	}

	report, err := newService(&stubSource{counts: counts}).Run(context.Background(), Request{Goal: "100", Project: "P", Trials: 50})
	require.NoError(t, err)

	assert.False(t, report.Stability.Stable())
	assert.Contains(t, report.Results()[len(report.Results())-1], "special-cause signal")
}
