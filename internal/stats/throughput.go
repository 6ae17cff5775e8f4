package stats

import (
	"errors"
)

// ErrNoThroughput is returned when there is neither observed data nor a sampling range to span.
var ErrNoThroughput = errors.New("no throughput data available for the selected criteria")

// BuildThroughput turns a sparse date → completed count mapping into a dense weekday-only series.
// The span covers every observed date and is widened, never narrowed, by the optional sample range.
// Days missing from counts contribute 0; Saturdays and Sundays are left out entirely.
func BuildThroughput(counts map[Date]int, sample *DateRange) ([]int, error) {
	span, ok := throughputSpan(counts, sample)
	if !ok {
		return nil, ErrNoThroughput
	}

	workdays := span.Workdays()
	series := make([]int, 0, len(workdays))
	for _, d := range workdays {
		series = append(series, counts[d])
	}
	return series, nil
}

func throughputSpan(counts map[Date]int, sample *DateRange) (DateRange, bool) {
	var span DateRange
	found := false
	for d := range counts {
		if !found {
			span = DateRange{Start: d, End: d}
			found = true
			continue
		}
		if d.Before(span.Start) {
			span.Start = d
		}
		if d.After(span.End) {
			span.End = d
		}
	}

	if sample != nil {
		if !found {
			return *sample, true
		}
		if sample.Start.Before(span.Start) {
			span.Start = sample.Start
		}
		if sample.End.After(span.End) {
			span.End = sample.End
		}
	}
	return span, found || sample != nil
}
