package stats

import (
	"fmt"
	"math"
)

// xmrScale is Wheeler's scaling constant for an Individuals chart.
const xmrScale = 2.66

// shiftRun is the number of consecutive points on one side of the average that signal a shift.
const shiftRun = 8

// XmRResult represents the output of a Process Behavior Chart analysis.
type XmRResult struct {
	Average     float64   `json:"average"`
	AmR         float64   `json:"average_moving_range"`
	UNPL        float64   `json:"upper_natural_process_limit"`
	LNPL        float64   `json:"lower_natural_process_limit"`
	Values      []float64 `json:"values"`
	MovingRange []float64 `json:"moving_ranges"`
	Signals     []Signal  `json:"signals"`
}

// Signal represents a detected special cause variation.
type Signal struct {
	Index       int    `json:"index"`
	Key         string `json:"key"`
	Type        string `json:"type"` // "outlier", "shift"
	Description string `json:"description"`
}

// Stable reports whether no special cause was found.
func (r XmRResult) Stable() bool {
	return len(r.Signals) == 0
}

// WeeklyTotals folds a dense weekday series into sums of five, the last week possibly partial.
func WeeklyTotals(series []int) []int {
	var weeks []int
	for i := 0; i < len(series); i += 5 {
		sum := 0
		for _, v := range series[i:min(i+5, len(series))] {
			sum += v
		}
		weeks = append(weeks, sum)
	}
	return weeks
}

// ThroughputStability charts weekly throughput so a forecast can flag a sample
// that mixes different delivery regimes.
func ThroughputStability(series []int) XmRResult {
	weeks := WeeklyTotals(series)
	values := make([]float64, len(weeks))
	keys := make([]string, len(weeks))
	for i, w := range weeks {
		values[i] = float64(w)
		keys[i] = fmt.Sprintf("W%d", i+1)
	}
	return CalculateXmR(values, keys)
}

// CalculateXmR computes the Individuals and Moving Range chart and binds keys to signals.
func CalculateXmR(values []float64, keys []string) XmRResult {
	if len(values) == 0 {
		return XmRResult{}
	}

	result := XmRResult{Values: values}

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	result.Average = sum / float64(len(values))

	if len(values) > 1 {
		mrSum := 0.0
		result.MovingRange = make([]float64, len(values)-1)
		for i := 0; i < len(values)-1; i++ {
			mr := math.Abs(values[i+1] - values[i])
			result.MovingRange[i] = mr
			mrSum += mr
		}
		result.AmR = mrSum / float64(len(values)-1)
	}

	result.UNPL = result.Average + xmrScale*result.AmR
	result.LNPL = math.Max(0, result.Average-xmrScale*result.AmR)
	result.Signals = detectSignals(values, result.Average, result.UNPL, result.LNPL, keys)
	return result
}

func detectSignals(values []float64, avg, unpl, lnpl float64, keys []string) []Signal {
	var signals []Signal
	keyAt := func(i int) string {
		if i < len(keys) {
			return keys[i]
		}
		return ""
	}

	for i, v := range values {
		switch {
		case v > unpl:
			signals = append(signals, Signal{Index: i, Key: keyAt(i), Type: "outlier", Description: "above upper natural process limit"})
		case v < lnpl:
			signals = append(signals, Signal{Index: i, Key: keyAt(i), Type: "outlier", Description: "below lower natural process limit"})
		}
	}

	if len(values) < shiftRun {
		return signals
	}
	side, count := 0, 0
	for i, v := range values {
		current := 0
		if v > avg {
			current = 1
		} else if v < avg {
			current = -1
		}
		if current == side && current != 0 {
			count++
		} else {
			side, count = current, 1
		}
		if count == shiftRun {
			signals = append(signals, Signal{Index: i, Key: keyAt(i), Type: "shift", Description: fmt.Sprintf("%d consecutive weeks on one side of the average", shiftRun)})
		}
	}
	return signals
}
