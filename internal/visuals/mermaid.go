package visuals

import (
	"fmt"
	"math"
	"strings"

	"flowcast/internal/simulation"
	"flowcast/internal/stats"
)

// GenerateThroughputChart creates a Mermaid bar chart of the weekday throughput series, summed per week.
func GenerateThroughputChart(series []int) string {
	if len(series) == 0 {
		return ""
	}

	var labels []string
	var values []string
	maxVal := 0

	for start := 0; start < len(series); start += 5 {
		end := min(start+5, len(series))
		total := 0
		for _, v := range series[start:end] {
			total += v
		}
		labels = append(labels, fmt.Sprintf("\"W%d\"", start/5+1))
		values = append(values, fmt.Sprintf("%d", total))
		if total > maxVal {
			maxVal = total
		}
	}

	var sb strings.Builder
	sb.WriteString("```mermaid\n")
	sb.WriteString("xychart-beta\n")
	sb.WriteString("    title \"Weekly Throughput\"\n")
	sb.WriteString(fmt.Sprintf("    x-axis [%s]\n", strings.Join(labels, ", ")))
	sb.WriteString(fmt.Sprintf("    y-axis \"Items Delivered\" 0 --> %d\n", maxVal+int(math.Max(1, float64(maxVal)*0.2))))
	sb.WriteString(fmt.Sprintf("    bar [%s]\n", strings.Join(values, ", ")))
	sb.WriteString("```")
	return sb.String()
}

// GenerateForecastCDF creates a Mermaid bar chart showing the cumulative probability distribution of the forecast.
func GenerateForecastCDF(f simulation.Forecast) string {
	if !f.Reachable() {
		return ""
	}

	yAxisLabel := "Days (Duration)"
	// For a target date, fewer items is the safer bet, so confidence runs from the top.
	invert := f.Goal.Kind == simulation.TargetDate
	if invert {
		yAxisLabel = "Items Delivered (Scope)"
	}

	levels := []struct {
		q     float64
		label string
	}{
		{0.10, "10% (Aggressive)"},
		{0.30, "30% (Unlikely)"},
		{0.50, "50% (Coin Toss)"},
		{0.70, "70% (Probable)"},
		{0.85, "85% (Likely)"},
		{0.95, "95% (Safe)"},
	}

	var labels []string
	var values []string
	maxVal := 0.0
	for _, l := range levels {
		q := l.q
		if invert {
			q = 1 - q
		}
		v := stats.Percentile(f.Results, q)
		labels = append(labels, fmt.Sprintf("\"%s\"", l.label))
		values = append(values, fmt.Sprintf("%.0f", v))
		maxVal = math.Max(maxVal, v)
	}

	if maxVal == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("```mermaid\n")
	sb.WriteString("xychart-beta\n")
	sb.WriteString("    title \"Monte Carlo Simulation (Cumulative Probability)\"\n")
	sb.WriteString(fmt.Sprintf("    x-axis [%s]\n", strings.Join(labels, ", ")))
	sb.WriteString(fmt.Sprintf("    y-axis \"%s\" 0 --> %d\n", yAxisLabel, int(math.Ceil(maxVal*1.1))))
	sb.WriteString(fmt.Sprintf("    bar [%s]\n", strings.Join(values, ", ")))
	sb.WriteString("```")
	return sb.String()
}

// GenerateOutcomePie creates a Mermaid pie chart of reached versus capped trials.
func GenerateOutcomePie(f simulation.Forecast) string {
	if f.Trials == 0 || f.Unreachable == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("```mermaid\n")
	sb.WriteString("pie title Trial Outcomes\n")
	sb.WriteString(fmt.Sprintf("    \"Reached\" : %d\n", f.Trials-f.Unreachable))
	sb.WriteString(fmt.Sprintf("    \"Unreachable\" : %d\n", f.Unreachable))
	sb.WriteString("```")
	return sb.String()
}
