package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"flowcast/internal/forecast"
	"flowcast/internal/simulation"
	"flowcast/internal/stats"
	"flowcast/internal/visuals"
	"flowcast/internal/warehouse"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"
)

// ForecastInput is the argument object of the forecast tool.
type ForecastInput struct {
	Goal        string   `json:"goal" jsonschema:"backlog size (positive integer) or future date YYYY-MM-DD"`
	Project     string   `json:"project" jsonschema:"project name as stored in the event log"`
	SampleStart string   `json:"sample_start,omitempty" jsonschema:"first day of the throughput sample, YYYY-MM-DD"`
	SampleEnd   string   `json:"sample_end,omitempty" jsonschema:"last day of the throughput sample, YYYY-MM-DD"`
	Trials      int      `json:"trials,omitempty" jsonschema:"number of Monte Carlo trials, default 1000"`
	IssueTypes  []string `json:"issue_types,omitempty" jsonschema:"restrict throughput to these issue types"`
}

// ForecastOutput is the structured result of the forecast tool.
type ForecastOutput struct {
	Goal        string  `json:"goal"`
	Trials      int     `json:"trials"`
	Unreachable int     `json:"unreachable"`
	Reachable   bool    `json:"reachable"`
	Bounded     bool    `json:"ci95_bounded"`
	Low         float64 `json:"ci95_low"`
	Median      float64 `json:"median"`
	High        float64 `json:"ci95_high"`
	LowDate     string  `json:"ci95_low_date,omitempty"`
	HighDate    string  `json:"ci95_high_date,omitempty"`
	Summary     string  `json:"summary"`
}

// ThroughputInput is the argument object of the throughput tool.
type ThroughputInput struct {
	Project     string   `json:"project" jsonschema:"project name as stored in the event log"`
	SampleStart string   `json:"sample_start,omitempty" jsonschema:"first day of the sample, YYYY-MM-DD"`
	SampleEnd   string   `json:"sample_end,omitempty" jsonschema:"last day of the sample, YYYY-MM-DD"`
	IssueTypes  []string `json:"issue_types,omitempty" jsonschema:"restrict to these issue types"`
}

// ThroughputOutput is the structured result of the throughput tool.
type ThroughputOutput struct {
	Series    []int           `json:"series"`
	Days      int             `json:"days"`
	Total     int             `json:"total"`
	Median    float64         `json:"median"`
	Stable    bool            `json:"stable"`
	Stability stats.XmRResult `json:"weekly_stability"`
	Chart     string          `json:"chart,omitempty"`
}

func (s *Server) handleForecast(ctx context.Context, _ *mcp.CallToolRequest, in ForecastInput) (*mcp.CallToolResult, ForecastOutput, error) {
	sample, err := parseSample(in.SampleStart, in.SampleEnd)
	if err != nil {
		return nil, ForecastOutput{}, err
	}

	report, err := s.service.Run(ctx, forecast.Request{
		Goal:       in.Goal,
		Project:    in.Project,
		Sample:     sample,
		Trials:     in.Trials,
		IssueTypes: in.IssueTypes,
	})
	if err != nil {
		log.Warn().Err(err).Str("goal", in.Goal).Str("project", in.Project).Msg("Forecast tool failed")
		return nil, ForecastOutput{}, err
	}

	f := report.Forecast
	out := ForecastOutput{
		Goal:        f.Goal.Describe(),
		Trials:      f.Trials,
		Unreachable: f.Unreachable,
		Reachable:   f.Reachable(),
		Bounded:     f.Reachable() && f.Bounded(),
		Low:         f.Low,
		Median:      f.Median,
		High:        f.High,
		Summary:     strings.Join(report.Results()[1:], "\n"),
	}
	if f.Reachable() && f.Goal.Kind == simulation.Backlog {
		low, high := f.Dates()
		out.LowDate = low.String()
		if out.Bounded {
			out.HighDate = high.String()
		}
	}

	text := strings.Join(append(report.Header(), report.Results()...), "\n")
	if s.enableMermaid {
		for _, chart := range []string{visuals.GenerateForecastCDF(f), visuals.GenerateOutcomePie(f)} {
			if chart != "" {
				text += "\n\n" + chart
			}
		}
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}, out, nil
}

func (s *Server) handleThroughput(ctx context.Context, _ *mcp.CallToolRequest, in ThroughputInput) (*mcp.CallToolResult, ThroughputOutput, error) {
	sample, err := parseSample(in.SampleStart, in.SampleEnd)
	if err != nil {
		return nil, ThroughputOutput{}, err
	}

	counts, err := s.source.Throughput(ctx, warehouse.ThroughputQuery{
		Project:        in.Project,
		TerminalStatus: s.settings.TerminalStatus,
		Location:       s.settings.Location,
		IssueTypes:     in.IssueTypes,
		Sample:         sample,
	})
	if err != nil {
		return nil, ThroughputOutput{}, fmt.Errorf("load throughput: %w", err)
	}
	series, err := stats.BuildThroughput(counts, sample)
	if err != nil {
		return nil, ThroughputOutput{}, err
	}

	stability := stats.ThroughputStability(series)
	out := ThroughputOutput{
		Series:    series,
		Days:      len(series),
		Median:    stats.CalculateMedianDiscrete(series),
		Stable:    stability.Stable(),
		Stability: stability,
	}
	for _, v := range series {
		out.Total += v
	}
	if s.enableMermaid {
		out.Chart = visuals.GenerateThroughputChart(series)
	}
	return nil, out, nil
}

const isoDate = `^\d{4}-\d{2}-\d{2}$`

// forecastInputSchema tightens the reflected schema: non-empty goal and project,
// ISO sample dates, at least one trial with the engine default filled in.
func forecastInputSchema() (*jsonschema.Schema, error) {
	schema, err := jsonschema.For[ForecastInput](nil)
	if err != nil {
		return nil, err
	}
	for _, name := range []string{"goal", "project"} {
		schema.Properties[name].MinLength = jsonschema.Ptr(1)
	}
	for _, name := range []string{"sample_start", "sample_end"} {
		schema.Properties[name].Pattern = isoDate
	}
	trials := schema.Properties["trials"]
	trials.Minimum = jsonschema.Ptr(1.0)
	trials.Default = json.RawMessage(strconv.Itoa(simulation.DefaultTrials))
	return schema, nil
}

// parseSample reads an optional sample range. Both ends or neither must be given.
func parseSample(start, end string) (*stats.DateRange, error) {
	if start == "" && end == "" {
		return nil, nil
	}
	if start == "" || end == "" {
		return nil, fmt.Errorf("sample_start and sample_end must be given together")
	}
	from, err := stats.ParseDate(start)
	if err != nil {
		return nil, fmt.Errorf("invalid sample_start: %w", err)
	}
	to, err := stats.ParseDate(end)
	if err != nil {
		return nil, fmt.Errorf("invalid sample_end: %w", err)
	}
	r, err := stats.NewDateRange(from, to)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
