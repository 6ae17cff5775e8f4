package commands

import (
	"fmt"
	"io"

	"flowcast/internal/forecast"
	"flowcast/internal/simulation"
	"flowcast/internal/stats"
	"flowcast/internal/visuals"

	"github.com/spf13/cobra"
)

var (
	sampleRange     []string
	experimentCount int
	issueTypes      []string
	seed            uint64
)

var forecastCmd = &cobra.Command{
	Use:   "forecast GOAL PROJECT",
	Short: "Run a Monte Carlo forecast on a project's weekday throughput",
	Long: `GOAL is either a positive backlog size, answering how many days it takes to finish it,
or a future date (YYYY-MM-DD), answering how many items get done by then.
The 95% confidence interval is printed for either.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := forecast.Request{
			Goal:       args[0],
			Project:    args[1],
			Trials:     experimentCount,
			IssueTypes: issueTypes,
		}
		if cmd.Flags().Changed("seed") {
			req.Seed = &seed
		}
		if len(sampleRange) > 0 {
			r, err := parseSampleRange(sampleRange)
			if err != nil {
				return err
			}
			req.Sample = &r
		}

		store, err := openWarehouse(cmd.Context())
		if err != nil {
			return err
		}
		defer closeWarehouse(store)

		svc := forecast.NewService(store, forecastSettings())
		report, err := svc.Run(cmd.Context(), req)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		printLines(out, report.Header())
		printLines(out, report.Results())
		if cfg.EnableMermaidCharts {
			for _, chart := range []string{
				visuals.GenerateThroughputChart(report.Series),
				visuals.GenerateForecastCDF(report.Forecast),
				visuals.GenerateOutcomePie(report.Forecast),
			} {
				if chart != "" {
					fmt.Fprintf(out, "\n%s\n", chart)
				}
			}
		}
		return nil
	},
}

func forecastSettings() forecast.Settings {
	return forecast.Settings{
		TerminalStatus: cfg.Forecast.TerminalStatus,
		Location:       cfg.Forecast.Location,
		MaxDays:        cfg.Forecast.MaxDays,
		Workers:        cfg.Forecast.Workers,
	}
}

func parseSampleRange(values []string) (stats.DateRange, error) {
	if len(values) != 2 {
		return stats.DateRange{}, fmt.Errorf("--sample-date-range takes exactly two dates, got %d", len(values))
	}
	start, err := stats.ParseDate(values[0])
	if err != nil {
		return stats.DateRange{}, fmt.Errorf("invalid sample start: %w", err)
	}
	end, err := stats.ParseDate(values[1])
	if err != nil {
		return stats.DateRange{}, fmt.Errorf("invalid sample end: %w", err)
	}
	return stats.NewDateRange(start, end)
}

func printLines(w io.Writer, lines []string) {
	for _, l := range lines {
		fmt.Fprintln(w, l)
	}
}

func init() {
	forecastCmd.Flags().StringSliceVarP(&sampleRange, "sample-date-range", "r", nil, "restrict throughput to START,END (YYYY-MM-DD)")
	forecastCmd.Flags().IntVarP(&experimentCount, "experiment-count", "c", simulation.DefaultTrials, "number of Monte Carlo trials")
	forecastCmd.Flags().StringArrayVarP(&issueTypes, "issue-type", "t", nil, "only count items of this type (repeatable)")
	forecastCmd.Flags().Uint64Var(&seed, "seed", 0, "seed the simulation for reproducible output")
	rootCmd.AddCommand(forecastCmd)
}
