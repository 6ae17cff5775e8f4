package commands

import (
	"fmt"

	"flowcast/internal/report"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report [JQL]",
	Short: "Write a CSV of cycle times and status breakdowns for the items a JQL query returns",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jql := report.DefaultJQL
		if len(args) == 1 {
			jql = args[0]
		}

		engine, err := newEngine(nil)
		if err != nil {
			return err
		}
		issues, err := engine.Search(cmd.Context(), jql)
		if err != nil {
			return err
		}

		items := make([]report.Item, 0, len(issues))
		for _, issue := range issues {
			changelog, err := engine.Changelog(cmd.Context(), issue.Key)
			if err != nil {
				return fmt.Errorf("fetch changelog for %s: %w", issue.Key, err)
			}
			item, err := report.NewItem(issue, changelog)
			if err != nil {
				return err
			}
			items = append(items, item)
		}
		log.Info().Int("items", len(items)).Msg("Writing report")

		return report.Write(cmd.OutOrStdout(), items, cfg.Forecast.Location)
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
}
