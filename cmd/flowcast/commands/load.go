package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var fromDate string

var loadEventsCmd = &cobra.Command{
	Use:   "load-events",
	Short: "Bootstrap an empty events table with the full history of every item",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := parseFromDate(fromDate)
		if err != nil {
			return err
		}
		store, err := openWarehouse(cmd.Context())
		if err != nil {
			return err
		}
		defer closeWarehouse(store)

		engine, err := newEngine(store)
		if err != nil {
			return err
		}
		result, err := engine.LoadEvents(cmd.Context(), from)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "loaded %d events from %d items\n", result.Written, result.Stale)
		return nil
	},
}

var loadIssuesCmd = &cobra.Command{
	Use:   "load-issues",
	Short: "Bootstrap an empty issues table with each item's estimate",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := parseFromDate(fromDate)
		if err != nil {
			return err
		}
		store, err := openWarehouse(cmd.Context())
		if err != nil {
			return err
		}
		defer closeWarehouse(store)

		engine, err := newEngine(store)
		if err != nil {
			return err
		}
		n, err := engine.LoadIssues(cmd.Context(), from)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "loaded %d issues\n", n)
		return nil
	},
}

var fixKeysCmd = &cobra.Command{
	Use:   "fix-keys",
	Short: "Delete events recorded under keys that items have since been moved away from",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := parseFromDate(fromDate)
		if err != nil {
			return err
		}
		store, err := openWarehouse(cmd.Context())
		if err != nil {
			return err
		}
		defer closeWarehouse(store)

		engine, err := newEngine(store)
		if err != nil {
			return err
		}
		result, err := engine.FixKeys(cmd.Context(), from)
		if err != nil {
			return err
		}
		log.Info().Int("renamed", result.Renamed).Int64("deleted", result.Deleted).Msg("Key fix complete")
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d events for %d renamed keys\n", result.Deleted, result.Renamed)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{loadEventsCmd, loadIssuesCmd, fixKeysCmd} {
		c.Flags().StringVar(&fromDate, "from-date", "", "only consider items updated on or after this date (YYYY-MM-DD, default 2021-10-01)")
		rootCmd.AddCommand(c)
	}
}
