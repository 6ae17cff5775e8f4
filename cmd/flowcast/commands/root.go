package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flowcast/internal/config"
	"flowcast/internal/jira"
	"flowcast/internal/logging"
	"flowcast/internal/reconcile"
	"flowcast/internal/warehouse"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version, Commit, and BuildDate are set at build time via ldflags.
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"

	verbose bool
	cfg     *config.AppConfig
)

var rootCmd = &cobra.Command{
	Use:   "flowcast",
	Short: "Flowcast keeps a Jira event log and forecasts delivery from it",
	Long: `Flowcast reconciles Jira change history into an append-only warehouse event log
and runs Monte Carlo forecasts on the weekday throughput derived from it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logging.Init(verbose); err != nil {
			return err
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}

		runID := uuid.NewString()
		logging.WithRunID(runID)

		log.Info().
			Str("version", Version).
			Str("commit", Commit).
			Str("buildDate", BuildDate).
			Str("command", cmd.Name()).
			Msg("Flowcast starting")
		return nil
	},
}

// Execute runs the root command until it finishes or the process is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
}

func openWarehouse(ctx context.Context) (warehouse.Warehouse, error) {
	store, err := warehouse.Open(ctx, cfg.Warehouse)
	if err != nil {
		return nil, fmt.Errorf("open warehouse: %w", err)
	}
	return store, nil
}

// newEngine wires the tracker and warehouse into a reconciliation engine.
// store may be nil for commands that only read from Jira.
func newEngine(store warehouse.Warehouse, opts ...reconcile.Option) (*reconcile.Engine, error) {
	if err := cfg.RequireJira(); err != nil {
		return nil, err
	}
	return reconcile.NewEngine(newTracker(), store, cfg.RetryPolicy(), cfg.Reconcile(), opts...), nil
}

func newTracker() jira.Client {
	return jira.NewClient(cfg.Jira)
}

func closeWarehouse(store warehouse.Warehouse) {
	if err := store.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close warehouse")
	}
}

func parseFromDate(s string) (time.Time, error) {
	if s == "" {
		return reconcile.DefaultFromDate, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return t, nil
}
