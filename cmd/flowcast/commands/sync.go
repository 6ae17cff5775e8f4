package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"flowcast/internal/metrics"
	"flowcast/internal/reconcile"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	syncOffset   int
	syncSchedule string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Append the events missing for items updated in the trailing window",
	Long: `Sync searches for items updated within the last --offset days, compares each item's
last update with the newest event already stored, and appends only the newer events.
With --schedule (or SYNC_SCHEDULE) it keeps running and syncs on a cron schedule.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if !cmd.Flags().Changed("offset") {
			syncOffset = cfg.ScanOffsetDays
		}
		schedule := syncSchedule
		if schedule == "" {
			schedule = cfg.SyncSchedule
		}

		store, err := openWarehouse(ctx)
		if err != nil {
			return err
		}
		defer closeWarehouse(store)

		m := metrics.NewMetrics()
		policy := cfg.RetryPolicy()
		policy.OnRetry = m.Retry
		if err := cfg.RequireJira(); err != nil {
			return err
		}
		engine := reconcile.NewEngine(newTracker(), store, policy, cfg.Reconcile(), reconcile.WithObserver(m))

		runOnce := func(ctx context.Context) error {
			start := time.Now()
			result, err := engine.Sync(ctx, syncOffset)
			m.SyncRun(time.Since(start), err)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "synced %d events from %d stale items (%d candidates)\n",
				result.Written, result.Stale, result.Candidates)
			return nil
		}

		if schedule == "" {
			return runOnce(ctx)
		}
		return runScheduled(ctx, schedule, m, runOnce)
	},
}

// runScheduled syncs on every cron tick until ctx is cancelled, serving metrics meanwhile.
// A failed run is logged and the next tick tries again.
func runScheduled(ctx context.Context, schedule string, m *metrics.Metrics, runOnce func(context.Context) error) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if err := runOnce(ctx); err != nil {
			log.Error().Err(err).Msg("Scheduled sync failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	var srv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		srv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info().Str("addr", cfg.MetricsAddr).Msg("Serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("Metrics server stopped")
			}
		}()
	}

	log.Info().Str("schedule", schedule).Msg("Sync scheduler started")
	c.Start()
	<-ctx.Done()

	log.Info().Msg("Stopping sync scheduler")
	<-c.Stop().Done()
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	return nil
}

func init() {
	syncCmd.Flags().IntVar(&syncOffset, "offset", 1, "days before today to search for updated items (default JIRA_SCAN_OFFSET)")
	syncCmd.Flags().StringVar(&syncSchedule, "schedule", "", "cron expression; keep running and sync on this schedule")
	rootCmd.AddCommand(syncCmd)
}
