package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/timetable-sync/internal/config"
	"github.com/tonimelisma/timetable-sync/internal/portal"
	"github.com/tonimelisma/timetable-sync/internal/sync"
)

// errPartialRun marks a --strict run that finished with calendar failures.
var errPartialRun = errors.New("sync finished with calendar failures")

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the portal timetable into Google Calendar",
		Long: `Log into the portal, fetch the timetable for the configured window and
reconcile it into the target calendar.

By default one run is performed. With --watch, runs repeat on the
configured cron schedule until enough runs complete without a challenge,
too many fail in a row, or the run cap is reached. Use --dry-run to
preview the plan without touching the calendar.`,
		RunE: runSync,
	}

	cmd.Flags().Bool("watch", false, "repeat runs on the configured schedule")
	cmd.Flags().Bool("dry-run", false, "plan without creating or deleting events")
	cmd.Flags().Int("days", 0, "number of days after today to synchronize")
	cmd.Flags().Bool("strict", false, "exit with status 2 when any calendar operation failed")
	cmd.Flags().Bool("no-prompt", false, "never ask for challenge answers on the terminal")

	return cmd
}

// applySyncOverrides copies the flags that map onto config keys into the
// CLI override layer. Only flags the user actually set take part.
func applySyncOverrides(cmd *cobra.Command, cli *config.CLIOverrides) {
	if f := cmd.Flags().Lookup("dry-run"); f != nil && f.Changed {
		v, err := cmd.Flags().GetBool("dry-run")
		if err == nil {
			cli.DryRun = &v
		}
	}

	if f := cmd.Flags().Lookup("days"); f != nil && f.Changed {
		v, err := cmd.Flags().GetInt("days")
		if err == nil {
			cli.DaysToCheck = &v
		}
	}
}

func runSync(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger

	watch, err := cmd.Flags().GetBool("watch")
	if err != nil {
		return err
	}

	strict, err := cmd.Flags().GetBool("strict")
	if err != nil {
		return err
	}

	noPrompt, err := cmd.Flags().GetBool("no-prompt")
	if err != nil {
		return err
	}

	ctx := shutdownContext(cmd.Context(), logger)

	cleanup, err := writePIDFile(config.PIDPath())
	if err != nil {
		return err
	}
	defer cleanup()

	store, err := openStore(ctx, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	p, err := newPortal(cc.Cfg, store, chooseAnswerer(noPrompt), logger)
	if err != nil {
		return err
	}

	cal, err := newCalendarService(ctx, cc.Cfg, logger)
	if err != nil {
		return err
	}

	logger.Debug("sync targets ready",
		slog.String("calendar_id", cal.CalendarID()),
		slog.String("portal", cc.Cfg.Portal.BaseURL),
	)

	engine := sync.NewEngine(&sync.EngineConfig{
		Auth:     p.session,
		Schedule: p.timetable,
		Calendar: cal,
		Mapper:   newMapper(cc.Cfg),
		History:  store,
		Location: cc.Cfg.Portal.Location(),
		Logger:   logger,
	})

	if watch {
		return runWatch(ctx, cc, engine)
	}

	report, runErr := engine.RunOnce(ctx, runOpts(cc.Cfg))
	if err := emitReport(cc, report); err != nil {
		return err
	}

	if runErr != nil {
		if portal.IsTransient(runErr) {
			return fmt.Errorf("%w (the portal could not be reached; the next run will retry)", runErr)
		}

		return runErr
	}

	if strict && report.Failed > 0 {
		return fmt.Errorf("%w: %d of %d operations failed", errPartialRun, report.Failed, report.Creates+report.Deletes)
	}

	return nil
}

func runOpts(cfg *config.Config) sync.RunOpts {
	return sync.RunOpts{
		DaysToCheck: cfg.Sync.DaysToCheck,
		DryRun:      cfg.Sync.DryRun,
	}
}

func emitReport(cc *CLIContext, r *sync.Report) error {
	if cc.Flags.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if err := enc.Encode(newSyncReportJSON(r)); err != nil {
			return fmt.Errorf("encoding JSON output: %w", err)
		}

		return nil
	}

	if !cc.Flags.Quiet {
		printReport(os.Stdout, r)
	}

	return nil
}

// runWatch drives the engine from the supervisor. Edits to the config
// file and SIGHUP reload the schedule, window and dry-run setting; portal
// and calendar settings take effect on the next start.
func runWatch(ctx context.Context, cc *CLIContext, engine *sync.Engine) error {
	logger := cc.Logger
	holder := config.NewHolder(cc.Cfg, cc.CfgPath)

	engine.SuppressRepeatedFailures()

	sup := sync.NewSupervisor(sync.SupervisorConfig{
		Runner:   engine,
		Options:  func() sync.RunOpts { return runOpts(holder.Config()) },
		Schedule: func() cron.Schedule { return mustSchedule(holder.Config(), logger) },
		Watchdog: sync.WatchdogConfig{
			MaxCleanRuns:           cc.Cfg.Sync.MaxCleanRuns,
			MaxConsecutiveFailures: cc.Cfg.Sync.MaxConsecutiveFailures,
			MaxAuthFailures:        cc.Cfg.Sync.MaxAuthFailures,
			MaxRuns:                cc.Cfg.Sync.MaxRuns,
		},
		Logger: logger,
		OnReport: func(r *sync.Report, _ error) {
			if err := emitReport(cc, r); err != nil {
				logger.Warn("failed to print run report", slog.String("error", err.Error()))
			}
		},
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// The watchers stop once the supervisor is done.
		defer cancel()

		return sup.Run(gctx)
	})

	reload := func() { reloadConfig(holder, cc.Overrides, logger) }

	if _, err := os.Stat(filepath.Dir(holder.Path())); err == nil {
		g.Go(func() error {
			return config.Watch(gctx, holder.Path(), logger, reload)
		})
	} else {
		logger.Debug("config directory missing, file watching disabled",
			slog.String("path", holder.Path()),
		)
	}

	hup := reloadSignals(gctx)

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				logger.Info("received SIGHUP, reloading config")
				reload()
			}
		}
	})

	return g.Wait()
}

// reloadConfig re-resolves the config and swaps it into holder. An
// invalid file keeps the previous config.
func reloadConfig(holder *config.Holder, cli config.CLIOverrides, logger *slog.Logger) {
	cfg, err := config.Resolve(config.ReadEnvOverrides(), cli, logger)
	if err != nil {
		logger.Warn("config reload failed, keeping previous config",
			slog.String("path", holder.Path()),
			slog.String("error", err.Error()),
		)

		return
	}

	holder.Update(cfg)
	logger.Info("config reloaded",
		slog.String("schedule", cfg.Sync.Schedule),
		slog.Int("days_to_check", cfg.Sync.DaysToCheck),
		slog.Bool("dry_run", cfg.Sync.DryRun),
	)
}

// mustSchedule parses the configured schedule. Validation already parsed
// it, so a failure here falls back to the default expression.
func mustSchedule(cfg *config.Config, logger *slog.Logger) cron.Schedule {
	sched, err := sync.ParseSchedule(cfg.Sync.Schedule)
	if err == nil {
		return sched
	}

	logger.Warn("invalid schedule, using default",
		slog.String("schedule", cfg.Sync.Schedule),
		slog.String("error", err.Error()),
	)

	sched, err = sync.ParseSchedule(sync.DefaultSchedule)
	if err != nil {
		panic(fmt.Sprintf("BUG: default schedule %q does not parse: %v", sync.DefaultSchedule, err))
	}

	return sched
}
