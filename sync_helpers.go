package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/tonimelisma/timetable-sync/internal/calendar"
	"github.com/tonimelisma/timetable-sync/internal/config"
	"github.com/tonimelisma/timetable-sync/internal/portal"
	"github.com/tonimelisma/timetable-sync/internal/state"
	"github.com/tonimelisma/timetable-sync/internal/sync"
)

const dataDirPermissions = 0o700

// openStore opens the answer cache and run history database.
func openStore(ctx context.Context, logger *slog.Logger) (*state.Store, error) {
	path := config.StatePath()
	if path == "" {
		return nil, fmt.Errorf("cannot determine state database path: HOME is not set")
	}

	if err := os.MkdirAll(filepath.Dir(path), dataDirPermissions); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	return state.Open(ctx, path, logger)
}

// portalDeps bundles the two portal collaborators a run needs.
type portalDeps struct {
	session   *portal.Session
	timetable *portal.Timetable
}

// newPortal builds the portal session and timetable fetcher. answerer may
// be nil; then only cached answers are used.
func newPortal(cfg *config.Config, cache portal.AnswerCache, answerer portal.Answerer, logger *slog.Logger) (*portalDeps, error) {
	if err := config.ValidateCredentials(cfg); err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.Portal.TimeoutDuration()}
	client := portal.NewClient(cfg.Portal.BaseURL, httpClient, cfg.Portal.UserAgent, logger)

	creds := portal.Credentials{
		Username: cfg.Portal.Username,
		Password: cfg.Portal.Password,
		UUID:     cfg.Portal.UUID,
	}

	session := portal.NewSession(client, creds, cache, answerer, logger)
	session.MaxChallengeAttempts = cfg.Portal.MaxChallengeAttempts

	return &portalDeps{
		session:   session,
		timetable: portal.NewTimetable(client, cfg.Portal.Location(), logger),
	}, nil
}

// newCalendarService builds the Google Calendar client from the saved
// token. ctx must outlive the service: token refreshes run under it.
func newCalendarService(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*calendar.Service, error) {
	tokenPath := config.TokenPath()

	oauthCfg, err := calendar.OAuthConfig(cfg.Calendar.CredentialsFile, tokenPath, logger)
	if err != nil {
		return nil, err
	}

	httpClient, err := calendar.HTTPClient(ctx, oauthCfg, tokenPath, logger)
	if err != nil {
		if errors.Is(err, calendar.ErrNotLoggedIn) {
			return nil, fmt.Errorf("not logged in to Google Calendar: run 'timetable-sync login' first")
		}

		return nil, err
	}

	return calendar.NewService(ctx, cfg.Calendar.CalendarID, httpClient, cfg.Calendar.RequestsPerSecond, logger)
}

func newMapper(cfg *config.Config) *sync.Mapper {
	return sync.NewMapper(sync.MappingOptions{
		CancelledSuffix:     cfg.Calendar.CancelledSuffix,
		LocationPlaceholder: cfg.Calendar.LocationPlaceholder,
		TitleCaseSubjects:   cfg.Calendar.TitleCaseSubjects,
	})
}

// chooseAnswerer returns the terminal prompt when a user can answer, or
// nil so that unknown challenge questions fail the run.
func chooseAnswerer(noPrompt bool) portal.Answerer {
	if noPrompt || !isInteractive() {
		return nil
	}

	return newPromptAnswerer(os.Stdin, os.Stderr)
}

// printReport writes a one-run summary for humans.
func printReport(w io.Writer, r *sync.Report) {
	prefix := ""
	if r.DryRun {
		prefix = "Dry run: "
	}

	fmt.Fprintf(w, "%sWindow %s, %d courses (challenge: %s)\n",
		prefix, r.Window, r.Courses, r.Challenge)

	if r.DryRun {
		fmt.Fprintf(w, "  would create %d, would delete %d, unchanged %d\n",
			r.Creates, r.Deletes, r.Unchanged)

		return
	}

	fmt.Fprintf(w, "  created %d, deleted %d, unchanged %d", r.Created, r.Deleted, r.Unchanged)

	if r.Failed > 0 {
		fmt.Fprintf(w, ", failed %d", r.Failed)
	}

	if r.Skipped > 0 {
		fmt.Fprintf(w, ", skipped %d", r.Skipped)
	}

	fmt.Fprintf(w, " in %s\n", formatDuration(r.Duration))

	for _, err := range r.Errors {
		fmt.Fprintf(w, "  error: %v\n", err)
	}
}

// syncReportJSON is the JSON schema for `sync --json`.
type syncReportJSON struct {
	RunID     string   `json:"run_id"`
	Outcome   string   `json:"outcome"`
	Window    string   `json:"window"`
	DryRun    bool     `json:"dry_run"`
	Challenge string   `json:"challenge"`
	Courses   int      `json:"courses"`
	Creates   int      `json:"planned_creates"`
	Deletes   int      `json:"planned_deletes"`
	Unchanged int      `json:"unchanged"`
	Created   int      `json:"created"`
	Deleted   int      `json:"deleted"`
	Failed    int      `json:"failed"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors,omitempty"`
	Duration  string   `json:"duration"`
}

func newSyncReportJSON(r *sync.Report) syncReportJSON {
	out := syncReportJSON{
		RunID:     r.RunID,
		Outcome:   string(r.Outcome),
		Window:    r.Window.String(),
		DryRun:    r.DryRun,
		Challenge: r.Challenge.String(),
		Courses:   r.Courses,
		Creates:   r.Creates,
		Deletes:   r.Deletes,
		Unchanged: r.Unchanged,
		Created:   r.Created,
		Deleted:   r.Deleted,
		Failed:    r.Failed,
		Skipped:   r.Skipped,
		Duration:  r.Duration.String(),
	}

	for _, err := range r.Errors {
		out.Errors = append(out.Errors, err.Error())
	}

	return out
}
