package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/timetable-sync/internal/config"
	"github.com/tonimelisma/timetable-sync/internal/state"
	"github.com/tonimelisma/timetable-sync/internal/tokenfile"
)

// Token state constants for status reporting.
const (
	tokenStateMissing = "missing"
	tokenStateExpired = "expired"
	tokenStateValid   = "valid"
	tokenStateInvalid = "unreadable"
)

const statusRunLimit = 10

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show login state, cached answers and recent runs",
		Long: `Display the calendar token state, the number of cached challenge
answers, whether a sync is currently running, and the most recent runs.`,
		RunE: runStatus,
	}

	cmd.Flags().Int("runs", statusRunLimit, "number of recent runs to show")

	return cmd
}

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	ConfigPath string          `json:"config_path"`
	CalendarID string          `json:"calendar_id"`
	TokenState string          `json:"token_state"`
	Answers    int             `json:"cached_answers"`
	RunningPID int             `json:"running_pid,omitempty"`
	Runs       []statusRunJSON `json:"runs"`
}

type statusRunJSON struct {
	ID        string `json:"id"`
	StartedAt string `json:"started_at"`
	Outcome   string `json:"outcome"`
	Window    string `json:"window"`
	Challenge string `json:"challenge"`
	Created   int    `json:"created"`
	Deleted   int    `json:"deleted"`
	Unchanged int    `json:"unchanged"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	limit, err := cmd.Flags().GetInt("runs")
	if err != nil {
		return err
	}

	out := statusOutput{
		ConfigPath: cc.CfgPath,
		CalendarID: cc.Cfg.Calendar.CalendarID,
		TokenState: checkTokenState(config.TokenPath(), time.Now(), cc.Logger),
		RunningPID: runningPID(config.PIDPath()),
	}

	store, err := openStore(ctx, cc.Logger)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := loadStatus(ctx, store, limit, &out)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		for i := range runs {
			out.Runs = append(out.Runs, newStatusRunJSON(&runs[i]))
		}

		if out.Runs == nil {
			out.Runs = []statusRunJSON{}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("encoding JSON output: %w", err)
		}

		return nil
	}

	printStatusText(os.Stdout, &out, runs)

	return nil
}

func loadStatus(ctx context.Context, store *state.Store, limit int, out *statusOutput) ([]state.RunRecord, error) {
	answers, err := store.Answers(ctx)
	if err != nil {
		return nil, err
	}

	out.Answers = len(answers)

	if limit <= 0 {
		return nil, nil
	}

	return store.RecentRuns(ctx, limit)
}

// checkTokenState inspects the saved calendar token without contacting
// Google. A token with a refresh token never counts as expired: the next
// run refreshes it.
func checkTokenState(path string, now time.Time, logger *slog.Logger) string {
	if path == "" {
		return tokenStateMissing
	}

	tf, err := tokenfile.Load(path)
	if err != nil {
		if errors.Is(err, tokenfile.ErrNotLoggedIn) {
			return tokenStateMissing
		}

		logger.Debug("could not read token for status", slog.String("error", err.Error()))

		return tokenStateInvalid
	}

	if tf.Token.RefreshToken != "" {
		return tokenStateValid
	}

	if !tf.Token.Expiry.IsZero() && now.After(tf.Token.Expiry) {
		return tokenStateExpired
	}

	return tokenStateValid
}

func newStatusRunJSON(r *state.RunRecord) statusRunJSON {
	return statusRunJSON{
		ID:        r.ID,
		StartedAt: r.StartedAt.UTC().Format(time.RFC3339),
		Outcome:   r.Outcome,
		Window:    r.WindowStart + ".." + r.WindowEnd,
		Challenge: r.Challenge,
		Created:   r.Created,
		Deleted:   r.Deleted,
		Unchanged: r.Unchanged,
		Failed:    r.Failed,
		Error:     r.Error,
	}
}

func printStatusText(w io.Writer, out *statusOutput, runs []state.RunRecord) {
	fmt.Fprintf(w, "Config:   %s\n", out.ConfigPath)
	fmt.Fprintf(w, "Calendar: %s\n", out.CalendarID)
	fmt.Fprintf(w, "Token:    %s\n", out.TokenState)
	fmt.Fprintf(w, "Answers:  %d cached\n", out.Answers)

	if out.RunningPID > 0 {
		fmt.Fprintf(w, "Running:  yes (pid %d)\n", out.RunningPID)
	} else {
		fmt.Fprintf(w, "Running:  no\n")
	}

	if len(runs) == 0 {
		fmt.Fprintln(w, "\nNo runs recorded yet.")
		return
	}

	fmt.Fprintln(w)

	rows := make([][]string, 0, len(runs))
	for i := range runs {
		r := &runs[i]
		rows = append(rows, []string{
			formatTime(r.StartedAt),
			r.Outcome,
			r.WindowStart + ".." + r.WindowEnd,
			r.Challenge,
			strconv.Itoa(r.Created),
			strconv.Itoa(r.Deleted),
			strconv.Itoa(r.Failed),
			truncate(r.Error, 50),
		})
	}

	printTable(w, []string{"STARTED", "OUTCOME", "WINDOW", "CHALLENGE", "CREATED", "DELETED", "FAILED", "ERROR"}, rows)
}
