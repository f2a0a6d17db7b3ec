package config

import (
	"fmt"
	"io"
)

const redacted = "********"

// RenderEffective writes the resolved configuration as a human-readable
// summary to w, after all four override layers have been applied. Secrets
// are masked.
func RenderEffective(cfg *Config, path string, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", path)

	renderPortalSection(ew, &cfg.Portal)
	renderCalendarSection(ew, &cfg.Calendar)
	renderSyncSection(ew, &cfg.Sync)

	ew.printf("[logging]\n")
	ew.printf("  log_level = %q\n", cfg.Logging.LogLevel)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}

	return redacted
}

func renderPortalSection(ew *errWriter, p *PortalConfig) {
	ew.printf("[portal]\n")
	ew.printf("  username               = %q\n", p.Username)
	ew.printf("  password               = %q\n", mask(p.Password))

	if p.UUID != "" {
		ew.printf("  uuid                   = %q\n", p.UUID)
	}

	ew.printf("  base_url               = %q\n", p.BaseURL)
	ew.printf("  timezone               = %q\n", p.Timezone)

	if p.UserAgent != "" {
		ew.printf("  user_agent             = %q\n", p.UserAgent)
	}

	ew.printf("  max_challenge_attempts = %d\n", p.MaxChallengeAttempts)
	ew.printf("  timeout                = %q\n", p.Timeout)
	ew.printf("\n")
}

func renderCalendarSection(ew *errWriter, c *CalendarConfig) {
	ew.printf("[calendar]\n")
	ew.printf("  calendar_id          = %q\n", c.CalendarID)
	ew.printf("  credentials_file     = %q\n", c.CredentialsFile)
	ew.printf("  cancelled_suffix     = %q\n", c.CancelledSuffix)
	ew.printf("  location_placeholder = %q\n", c.LocationPlaceholder)
	ew.printf("  title_case_subjects  = %t\n", c.TitleCaseSubjects)
	ew.printf("  requests_per_second  = %g\n", c.RequestsPerSecond)
	ew.printf("\n")
}

func renderSyncSection(ew *errWriter, s *SyncConfig) {
	ew.printf("[sync]\n")
	ew.printf("  days_to_check            = %d\n", s.DaysToCheck)
	ew.printf("  dry_run                  = %t\n", s.DryRun)
	ew.printf("  schedule                 = %q\n", s.Schedule)
	ew.printf("  max_clean_runs           = %d\n", s.MaxCleanRuns)
	ew.printf("  max_consecutive_failures = %d\n", s.MaxConsecutiveFailures)
	ew.printf("  max_auth_failures        = %d\n", s.MaxAuthFailures)
	ew.printf("  max_runs                 = %d\n", s.MaxRuns)
	ew.printf("\n")
}
