package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/robfig/cron/v3"
)

// Validation range constants.
const (
	minTimeout        = 1 * time.Second
	maxDaysToCheck    = 60
	maxChallengeTries = 10
)

// ErrMissingCredentials means the portal login is not configured.
var ErrMissingCredentials = errors.New("portal credentials not configured")

// Validate checks all configuration values and returns all errors found,
// so users can fix every issue in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validatePortal(&cfg.Portal)...)
	errs = append(errs, validateCalendar(&cfg.Calendar)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateLogLevel(cfg.Logging.LogLevel)...)

	return errors.Join(errs...)
}

// ValidateCredentials checks that the portal username and password are
// set. Only commands that talk to the portal need them.
func ValidateCredentials(cfg *Config) error {
	var errs []error

	if cfg.Portal.Username == "" {
		errs = append(errs, fmt.Errorf("%w: portal.username (or %s) is empty", ErrMissingCredentials, EnvUsername))
	}

	if cfg.Portal.Password == "" {
		errs = append(errs, fmt.Errorf("%w: portal.password (or %s) is empty", ErrMissingCredentials, EnvPassword))
	}

	return errors.Join(errs...)
}

func validatePortal(p *PortalConfig) []error {
	var errs []error

	u, err := url.Parse(p.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("portal.base_url: must be an absolute http(s) URL, got %q", p.BaseURL))
	}

	// Event times carry this name to Google Calendar, which only accepts
	// IANA names; "Local" loads here but is not one.
	if _, err := time.LoadLocation(p.Timezone); err != nil || p.Timezone == "" || p.Timezone == "Local" {
		errs = append(errs, fmt.Errorf("portal.timezone: unknown timezone %q", p.Timezone))
	}

	if p.MaxChallengeAttempts < 1 || p.MaxChallengeAttempts > maxChallengeTries {
		errs = append(errs, fmt.Errorf("portal.max_challenge_attempts: must be between 1 and %d, got %d",
			maxChallengeTries, p.MaxChallengeAttempts))
	}

	errs = append(errs, validateDurationMin("portal.timeout", p.Timeout, minTimeout)...)

	return errs
}

func validateCalendar(c *CalendarConfig) []error {
	var errs []error

	if c.CalendarID == "" {
		errs = append(errs, errors.New("calendar.calendar_id: must not be empty"))
	}

	if c.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("calendar.requests_per_second: must be >= 0, got %g", c.RequestsPerSecond))
	}

	return errs
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	if s.DaysToCheck < 0 || s.DaysToCheck > maxDaysToCheck {
		errs = append(errs, fmt.Errorf("sync.days_to_check: must be between 0 and %d, got %d",
			maxDaysToCheck, s.DaysToCheck))
	}

	if _, err := cron.ParseStandard(s.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("sync.schedule: invalid cron expression %q: %w", s.Schedule, err))
	}

	positive := []struct {
		field string
		value int
	}{
		{"sync.max_clean_runs", s.MaxCleanRuns},
		{"sync.max_consecutive_failures", s.MaxConsecutiveFailures},
		{"sync.max_auth_failures", s.MaxAuthFailures},
		{"sync.max_runs", s.MaxRuns},
	}

	for _, p := range positive {
		if p.value < 1 {
			errs = append(errs, fmt.Errorf("%s: must be >= 1, got %d", p.field, p.value))
		}
	}

	return errs
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)}
	}

	return nil
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}
