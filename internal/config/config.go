// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for timetable-sync. It supports a
// four-layer override chain (defaults -> config file -> environment -> CLI
// flags).
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Portal   PortalConfig   `toml:"portal"`
	Calendar CalendarConfig `toml:"calendar"`
	Sync     SyncConfig     `toml:"sync"`
	Logging  LoggingConfig  `toml:"logging"`
}

// PortalConfig holds the school portal account and transport settings.
type PortalConfig struct {
	Username             string `toml:"username"`
	Password             string `toml:"password"`
	UUID                 string `toml:"uuid"`
	BaseURL              string `toml:"base_url"`
	Timezone             string `toml:"timezone"`
	UserAgent            string `toml:"user_agent"`
	MaxChallengeAttempts int    `toml:"max_challenge_attempts"`
	Timeout              string `toml:"timeout"`
}

// CalendarConfig selects the target calendar and controls how sessions are
// rendered as events.
type CalendarConfig struct {
	CalendarID          string  `toml:"calendar_id"`
	CredentialsFile     string  `toml:"credentials_file"`
	CancelledSuffix     string  `toml:"cancelled_suffix"`
	LocationPlaceholder string  `toml:"location_placeholder"`
	TitleCaseSubjects   bool    `toml:"title_case_subjects"`
	RequestsPerSecond   float64 `toml:"requests_per_second"`
}

// SyncConfig controls the run window and the supervised loop.
type SyncConfig struct {
	DaysToCheck            int    `toml:"days_to_check"`
	DryRun                 bool   `toml:"dry_run"`
	Schedule               string `toml:"schedule"`
	MaxCleanRuns           int    `toml:"max_clean_runs"`
	MaxConsecutiveFailures int    `toml:"max_consecutive_failures"`
	MaxAuthFailures        int    `toml:"max_auth_failures"`
	MaxRuns                int    `toml:"max_runs"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel string `toml:"log_level"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value": --dry-run=false is different from
// not passing --dry-run at all.
type CLIOverrides struct {
	ConfigPath  string // --config flag (empty = use default)
	DryRun      *bool  // --dry-run flag
	DaysToCheck *int   // --days flag
}

// Location returns the portal timezone. Validate guarantees it loads;
// time.Local is returned otherwise.
func (p *PortalConfig) Location() *time.Location {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil || p.Timezone == "" {
		return time.Local
	}

	return loc
}

// TimeoutDuration returns the portal HTTP timeout.
func (p *PortalConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(p.Timeout)
	if err != nil {
		return 0
	}

	return d
}
