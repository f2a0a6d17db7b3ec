package config

// Default values for configuration options: layer 0 of the override chain.
const (
	defaultBaseURL              = "https://api.ecoledirecte.com/v3"
	defaultTimezone             = "Europe/Paris"
	defaultMaxChallengeAttempts = 3
	defaultTimeout              = "30s"
	defaultCalendarID           = "primary"
	defaultCancelledSuffix      = " (Annulé)"
	defaultLocationPlaceholder  = "Salle non définie"
	defaultRequestsPerSecond    = 5
	defaultDaysToCheck          = 7
	defaultSchedule             = "*/30 * * * *"
	defaultMaxCleanRuns         = 10
	defaultMaxFailures          = 5
	defaultMaxAuthFailures      = 3
	defaultMaxRuns              = 48
	defaultLogLevel             = "info"
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset fields keep their
// defaults, and the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Portal: PortalConfig{
			BaseURL:              defaultBaseURL,
			Timezone:             defaultTimezone,
			MaxChallengeAttempts: defaultMaxChallengeAttempts,
			Timeout:              defaultTimeout,
		},
		Calendar: CalendarConfig{
			CalendarID:          defaultCalendarID,
			CredentialsFile:     DefaultCredentialsPath(),
			CancelledSuffix:     defaultCancelledSuffix,
			LocationPlaceholder: defaultLocationPlaceholder,
			RequestsPerSecond:   defaultRequestsPerSecond,
		},
		Sync: SyncConfig{
			DaysToCheck:            defaultDaysToCheck,
			Schedule:               defaultSchedule,
			MaxCleanRuns:           defaultMaxCleanRuns,
			MaxConsecutiveFailures: defaultMaxFailures,
			MaxAuthFailures:        defaultMaxAuthFailures,
			MaxRuns:                defaultMaxRuns,
		},
		Logging: LoggingConfig{
			LogLevel: defaultLogLevel,
		},
	}
}
