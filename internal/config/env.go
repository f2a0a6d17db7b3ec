package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Environment variable names for overrides.
const (
	EnvConfig     = "TIMETABLE_SYNC_CONFIG"
	EnvUsername   = "TIMETABLE_SYNC_USERNAME"
	EnvPassword   = "TIMETABLE_SYNC_PASSWORD"
	EnvCalendarID = "TIMETABLE_SYNC_CALENDAR_ID"
)

// dotEnvFileName is loaded from the config file's directory.
const dotEnvFileName = ".env"

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // TIMETABLE_SYNC_CONFIG: override config file path
	Username   string // TIMETABLE_SYNC_USERNAME: portal login
	Password   string // TIMETABLE_SYNC_PASSWORD: portal password
	CalendarID string // TIMETABLE_SYNC_CALENDAR_ID: target calendar
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		Username:   os.Getenv(EnvUsername),
		Password:   os.Getenv(EnvPassword),
		CalendarID: os.Getenv(EnvCalendarID),
	}
}

// LoadDotEnv loads a .env file sitting next to the config file into the
// process environment. Variables already set are not overwritten. A
// missing file is not an error.
func LoadDotEnv(configPath string, logger *slog.Logger) error {
	if configPath == "" {
		return nil
	}

	path := filepath.Join(filepath.Dir(configPath), dotEnvFileName)

	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("loading %s: %w", path, err)
	}

	logger.Debug("loaded environment file", slog.String("path", path))

	return nil
}
