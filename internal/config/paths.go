package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Platform identifiers.
const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// Application directory name used across all platforms.
const appName = "timetable-sync"

// File names inside the config and data directories.
const (
	configFileName      = "config.toml"
	credentialsFileName = "credentials.json"
	stateFileName       = "state.db"
	tokenFileName       = "token.json"
	pidFileName         = "timetable-sync.pid"
)

// DefaultConfigDir returns the platform-specific directory for config files.
// On Linux, respects XDG_CONFIG_HOME (defaults to ~/.config/timetable-sync).
// On macOS, uses ~/Library/Application Support/timetable-sync.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir("XDG_CONFIG_HOME", home, ".config")
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

// DefaultDataDir returns the platform-specific directory for the state
// database, the OAuth token and the PID file.
// On Linux, respects XDG_DATA_HOME (defaults to ~/.local/share/timetable-sync).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir("XDG_DATA_HOME", home, filepath.Join(".local", "share"))
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".local", "share", appName)
	}
}

func xdgDir(envVar, home, fallback string) string {
	if xdg := os.Getenv(envVar); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, fallback, appName)
}

func inDir(dir, name string) string {
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, name)
}

// DefaultConfigPath returns the full path to the default config file, used
// when neither TIMETABLE_SYNC_CONFIG nor --config is specified.
func DefaultConfigPath() string {
	return inDir(DefaultConfigDir(), configFileName)
}

// DefaultCredentialsPath returns the default location of the Google OAuth
// client secret JSON.
func DefaultCredentialsPath() string {
	return inDir(DefaultConfigDir(), credentialsFileName)
}

// StatePath returns the SQLite state database path.
func StatePath() string {
	return inDir(DefaultDataDir(), stateFileName)
}

// TokenPath returns the calendar OAuth token file path.
func TokenPath() string {
	return inDir(DefaultDataDir(), tokenFileName)
}

// PIDPath returns the path of the PID file that serializes sync runs.
func PIDPath() string {
	return inDir(DefaultDataDir(), pidFileName)
}

// expandTilde replaces a leading "~/" with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[2:])
}
