package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal errors with "did you mean?"
// suggestions.
func Load(path string, logger *slog.Logger) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	cfg.Calendar.CredentialsFile = expandTilde(cfg.Calendar.CredentialsFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	logger.Debug("config file loaded", slog.String("path", path))

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string, logger *slog.Logger) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Debug("no config file, using defaults", slog.String("path", path))
		return DefaultConfig(), nil
	}

	return Load(path, logger)
}

// ResolvePath picks the config file path: CLI > env > default.
func ResolvePath(env EnvOverrides, cli CLIOverrides) string {
	switch {
	case cli.ConfigPath != "":
		return expandTilde(cli.ConfigPath)
	case env.ConfigPath != "":
		return expandTilde(env.ConfigPath)
	default:
		return DefaultConfigPath()
	}
}

// Resolve loads configuration and applies the four-layer override chain:
// defaults -> config file -> environment variables -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) (*Config, error) {
	cfg, err := LoadOrDefault(ResolvePath(env, cli), logger)
	if err != nil {
		return nil, err
	}

	if env.Username != "" {
		cfg.Portal.Username = env.Username
	}

	if env.Password != "" {
		cfg.Portal.Password = env.Password
	}

	if env.CalendarID != "" {
		cfg.Calendar.CalendarID = env.CalendarID
	}

	if cli.DryRun != nil {
		cfg.Sync.DryRun = *cli.DryRun
	}

	if cli.DaysToCheck != nil {
		cfg.Sync.DaysToCheck = *cli.DaysToCheck
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}
