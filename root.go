package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/timetable-sync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagVerbose    bool
	flagQuiet      bool
	flagJSON       bool
)

// CLIFlags is a snapshot of the persistent flags.
type CLIFlags struct {
	ConfigPath string
	Verbose    bool
	Quiet      bool
	JSON       bool
}

// CLIContext carries the resolved configuration and logger to subcommands
// through the command context.
type CLIContext struct {
	Flags   CLIFlags
	Logger  *slog.Logger
	Cfg     *config.Config
	CfgPath string

	// Overrides are kept so a reload re-applies the same CLI layer.
	Overrides config.CLIOverrides
}

type cliContextKey struct{}

// mustCLIContext returns the CLIContext stored by the root pre-run. It
// panics if called from a command that bypassed the root command.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("BUG: CLIContext missing from command context")
	}

	return cc
}

// Statusf prints a status message to stderr unless quiet mode is set.
func (cc *CLIContext) Statusf(format string, args ...any) {
	statusf(cc.Flags.Quiet, format, args...)
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timetable-sync",
		Short: "Mirror a school portal timetable into Google Calendar",
		Long: `timetable-sync logs into the school portal, answers its two-factor
challenge from a local answer cache, fetches the upcoming timetable and
reconciles it into a Google Calendar. Events it creates carry a marker in
their description; events without the marker are never touched.`,
		Version: version,
		// Errors are printed by main with a consistent prefix.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := loadCLIContext(cmd)
			if err != nil {
				return err
			}

			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "only log errors and suppress status output")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newAnswersCmd())
	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadCLIContext resolves the effective configuration from the four-layer
// override chain and builds the logger.
func loadCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	flags := CLIFlags{
		ConfigPath: flagConfigPath,
		Verbose:    flagVerbose,
		Quiet:      flagQuiet,
		JSON:       flagJSON,
	}

	cli := config.CLIOverrides{ConfigPath: flags.ConfigPath}
	applySyncOverrides(cmd, &cli)

	env := config.ReadEnvOverrides()
	cfgPath := config.ResolvePath(env, cli)

	// Bootstrap logger until the config's log level is known.
	boot := buildLogger("", flags)

	if err := config.LoadDotEnv(cfgPath, boot); err != nil {
		return nil, err
	}

	// The .env file may have set variables.
	env = config.ReadEnvOverrides()

	cfg, err := config.Resolve(env, cli, boot)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return &CLIContext{
		Flags:     flags,
		Logger:    buildLogger(cfg.Logging.LogLevel, flags),
		Cfg:       cfg,
		CfgPath:   cfgPath,
		Overrides: cli,
	}, nil
}

// buildLogger creates an slog.Logger on stderr. The config file's level is
// the baseline; --verbose and --quiet override it.
func buildLogger(configLevel string, flags CLIFlags) *slog.Logger {
	level := slog.LevelInfo

	switch configLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error, code int) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(code)
}
