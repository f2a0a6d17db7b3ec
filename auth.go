package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/timetable-sync/internal/calendar"
	"github.com/tonimelisma/timetable-sync/internal/config"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authorize access to Google Calendar",
		Long: `Open the Google consent page in a browser and save the resulting token.

The OAuth client comes from the credentials file set by
calendar.credentials_file. The token is stored in the data directory and
refreshed automatically by later runs.`,
		RunE: runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved Google Calendar token",
		RunE:  runLogout,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger
	ctx := shutdownContext(cmd.Context(), logger)

	tokenPath := config.TokenPath()
	if tokenPath == "" {
		return errors.New("cannot determine token path: HOME is not set")
	}

	oauthCfg, err := calendar.OAuthConfig(cc.Cfg.Calendar.CredentialsFile, tokenPath, logger)
	if err != nil {
		return err
	}

	// The consent URL must always be visible, even with --quiet.
	fmt.Fprintln(os.Stderr, "Opening the Google consent page in your browser...")

	if _, err := calendar.LoginWithBrowser(ctx, oauthCfg, tokenPath, openBrowser, logger); err != nil {
		return err
	}

	cc.Statusf("Login successful.\n")

	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	tokenPath := config.TokenPath()
	if tokenPath == "" {
		return errors.New("cannot determine token path: HOME is not set")
	}

	if err := calendar.Logout(tokenPath, cc.Logger); err != nil {
		return err
	}

	cc.Statusf("Logged out.\n")

	return nil
}

// openBrowser launches the platform URL opener.
func openBrowser(url string) error {
	var name string

	switch runtime.GOOS {
	case "darwin":
		name = "open"
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		name = "xdg-open"
	}

	return exec.Command(name, url).Start()
}
