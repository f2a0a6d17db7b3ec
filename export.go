package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/timetable-sync/internal/ics"
	"github.com/tonimelisma/timetable-sync/internal/sync"
)

const exportCalendarName = "Timetable"

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the portal timetable as an iCalendar file",
		Long: `Log into the portal, fetch the timetable for the configured window and
write it as an iCalendar (.ics) file. Google Calendar is not contacted.
Events carry the same titles, locations and markers a sync would create.`,
		RunE: runExport,
	}

	cmd.Flags().StringP("out", "o", "", "output file (default stdout)")
	cmd.Flags().Int("days", 0, "number of days after today to export")
	cmd.Flags().Bool("no-prompt", false, "never ask for challenge answers on the terminal")

	return cmd
}

func runExport(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger
	ctx := shutdownContext(cmd.Context(), logger)

	outPath, err := cmd.Flags().GetString("out")
	if err != nil {
		return err
	}

	noPrompt, err := cmd.Flags().GetBool("no-prompt")
	if err != nil {
		return err
	}

	store, err := openStore(ctx, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	p, err := newPortal(cc.Cfg, store, chooseAnswerer(noPrompt), logger)
	if err != nil {
		return err
	}

	id, err := p.session.Authenticate(ctx)
	if err != nil {
		return err
	}

	loc := cc.Cfg.Portal.Location()
	window := sync.NewWindow(time.Now(), cc.Cfg.Sync.DaysToCheck, loc)

	courses, err := p.timetable.Fetch(ctx, id.Token, id.Student.ID, window.Start, window.End)
	if err != nil {
		return err
	}

	exporter := ics.NewExporter(newMapper(cc.Cfg), exportCalendarName, loc)

	var w io.Writer = os.Stdout

	if outPath != "" {
		f, createErr := os.Create(outPath)
		if createErr != nil {
			return fmt.Errorf("creating %s: %w", outPath, createErr)
		}
		defer f.Close()

		w = f
	}

	if err := exporter.Write(w, courses); err != nil {
		return fmt.Errorf("writing calendar: %w", err)
	}

	if outPath != "" {
		cc.Statusf("Exported %d courses (%s) to %s\n", len(courses), window, outPath)
	}

	return nil
}
