package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/timetable-sync/internal/challenge"
)

func newAnswersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "answers",
		Short: "Inspect and seed the challenge answer cache",
	}

	cmd.AddCommand(newAnswersListCmd())
	cmd.AddCommand(newAnswersImportCmd())

	return cmd
}

func newAnswersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached challenge answers",
		RunE:  runAnswersList,
	}
}

func newAnswersImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import answers from a JSON answer file",
		Long: `Import challenge answers from a JSON file of the form

  {"qcmResponses": {"<encoded question>": "<encoded answer>", ...}}

Questions and answers stay in the portal's encoded form. Entries whose
question is already cached with a different answer are reported and left
unchanged.`,
		Args: cobra.ExactArgs(1),
		RunE: runAnswersImport,
	}
}

// answerFile is the on-disk format accepted by `answers import`.
type answerFile struct {
	Responses map[string]string `json:"qcmResponses"`
}

// answerJSON is the JSON schema for `answers list --json`.
type answerJSON struct {
	Question   string `json:"question"`
	Answer     string `json:"answer"`
	Source     string `json:"source"`
	RecordedAt string `json:"recorded_at"`
}

var errEmptyAnswerFile = errors.New("answer file has no qcmResponses entries")

// parseAnswerFile reads and checks an answer file. Every key and value
// must decode; nothing is imported from a file with a bad entry.
func parseAnswerFile(r io.Reader) (map[challenge.Question]challenge.Answer, error) {
	var f answerFile

	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("parsing answer file: %w", err)
	}

	if len(f.Responses) == 0 {
		return nil, errEmptyAnswerFile
	}

	out := make(map[challenge.Question]challenge.Answer, len(f.Responses))

	for q, a := range f.Responses {
		if _, err := challenge.Decode(q); err != nil {
			return nil, fmt.Errorf("question %q: %w", q, err)
		}

		if _, err := challenge.Decode(a); err != nil {
			return nil, fmt.Errorf("answer for %q: %w", q, err)
		}

		out[challenge.Question(q)] = challenge.Answer(a)
	}

	return out, nil
}

func runAnswersImport(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("opening answer file: %w", err)
	}
	defer f.Close()

	entries, err := parseAnswerFile(f)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cc.Logger)
	if err != nil {
		return err
	}
	defer store.Close()

	added, conflicts, err := store.Import(ctx, entries)
	if err != nil {
		return err
	}

	cc.Statusf("Imported %d of %d answers", added, len(entries))

	if conflicts > 0 {
		cc.Statusf(" (%d conflicting with cached answers, left unchanged)", conflicts)
	}

	cc.Statusf(".\n")

	return nil
}

func runAnswersList(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	store, err := openStore(ctx, cc.Logger)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.Answers(ctx)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		out := make([]answerJSON, 0, len(entries))
		for _, e := range entries {
			out = append(out, answerJSON{
				Question:   displayText(string(e.Question)),
				Answer:     displayText(string(e.Answer)),
				Source:     e.Source,
				RecordedAt: e.RecordedAt.UTC().Format(time.RFC3339),
			})
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(out)
	}

	if len(entries) == 0 {
		fmt.Println("No cached answers. Run 'timetable-sync sync' interactively or 'timetable-sync answers import'.")
		return nil
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			truncate(displayText(string(e.Question)), 60),
			truncate(displayText(string(e.Answer)), 40),
			e.Source,
			formatTime(e.RecordedAt),
		})
	}

	printTable(os.Stdout, []string{"QUESTION", "ANSWER", "SOURCE", "RECORDED"}, rows)

	return nil
}
