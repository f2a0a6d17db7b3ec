package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/timetable-sync/internal/challenge"
	"github.com/tonimelisma/timetable-sync/internal/state"
)

func TestParseAnswerFile(t *testing.T) {
	q := challenge.Encode("Quel est votre prénom ?")
	a := challenge.Encode("Léa")

	entries, err := parseAnswerFile(strings.NewReader(`{"qcmResponses": {"` + q + `": "` + a + `"}}`))
	require.NoError(t, err)

	assert.Equal(t, map[challenge.Question]challenge.Answer{
		challenge.Question(q): challenge.Answer(a),
	}, entries)
}

func TestParseAnswerFile_Errors(t *testing.T) {
	good := challenge.Encode("ok")

	tests := []struct {
		name string
		body string
		want string
	}{
		{"not json", `qcmResponses`, "parsing answer file"},
		{"empty", `{"qcmResponses": {}}`, "no qcmResponses"},
		{"missing key", `{"other": 1}`, "no qcmResponses"},
		{"bad question", `{"qcmResponses": {"%%%": "` + good + `"}}`, "question"},
		{"bad answer", `{"qcmResponses": {"` + good + `": "%%%"}}`, "answer for"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseAnswerFile(strings.NewReader(tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestAnswersImport_SeedsStore(t *testing.T) {
	home := isolateEnv(t)

	q := challenge.Encode("Quelle est votre ville de naissance ?")
	a := challenge.Encode("Lyon")

	file := filepath.Join(home, "const.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"qcmResponses": {"`+q+`": "`+a+`"}}`), 0o600))

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--quiet", "--config", filepath.Join(home, "absent.toml"), "answers", "import", file})
	require.NoError(t, cmd.Execute())

	store, err := openStore(t.Context(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	got, ok, err := store.Lookup(t.Context(), challenge.Question(q))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, challenge.Answer(a), got)

	entries, err := store.Answers(t.Context())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, state.SourceImported, entries[0].Source)
}
