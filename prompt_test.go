package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/timetable-sync/internal/challenge"
)

func testChallenge() challenge.Challenge {
	return challenge.Challenge{
		Question: challenge.Question(challenge.Encode("Quelle est votre année de naissance ?")),
		Options: []challenge.Answer{
			challenge.Answer(challenge.Encode("2008")),
			challenge.Answer(challenge.Encode("2009")),
			challenge.Answer(challenge.Encode("2010")),
		},
	}
}

func TestPromptAnswerer_PicksOption(t *testing.T) {
	var out bytes.Buffer

	p := newPromptAnswerer(strings.NewReader("2\n"), &out)

	a, err := p.Answer(t.Context(), testChallenge())
	require.NoError(t, err)

	assert.Equal(t, challenge.Answer(challenge.Encode("2009")), a)
	assert.Contains(t, out.String(), "Quelle est votre année de naissance ?")
	assert.Contains(t, out.String(), " 3) 2010")
}

func TestPromptAnswerer_RetriesBadInput(t *testing.T) {
	var out bytes.Buffer

	p := newPromptAnswerer(strings.NewReader("abc\n7\n3\n"), &out)

	a, err := p.Answer(t.Context(), testChallenge())
	require.NoError(t, err)

	assert.Equal(t, challenge.Answer(challenge.Encode("2010")), a)
	assert.Contains(t, out.String(), "Please enter a number.")
	assert.Contains(t, out.String(), "between 1 and 3")
}

func TestPromptAnswerer_GivesUp(t *testing.T) {
	p := newPromptAnswerer(strings.NewReader("x\ny\nz\n1\n"), io.Discard)

	_, err := p.Answer(t.Context(), testChallenge())
	assert.ErrorIs(t, err, errNoAnswer)
}

func TestPromptAnswerer_EOF(t *testing.T) {
	p := newPromptAnswerer(strings.NewReader(""), io.Discard)

	_, err := p.Answer(t.Context(), testChallenge())
	assert.ErrorIs(t, err, io.EOF)
}

func TestPromptAnswerer_LastLineWithoutNewline(t *testing.T) {
	p := newPromptAnswerer(strings.NewReader("1"), io.Discard)

	a, err := p.Answer(t.Context(), testChallenge())
	require.NoError(t, err)
	assert.Equal(t, challenge.Answer(challenge.Encode("2008")), a)
}

func TestPromptAnswerer_Canceled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	p := newPromptAnswerer(pr, io.Discard)

	_, err := p.Answer(ctx, testChallenge())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPromptAnswerer_ReusableAfterCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	p := newPromptAnswerer(pr, io.Discard)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := p.Answer(ctx, testChallenge())
	require.ErrorIs(t, err, context.Canceled)

	go func() {
		_, _ = pw.Write([]byte("3\n"))
	}()

	a, err := p.Answer(t.Context(), testChallenge())
	require.NoError(t, err)
	assert.Equal(t, challenge.Answer(challenge.Encode("2010")), a)
}

func TestDisplayText(t *testing.T) {
	assert.Equal(t, "Année", displayText(challenge.Encode("Année")))
	assert.Equal(t, "not base64!", displayText("not base64!"))
}
