package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"

	"github.com/tonimelisma/timetable-sync/internal/challenge"
)

const maxPromptTries = 3

var errNoAnswer = errors.New("no valid answer entered")

// isInteractive reports whether stdin is a terminal a user can answer from.
func isInteractive() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// promptAnswerer asks the user to pick one of the challenge options on a
// terminal. It satisfies portal.Answerer. A single goroutine owns the
// input reader, so a prompt abandoned on cancellation leaves no second
// reader behind for the next one.
type promptAnswerer struct {
	in  *bufio.Reader
	out io.Writer

	start sync.Once
	lines chan lineResult
}

type lineResult struct {
	line string
	err  error
}

func newPromptAnswerer(in io.Reader, out io.Writer) *promptAnswerer {
	return &promptAnswerer{
		in:    bufio.NewReader(in),
		out:   out,
		lines: make(chan lineResult),
	}
}

func (p *promptAnswerer) Answer(ctx context.Context, c challenge.Challenge) (challenge.Answer, error) {
	fmt.Fprintf(p.out, "\nThe portal asks a security question:\n  %s\n\n", displayText(string(c.Question)))

	for i, opt := range c.Options {
		fmt.Fprintf(p.out, "  %2d) %s\n", i+1, displayText(string(opt)))
	}

	for range maxPromptTries {
		fmt.Fprintf(p.out, "\nAnswer [1-%d]: ", len(c.Options))

		line, err := p.readLine(ctx)
		if err != nil {
			return "", err
		}

		n, convErr := strconv.Atoi(strings.TrimSpace(line))
		if convErr != nil {
			fmt.Fprintf(p.out, "Please enter a number.\n")
			continue
		}

		answer, optErr := c.Option(n)
		if optErr != nil {
			fmt.Fprintf(p.out, "Please enter a number between 1 and %d.\n", len(c.Options))
			continue
		}

		return answer, nil
	}

	return "", errNoAnswer
}

// readLine reads one line, giving up when ctx is canceled. A line still
// pending at cancellation goes to the next call.
func (p *promptAnswerer) readLine(ctx context.Context) (string, error) {
	p.start.Do(func() { go p.readLines() })

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r, ok := <-p.lines:
		if !ok {
			return "", fmt.Errorf("reading answer: %w", io.EOF)
		}

		if r.err != nil {
			return "", fmt.Errorf("reading answer: %w", r.err)
		}

		return r.line, nil
	}
}

// readLines feeds p.lines until the input fails, then closes it.
func (p *promptAnswerer) readLines() {
	defer close(p.lines)

	for {
		line, err := p.in.ReadString('\n')
		if errors.Is(err, io.EOF) && line != "" {
			err = nil
		}

		p.lines <- lineResult{line, err}

		if err != nil {
			return
		}
	}
}

// displayText decodes an encoded portal string for the terminal, falling
// back to the raw form when it does not decode.
func displayText(encoded string) string {
	text, err := challenge.Decode(encoded)
	if err != nil {
		return encoded
	}

	return challenge.Display(text)
}
