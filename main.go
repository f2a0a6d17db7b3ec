package main

import (
	"errors"
)

// Exit codes.
const (
	exitFailure = 1
	exitPartial = 2 // --strict run finished with calendar failures
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if errors.Is(err, errPartialRun) {
			exitOnError(err, exitPartial)
		}

		exitOnError(err, exitFailure)
	}
}
