// Package portal talks to the school portal's REST dialect: the
// credential login, the two-factor challenge exchange, the assertion
// re-login and the per-student timetable endpoint.
package portal

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is(err, portal.ErrAuth) to check a class.
var (
	// ErrAuth is the class of every authentication failure. Fatal to a run.
	ErrAuth = errors.New("portal: authentication failed")

	ErrBadCredentials    = fmt.Errorf("%w: credentials rejected", ErrAuth)
	ErrChallengeRejected = fmt.Errorf("%w: challenge answer rejected", ErrAuth)
	ErrChallengeNeeded   = fmt.Errorf("%w: challenge answer needed", ErrAuth)
	ErrAssertionMissing  = fmt.Errorf("%w: federation assertion missing", ErrAuth)
	ErrNoStudentAccount  = fmt.Errorf("%w: no unique student account", ErrAuth)

	// ErrChallengeDataMissing means the challenge arrived without options
	// and no cached answer exists.
	ErrChallengeDataMissing = errors.New("portal: challenge has no options")

	// ErrTransport wraps network and timeout failures.
	ErrTransport = errors.New("portal: transport failure")

	// ErrMalformedResponse means the body could not be decoded or lacks a
	// field the protocol requires.
	ErrMalformedResponse = errors.New("portal: malformed response")

	// ErrScheduleFetch is the class of timetable retrieval failures.
	ErrScheduleFetch = errors.New("portal: schedule fetch failed")

	// ErrScheduleData means a timetable record misses a required field.
	ErrScheduleData = fmt.Errorf("%w: invalid schedule data", ErrScheduleFetch)
)

// PortalError carries the status code and message the portal returned in
// its response envelope.
type PortalError struct {
	Code    int
	Message string
	Err     error // sentinel, for errors.Is()
}

func (e *PortalError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%v (code %d: %s)", e.Err, e.Code, e.Message)
	}

	return fmt.Sprintf("%v (code %d)", e.Err, e.Code)
}

func (e *PortalError) Unwrap() error {
	return e.Err
}

// Envelope status codes used by the portal.
const (
	codeOK                = 200
	codeChallengeRequired = 250
	codeBadCredentials    = 505
	codeTokenInvalid      = 520
	codeTokenExpired      = 525
)

// isTokenRejected reports whether an envelope code means the bearer token
// is no longer accepted.
func isTokenRejected(code int) bool {
	return code == codeTokenInvalid || code == codeTokenExpired
}
