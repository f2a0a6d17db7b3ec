package challenge

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Question is an encoded challenge question as received from the portal.
// Its encoded form is its identity and the cache key.
type Question string

// Answer is one encoded candidate answer.
type Answer string

// Text decodes the question for display.
func (q Question) Text() (string, error) {
	return Decode(string(q))
}

// Fingerprint returns a short stable digest of the question, safe to log.
func (q Question) Fingerprint() string {
	return fingerprint(string(q))
}

// Text decodes the answer for display.
func (a Answer) Text() (string, error) {
	return Decode(string(a))
}

// Fingerprint returns a short stable digest of the answer, safe to log.
func (a Answer) Fingerprint() string {
	return fingerprint(string(a))
}

// Challenge is a question with the options the portal offered for it.
type Challenge struct {
	Question Question
	Options  []Answer
}

// Has reports whether a is one of the offered options.
func (c Challenge) Has(a Answer) bool {
	for _, o := range c.Options {
		if o == a {
			return true
		}
	}

	return false
}

// Option returns the option at the 1-based index shown to users.
func (c Challenge) Option(n int) (Answer, error) {
	if n < 1 || n > len(c.Options) {
		return "", fmt.Errorf("challenge: option %d out of range 1..%d", n, len(c.Options))
	}

	return c.Options[n-1], nil
}

const fingerprintBytes = 6

func fingerprint(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:fingerprintBytes])
}
