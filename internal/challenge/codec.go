// Package challenge models the portal's two-factor question: the encoded
// question text, the finite set of encoded candidate answers, and the
// reversible text encoding the portal applies to both.
package challenge

import (
	"encoding/base64"
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// ErrInvalidEncoding is returned when an encoded field is not valid base64
// or does not decode to UTF-8 text.
var ErrInvalidEncoding = errors.New("challenge: invalid text encoding")

// Decode reverses the portal's byte-level text encoding (standard base64
// over UTF-8 bytes).
func Decode(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidEncoding, err)
	}

	if !utf8.Valid(raw) {
		return "", fmt.Errorf("%w: decoded bytes are not UTF-8", ErrInvalidEncoding)
	}

	return string(raw), nil
}

// Encode applies the portal's text encoding. Encode(Decode(x)) == x for
// every x the portal produced, because the portal emits canonical padded
// base64.
func Encode(text string) string {
	return base64.StdEncoding.EncodeToString([]byte(text))
}

// Display returns text normalized to NFC for terminal output. Never use the
// result for comparison or submission: the encoded form is the identity.
func Display(text string) string {
	return norm.NFC.String(text)
}
