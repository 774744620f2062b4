package nationbuilder

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrNotInstalled means no active installation exists for the nation.
// Callers should send the user back into the install flow.
var ErrNotInstalled = errors.New("nation not installed")

// ErrMalformedResponse means the token endpoint answered 2xx but the body
// was missing required fields.
var ErrMalformedResponse = errors.New("malformed token response")

// TokenExchangeError is a non-2xx answer from the token endpoint.
type TokenExchangeError struct {
	Status int
	Body   string
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("token endpoint returned %d: %s", e.Status, e.Body)
}

// APIError is a non-auth failure from the resource API, surfaced verbatim.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api request failed: %d: %s", e.Status, e.Body)
}

// maxErrorBody bounds response bodies embedded in errors so logs stay
// readable and never carry full payloads.
const maxErrorBody = 512

func truncateBody(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= maxErrorBody {
		return s
	}

	// Back up to a rune boundary so the cut never splits a multi-byte
	// character.
	cut := maxErrorBody
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
