package apperrors

import (
	"fmt"
	"net/http"
	"strings"
)

// UsageError reports malformed user input. It is detected before any request is made.
type UsageError struct {
	Msg   string // what was wrong with the input
	Usage string // optional follow-up, e.g. the command synopsis
}

func (e *UsageError) Error() string {
	return e.Msg
}

func (e *UsageError) StatusCode() int { return 0 }
func (e *UsageError) ExitCode() int   { return ExitUsage }

func (e *UsageError) Hint() string {
	if e.Usage != "" {
		return e.Usage
	}
	return "run with --help for usage"
}

// Usagef builds a UsageError from a format string.
func Usagef(format string, args ...any) *UsageError {
	return &UsageError{Msg: fmt.Sprintf(format, args...)}
}

// NotAuthenticatedError is returned when a command that needs a session is issued
// while no valid session is loaded.
type NotAuthenticatedError struct {
	Command string
}

func (e *NotAuthenticatedError) Error() string {
	if e.Command == "" {
		return "not authenticated"
	}
	return fmt.Sprintf("not authenticated: %q requires a session", e.Command)
}

func (e *NotAuthenticatedError) StatusCode() int { return 0 }
func (e *NotAuthenticatedError) ExitCode() int   { return ExitNotAuthenticated }

func (e *NotAuthenticatedError) Hint() string {
	return "run 'jellyroller login --server <url> --api-key <key>' first"
}

// AuthError reports that the server rejected the credentials (HTTP 401/403).
// Login is set when the rejected credentials were the ones being logged in with rather
// than a stored session.
type AuthError struct {
	Status  int
	Message string
	Login   bool
}

func (e *AuthError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = strings.ToLower(http.StatusText(e.Status))
	}
	return fmt.Sprintf("authentication failed (HTTP %d): %s", e.Status, msg)
}

func (e *AuthError) StatusCode() int { return e.Status }
func (e *AuthError) ExitCode() int   { return ExitFailure }

func (e *AuthError) Hint() string {
	if e.Login {
		return "check the server URL and the API key, or the username and password"
	}
	return "the stored session is stale; run 'jellyroller login' to re-authenticate"
}

// NetworkError reports an unreachable host, a timeout or a broken transport.
type NetworkError struct {
	Op  string // e.g. "GET https://media.local/Users"
	Err error
}

func (e *NetworkError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("network error: %v", e.Err)
	}
	return fmt.Sprintf("network error: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func (e *NetworkError) StatusCode() int { return 0 }
func (e *NetworkError) ExitCode() int   { return ExitRemote }
func (e *NetworkError) Hint() string    { return "check that the server URL is reachable" }

// APIError is any non-auth HTTP error status returned by the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (e *APIError) StatusCode() int { return e.Status }
func (e *APIError) ExitCode() int   { return ExitRemote }
func (e *APIError) Hint() string    { return "" }

// SessionCorruptError reports a persisted session that cannot be parsed or that
// violates the session invariants.
type SessionCorruptError struct {
	Path string
	Err  error
}

func (e *SessionCorruptError) Error() string {
	return fmt.Sprintf("session file %s is corrupt: %v", e.Path, e.Err)
}

func (e *SessionCorruptError) Unwrap() error {
	return e.Err
}

func (e *SessionCorruptError) StatusCode() int { return 0 }
func (e *SessionCorruptError) ExitCode() int   { return ExitNotAuthenticated }

func (e *SessionCorruptError) Hint() string {
	return "the stored session was discarded; run 'jellyroller login' again"
}

// RenderError reports a response body that does not satisfy the minimal schema of the
// command it answers. Raw carries the body so it can still be shown.
type RenderError struct {
	Command string
	Reason  string
	Raw     []byte
}

func (e *RenderError) Error() string {
	if e.Command == "" {
		return "unexpected response: " + e.Reason
	}
	return fmt.Sprintf("unexpected response for %q: %s", e.Command, e.Reason)
}

func (e *RenderError) StatusCode() int { return 0 }
func (e *RenderError) ExitCode() int   { return ExitRender }
func (e *RenderError) Hint() string    { return "the raw response is shown above" }
