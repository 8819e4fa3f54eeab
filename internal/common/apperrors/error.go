// Package apperrors defines the error taxonomy shared by the jellyroller components.
// Every failure that reaches the user implements Error, which carries the HTTP status
// it came from, the process exit status and a follow-up hint. Callers inspect errors
// with errors.As so wrapping with %w keeps the classification intact.
package apperrors

// Error is implemented by every classified jellyroller error.
type Error interface {
	error
	StatusCode() int // HTTP status the error came from, 0 for local failures
	ExitCode() int   // process exit status for the error
	Hint() string    // follow-up suggestion for the user, "" when there is none
}

// Verify that the typed errors implement Error.
var (
	_ Error = &UsageError{}
	_ Error = &NotAuthenticatedError{}
	_ Error = &AuthError{}
	_ Error = &NetworkError{}
	_ Error = &APIError{}
	_ Error = &SessionCorruptError{}
	_ Error = &RenderError{}
)
