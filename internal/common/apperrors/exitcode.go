package apperrors

import "errors"

// Process exit codes.
const (
	ExitOK               = 0
	ExitFailure          = 1 // AuthError and anything unclassified
	ExitUsage            = 2
	ExitRemote           = 3 // NetworkError, APIError
	ExitNotAuthenticated = 4 // also used when a corrupt session was discarded
	ExitRender           = 5
)

// ExitCode maps an error to the exit status of the process. The outermost classified
// error in the chain decides.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var appErr Error
	if errors.As(err, &appErr) {
		return appErr.ExitCode()
	}
	return ExitFailure
}

// Hint returns a follow-up suggestion for the user, or "" when there is none.
func Hint(err error) string {
	var appErr Error
	if errors.As(err, &appErr) {
		return appErr.Hint()
	}
	return ""
}

// StatusCode returns the HTTP status an error came from, or 0.
func StatusCode(err error) int {
	var appErr Error
	if errors.As(err, &appErr) {
		return appErr.StatusCode()
	}
	return 0
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}
