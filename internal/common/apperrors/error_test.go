package apperrors

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"usage", Usagef("bad flag %q", "--x"), ExitUsage},
		{"not authenticated", &NotAuthenticatedError{Command: "users list"}, ExitNotAuthenticated},
		{"corrupt session", &SessionCorruptError{Path: "/tmp/s.yaml", Err: fmt.Errorf("yaml")}, ExitNotAuthenticated},
		{"auth", &AuthError{Status: http.StatusForbidden}, ExitFailure},
		{"network", &NetworkError{Op: "GET /Users", Err: context.DeadlineExceeded}, ExitRemote},
		{"api", &APIError{Status: http.StatusNotFound, Message: "no such user"}, ExitRemote},
		{"render", &RenderError{Command: "users list", Reason: "missing Name"}, ExitRender},
		{"wrapped api", fmt.Errorf("list users: %w", &APIError{Status: 500}), ExitRemote},
		{"usage wrapping api", &UsageError{Msg: fmt.Sprintf("%v", &APIError{Status: 500})}, ExitUsage},
		{"outermost wins", fmt.Errorf("entry 2: %w", Usagef("bad name")), ExitUsage},
		{"plain", fmt.Errorf("boom"), ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "authentication failed (HTTP 401): unauthorized", (&AuthError{Status: 401}).Error())
	assert.Equal(t, "server returned 500 Internal Server Error", (&APIError{Status: 500}).Error())
	assert.Equal(t, "server returned 400: bad id", (&APIError{Status: 400, Message: "bad id"}).Error())
	assert.Equal(t, `not authenticated: "users list" requires a session`, (&NotAuthenticatedError{Command: "users list"}).Error())
	assert.ErrorIs(t, &NetworkError{Err: context.Canceled}, context.Canceled)
}

func TestHint(t *testing.T) {
	assert.Contains(t, Hint(&NotAuthenticatedError{}), "login")
	assert.Contains(t, Hint(&AuthError{Status: 403}), "stale")
	assert.NotContains(t, Hint(&AuthError{Status: 401, Login: true}), "stale")
	assert.Equal(t, "run with --help for usage", Hint(Usagef("x")))
	assert.Equal(t, "usage: users get <id>", Hint(&UsageError{Msg: "x", Usage: "usage: users get <id>"}))
	assert.Empty(t, Hint(&APIError{Status: 500}))
	assert.Empty(t, Hint(fmt.Errorf("other")))
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, 403, StatusCode(fmt.Errorf("users list: %w", &AuthError{Status: 403})))
	assert.Equal(t, 404, StatusCode(&APIError{Status: 404}))
	assert.Zero(t, StatusCode(&NetworkError{Err: context.Canceled}))
	assert.Zero(t, StatusCode(fmt.Errorf("other")))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(fmt.Errorf("wrapped: %w", &NetworkError{Err: context.DeadlineExceeded})))
	assert.False(t, IsTransient(&APIError{Status: 503}))
	assert.False(t, IsTransient(&AuthError{Status: 401}))
}
