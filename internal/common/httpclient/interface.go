package httpclient

import (
	"context"
	"net/http"

	"github.com/jellyroller/jellyroller/pkg/api"
)

// HTTPDoer is the subset of *http.Client the transport needs. Tests substitute it to
// script failures.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Sender performs one resolved request against the server in the given session.
type Sender interface {
	Send(ctx context.Context, session *api.Session, req api.ApiRequest) (*api.ApiResponse, error)
}

// Verify that Client implements Sender.
var _ Sender = &Client{}
