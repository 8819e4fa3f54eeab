// Package httpclient is the transport client for the Jellyfin REST API. It attaches
// the MediaBrowser authorization header derived from the session, retries idempotent
// requests on transient network failures and maps HTTP failures onto the apperrors
// taxonomy.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/jellyroller/jellyroller/internal/common/apperrors"
	"github.com/jellyroller/jellyroller/internal/common/jsontree"
	"github.com/jellyroller/jellyroller/internal/common/logtrace"
	"github.com/jellyroller/jellyroller/pkg/api"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

const (
	// ClientName is reported to the server in the authorization header.
	ClientName = "jellyroller"

	DefaultTimeout    = 10 * time.Second
	DefaultRetryDelay = 200 * time.Millisecond
	// DefaultAttempts is the first try plus two retries.
	DefaultAttempts = 3
)

// Client sends ApiRequests. A single underlying http.Client is reused so keep-alive
// connections survive across the requests of a workflow.
type Client struct {
	doer    HTTPDoer
	config  clientConfig
	version string
}

type clientConfig struct {
	timeout    time.Duration
	attempts   uint
	retryDelay time.Duration
	doer       HTTPDoer
	device     string
}

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.timeout = timeout
	}
}

// WithRetryDelay sets the base delay of the exponential backoff.
func WithRetryDelay(delay time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.retryDelay = delay
	}
}

// WithAttempts sets the total number of attempts made for a GET request. Values below
// 1 mean a single attempt.
func WithAttempts(attempts uint) ClientOption {
	return func(c *clientConfig) {
		c.attempts = max(attempts, 1)
	}
}

// WithDoer replaces the http.Client used to send requests.
func WithDoer(doer HTTPDoer) ClientOption {
	return func(c *clientConfig) {
		c.doer = doer
	}
}

// WithDeviceName overrides the device name reported to the server.
func WithDeviceName(name string) ClientOption {
	return func(c *clientConfig) {
		c.device = name
	}
}

// NewClient creates a transport client. version is reported in the authorization header.
func NewClient(version string, opts ...ClientOption) *Client {
	config := clientConfig{
		timeout:    DefaultTimeout,
		attempts:   DefaultAttempts,
		retryDelay: DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.device == "" {
		config.device = hostname()
	}
	doer := config.doer
	if doer == nil {
		doer = &http.Client{Timeout: config.timeout}
	}
	return &Client{
		doer:    doer,
		config:  config,
		version: version,
	}
}

// Send performs req against the server named by session. GET requests are retried
// on NetworkError; every other method is sent exactly once.
func (c *Client) Send(ctx context.Context, session *api.Session, req api.ApiRequest) (*api.ApiResponse, error) {
	if session == nil || session.ServerURL == "" {
		return nil, &apperrors.NotAuthenticatedError{}
	}
	target := session.BaseURL() + req.URI()
	op := req.Method + " " + target

	if req.Method != http.MethodGet {
		return c.do(ctx, session, req, target, op, 1)
	}

	attempt := 0
	return retry.DoWithData(
		func() (*api.ApiResponse, error) {
			attempt++
			return c.do(ctx, session, req, target, op, attempt)
		},
		retry.Context(ctx),
		retry.Attempts(c.config.attempts),
		retry.Delay(c.config.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(apperrors.IsTransient),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Debug().Uint("retry", n+1).Err(err).Str("url", target).Msg("retrying request")
		}),
	)
}

func (c *Client) do(ctx context.Context, session *api.Session, req api.ApiRequest, target, op string, attempt int) (*api.ApiResponse, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, apperrors.Usagef("invalid request %s: %v", op, err)
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", c.authorization(session, req.Public))

	log.Debug().Str("method", req.Method).Str("url", target).Int("attempt", attempt).Msg("sending request")
	if len(req.Body) > 0 && req.ContentType == "application/json" {
		log.Debug().Str("body", logtrace.Truncate(req.Body)).Msg("request body")
	}

	resp, err := c.doer.Do(httpReq)
	if err != nil {
		return nil, &apperrors.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &apperrors.NetworkError{Op: op, Err: fmt.Errorf("failed to read response body: %w", err)}
	}
	log.Debug().Int("status", resp.StatusCode).Str("body", logtrace.Truncate(raw)).Msg("received response")

	if resp.StatusCode >= 400 {
		msg := errorMessage(raw)
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, &apperrors.AuthError{Status: resp.StatusCode, Message: msg}
		}
		return nil, &apperrors.APIError{Status: resp.StatusCode, Message: msg}
	}

	return NewResponse(resp.StatusCode, resp.Header.Get("Content-Type"), raw), nil
}

// NewResponse wraps a raw body. Empty bodies become null and bodies that are not
// JSON documents become a single string node.
func NewResponse(status int, contentType string, raw []byte) *api.ApiResponse {
	r := &api.ApiResponse{StatusCode: status, ContentType: contentType, Raw: raw}
	trimmed := bytes.TrimSpace(raw)
	switch {
	case len(trimmed) == 0:
		r.Body = jsontree.NewNull()
	case gjson.ValidBytes(trimmed):
		r.Body, _ = jsontree.Parse(trimmed)
	default:
		r.Body = jsontree.NewString(string(raw))
		r.Text = true
	}
	return r
}

// authorization builds the MediaBrowser header Jellyfin expects.
func (c *Client) authorization(session *api.Session, public bool) string {
	parts := []string{
		fmt.Sprintf("Client=%q", ClientName),
		fmt.Sprintf("Device=%q", c.config.device),
		fmt.Sprintf("DeviceId=%q", session.DeviceID),
		fmt.Sprintf("Version=%q", c.version),
	}
	if !public && session.APIKey != "" {
		parts = append(parts, fmt.Sprintf("Token=%q", session.APIKey))
	}
	return "MediaBrowser " + strings.Join(parts, ", ")
}

// errorMessage extracts a human readable message from an error body.
func errorMessage(raw []byte) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ""
	}
	if gjson.ValidBytes(trimmed) {
		for _, key := range []string{"Message", "message", "error", "title", "detail"} {
			if v := gjson.GetBytes(trimmed, key); v.Exists() && v.String() != "" {
				return v.String()
			}
		}
		return string(trimmed)
	}
	return logtrace.Truncate(trimmed)
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "unknown"
	}
	return name
}
