// Package api holds the value types exchanged between the jellyroller components:
// the persisted Session, the ApiRequest produced by the dispatcher and the ApiResponse
// returned by the transport client.
package api

import (
	"bytes"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jellyroller/jellyroller/internal/common/jsontree"
)

// Session is the credential context threaded through dispatch and transport.
type Session struct {
	ServerURL     string    `yaml:"server_url" validate:"required,http_url"`
	APIKey        string    `yaml:"api_key" validate:"required"`
	UserID        string    `yaml:"user_id,omitempty"`
	UserName      string    `yaml:"user_name,omitempty"`
	DeviceID      string    `yaml:"device_id,omitempty"`
	LastValidated time.Time `yaml:"last_validated,omitempty"`
	Stale         bool      `yaml:"stale,omitempty"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared validator instance.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the session invariants: a non-empty API key and an absolute
// http or https server URL.
func (s *Session) Validate() error {
	return Validator().Struct(s)
}

// Equal reports whether two sessions hold the same values.
func (s *Session) Equal(o *Session) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.ServerURL == o.ServerURL &&
		s.APIKey == o.APIKey &&
		s.UserID == o.UserID &&
		s.UserName == o.UserName &&
		s.DeviceID == o.DeviceID &&
		s.LastValidated.Equal(o.LastValidated) &&
		s.Stale == o.Stale
}

// BaseURL returns the server URL without a trailing slash.
func (s *Session) BaseURL() string {
	return strings.TrimRight(s.ServerURL, "/")
}

// ApiRequest is one fully resolved call against the server.
type ApiRequest struct {
	Method      string
	Path        string
	Query       url.Values
	Body        []byte
	ContentType string
	// Public requests carry no token.
	Public bool
}

// Canonical returns a byte form of the request. Two requests with equal canonical
// forms are sent identically.
func (r ApiRequest) Canonical() []byte {
	var buf bytes.Buffer
	buf.WriteString(r.Method)
	buf.WriteByte(' ')
	buf.WriteString(r.URI())
	buf.WriteByte('\n')
	buf.WriteString(r.ContentType)
	if r.Public {
		buf.WriteString("\npublic")
	}
	buf.WriteByte('\n')
	buf.Write(r.Body)
	return buf.Bytes()
}

// URI returns the path with the encoded query appended. url.Values.Encode sorts keys.
func (r ApiRequest) URI() string {
	if len(r.Query) == 0 {
		return r.Path
	}
	return r.Path + "?" + r.Query.Encode()
}

// ApiResponse is the result of a request. It is not modified after receipt.
type ApiResponse struct {
	StatusCode  int
	ContentType string
	Raw         []byte
	Body        *jsontree.Node
	// Text is set when Raw was not a JSON document and Body holds it as a string.
	Text bool
}
