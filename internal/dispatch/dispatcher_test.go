package dispatch

import (
	"encoding/base64"
	"net/http"
	"strings"
	"testing"

	"github.com/jellyroller/jellyroller/internal/common/apperrors"
	"github.com/jellyroller/jellyroller/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userID = "5d1a2c3b4e5f60718293a4b5c6d7e8f9"

func authenticated() *Dispatcher {
	return New(&api.Session{ServerURL: "https://media.local", APIKey: "ABC123"})
}

func TestNewState(t *testing.T) {
	assert.Equal(t, Unauthenticated, New(nil).State())
	assert.Equal(t, Unauthenticated, New(&api.Session{ServerURL: "https://media.local"}).State())
	assert.Equal(t, Authenticated, authenticated().State())
}

func TestAuthenticate(t *testing.T) {
	d := New(nil)
	err := d.Authenticate(&api.Session{ServerURL: "media.local", APIKey: "k"})
	assert.Equal(t, apperrors.ExitUsage, apperrors.ExitCode(err))
	assert.Equal(t, Unauthenticated, d.State())

	require.NoError(t, d.Authenticate(&api.Session{ServerURL: "http://localhost:8096", APIKey: "k"}))
	assert.Equal(t, Authenticated, d.State())
	assert.Equal(t, "k", d.Session().APIKey)
}

func TestDispatchUnauthenticated(t *testing.T) {
	d := New(nil)
	_, err := d.Dispatch(Command{Name: "users list"})
	var notAuth *apperrors.NotAuthenticatedError
	require.ErrorAs(t, err, &notAuth)
	assert.Equal(t, "users list", notAuth.Command)

	// Open routes are allowed.
	req, err := d.Dispatch(Command{Name: "login password", Args: []string{"admin", "secret"}})
	require.NoError(t, err)
	assert.True(t, req.Public)
	assert.Equal(t, `{"Pw":"secret","Username":"admin"}`, string(req.Body))

	req, err = d.Dispatch(Command{Name: "login"})
	require.NoError(t, err)
	assert.False(t, req.Public)
	assert.Equal(t, "/System/Info", req.Path)
}

func TestDispatchRequests(t *testing.T) {
	tests := []struct {
		name   string
		cmd    Command
		method string
		uri    string
		body   string
	}{
		{"users list", Command{Name: "users list"}, http.MethodGet, "/Users", ""},
		{"users get", Command{Name: "users get", Args: []string{userID}}, http.MethodGet, "/Users/" + userID, ""},
		{"users add", Command{Name: "users add", Args: []string{"bob", "pw"}}, http.MethodPost, "/Users/New", `{"Name":"bob","Password":"pw"}`},
		{"users set-password", Command{Name: "users set-password", Args: []string{userID, "n3w"}}, http.MethodPost, "/Users/" + userID + "/Password", `{"CurrentPw":"","NewPw":"n3w","ResetPassword":false}`},
		{"users set-policy", Command{Name: "users set-policy", Args: []string{userID}, Input: []byte(`{"IsDisabled": true, "IsAdministrator": false}`)}, http.MethodPost, "/Users/" + userID + "/Policy", `{"IsAdministrator":false,"IsDisabled":true}`},
		{"users items", Command{Name: "users items", Args: []string{userID}, Flags: map[string]string{"type": "Movie", "fields": "Path,Genres"}}, http.MethodGet, "/Users/" + userID + "/Items?IncludeItemTypes=Movie&Recursive=true&SortBy=SortName&fields=Path%2CGenres", ""},
		{"devices list active", Command{Name: "devices list", Flags: map[string]string{"active": "true"}}, http.MethodGet, "/Devices", ""},
		{"devices list by user", Command{Name: "devices list", Flags: map[string]string{"user": userID}}, http.MethodGet, "/Devices?userId=" + userID, ""},
		{"devices delete", Command{Name: "devices delete", Args: []string{"abc/1"}}, http.MethodDelete, "/Devices?id=abc%2F1", ""},
		{"libraries add", Command{Name: "libraries add", Flags: map[string]string{"name": "Films", "type": "movies", "refresh": "true"}}, http.MethodPost, "/Library/VirtualFolders?collectionType=movies&name=Films&refreshLibrary=true", ""},
		{"items search", Command{Name: "items search", Flags: map[string]string{"term": "alien", "include-path": "true", "limit": "5"}}, http.MethodGet, "/Items?Recursive=true&SortBy=SortName%2CProductionYear&fields=Path&limit=5&searchTerm=alien", ""},
		{"tasks stop", Command{Name: "tasks stop", Args: []string{userID}}, http.MethodDelete, "/ScheduledTasks/Running/" + userID, ""},
		{"packages install", Command{Name: "packages install", Args: []string{"Open Subtitles"}, Flags: map[string]string{"version": "20.0.0.0"}}, http.MethodPost, "/Packages/Installed/Open%20Subtitles?version=20.0.0.0", ""},
		{"logs show", Command{Name: "logs show", Args: []string{"log_20260101.log"}}, http.MethodGet, "/System/Logs/Log?name=log_20260101.log", ""},
		{"activity list", Command{Name: "activity list", Flags: map[string]string{"limit": "10", "start": "20"}}, http.MethodGet, "/System/ActivityLog/Entries?limit=10&startIndex=20", ""},
		{"keys create", Command{Name: "keys create", Flags: map[string]string{"app": "jellyroller"}}, http.MethodPost, "/Auth/Keys?app=jellyroller", ""},
		{"keys revoke", Command{Name: "keys revoke", Args: []string{"abc123"}}, http.MethodDelete, "/Auth/Keys/abc123", ""},
	}
	d := authenticated()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := d.Dispatch(tt.cmd)
			require.NoError(t, err)
			assert.Equal(t, tt.method, req.Method)
			assert.Equal(t, tt.uri, req.URI())
			assert.Equal(t, tt.body, string(req.Body))
			if tt.body != "" {
				assert.Equal(t, "application/json", req.ContentType)
			}
		})
	}
}

func TestDispatchIsDeterministic(t *testing.T) {
	cmd := Command{
		Name:  "items search",
		Flags: map[string]string{"term": "x", "type": "Movie", "parent": userID, "limit": "3"},
	}
	policy := Command{Name: "users set-policy", Args: []string{userID}, Input: []byte(`{"b":1,"a":{"d":2,"c":3}}`)}
	for _, c := range []Command{cmd, policy} {
		first, err := authenticated().Dispatch(c)
		require.NoError(t, err)
		for i := 0; i < 20; i++ {
			again, err := authenticated().Dispatch(c)
			require.NoError(t, err)
			assert.Equal(t, first.Canonical(), again.Canonical())
		}
	}
}

func TestDispatchUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		msg  string
	}{
		{"unknown command", Command{Name: "users frobnicate"}, `unknown command "users frobnicate"`},
		{"missing arg", Command{Name: "users get"}, `"users get" takes 1 argument(s), got 0`},
		{"extra arg", Command{Name: "users list", Args: []string{"x"}}, `"users list" takes 0 argument(s), got 1`},
		{"bad id", Command{Name: "users get", Args: []string{"alice"}}, `invalid argument <id> "alice": expected a 32 hex digit id`},
		{"unknown flag", Command{Name: "users list", Flags: map[string]string{"colour": "red"}}, `unknown flag --colour for "users list"`},
		{"bad enum", Command{Name: "libraries add", Flags: map[string]string{"name": "x", "type": "films"}}, "expected one of movies, tvshows"},
		{"missing required flag", Command{Name: "keys create"}, "flag --app is required"},
		{"bad count", Command{Name: "activity list", Flags: map[string]string{"limit": "-1"}}, "expected a non-negative integer"},
		{"bad url", Command{Name: "packages install", Args: []string{"p"}, Flags: map[string]string{"repository": "repo.local"}}, "expected an absolute http or https URL"},
		{"path escape", Command{Name: "logs show", Args: []string{"../etc/passwd"}}, "expected a plain file name"},
		{"missing input", Command{Name: "users update", Args: []string{userID}}, "requires an input document"},
		{"bad input", Command{Name: "users update", Args: []string{userID}, Input: []byte(`{"a":`)}, "not a valid JSON document"},
		{"unexpected input", Command{Name: "users list", Input: []byte(`{}`)}, "does not take an input document"},
	}
	d := authenticated()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := d.Dispatch(tt.cmd)
			var usageErr *apperrors.UsageError
			require.ErrorAs(t, err, &usageErr)
			assert.Contains(t, usageErr.Msg, tt.msg)
			assert.Equal(t, api.ApiRequest{}, req)
		})
	}
}

func TestCheckAcceptsNamesForResolvedArgs(t *testing.T) {
	d := authenticated()
	require.NoError(t, d.Check(Command{Name: "users get", Args: []string{"alice"}}, "id"))
	require.NoError(t, d.Check(Command{Name: "devices list", Flags: map[string]string{"user": "alice"}}, "user"))

	tests := []struct {
		name string
		cmd  Command
		msg  string
	}{
		{"arity", Command{Name: "users set-password", Args: []string{"alice"}}, `"users set-password" takes 2 argument(s), got 1`},
		{"empty name", Command{Name: "users get", Args: []string{""}}, "invalid argument <id>"},
		{"missing input", Command{Name: "users update", Args: []string{"alice"}}, "requires an input document"},
		{"bad flag", Command{Name: "devices list", Flags: map[string]string{"user": "alice", "colour": "red"}}, "unknown flag --colour"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := d.Check(tt.cmd, "id", "user")
			var usageErr *apperrors.UsageError
			require.ErrorAs(t, err, &usageErr)
			assert.Contains(t, usageErr.Msg, tt.msg)
		})
	}

	// Names are still rejected by Dispatch itself.
	_, err := d.Dispatch(Command{Name: "users get", Args: []string{"alice"}})
	assert.Equal(t, apperrors.ExitUsage, apperrors.ExitCode(err))

	_, err = New(nil).Dispatch(Command{Name: "users get", Args: []string{"alice"}})
	assert.Equal(t, apperrors.ExitNotAuthenticated, apperrors.ExitCode(err))
}

func TestDispatchUsageHint(t *testing.T) {
	_, err := authenticated().Dispatch(Command{Name: "libraries scan", Args: []string{"a", "b"}})
	assert.Equal(t, "usage: jellyroller libraries scan [id] [--mode <value>]", apperrors.Hint(err))
}

func TestDispatchScanModes(t *testing.T) {
	d := authenticated()

	req, err := d.Dispatch(Command{Name: "libraries scan"})
	require.NoError(t, err)
	assert.Equal(t, "/Library/Refresh", req.URI())

	req, err = d.Dispatch(Command{Name: "libraries scan", Args: []string{"all"}, Flags: map[string]string{"mode": "all"}})
	require.NoError(t, err)
	assert.Equal(t, "/Library/Refresh", req.URI())

	req, err = d.Dispatch(Command{Name: "libraries scan", Args: []string{userID}})
	require.NoError(t, err)
	assert.Equal(t, "/Items/"+userID+"/Refresh", req.Path)
	assert.Equal(t, "Default", req.Query.Get("MetadataRefreshMode"))
	assert.Equal(t, "false", req.Query.Get("ReplaceAllMetadata"))

	req, err = d.Dispatch(Command{Name: "libraries scan", Args: []string{userID}, Flags: map[string]string{"mode": "replace-metadata"}})
	require.NoError(t, err)
	assert.Equal(t, "FullRefresh", req.Query.Get("ImageRefreshMode"))
	assert.Equal(t, "true", req.Query.Get("ReplaceAllMetadata"))

	_, err = d.Dispatch(Command{Name: "libraries scan", Args: []string{userID}, Flags: map[string]string{"mode": "all"}})
	assert.Equal(t, apperrors.ExitUsage, apperrors.ExitCode(err))

	_, err = d.Dispatch(Command{Name: "libraries scan", Flags: map[string]string{"mode": "missing-metadata"}})
	assert.Equal(t, apperrors.ExitUsage, apperrors.ExitCode(err))

	_, err = d.Dispatch(Command{Name: "libraries scan", Args: []string{"movies"}})
	assert.Equal(t, apperrors.ExitUsage, apperrors.ExitCode(err))
}

func TestDispatchImage(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}
	d := authenticated()

	req, err := d.Dispatch(Command{Name: "items set-image", Args: []string{userID, "Primary"}, Input: png})
	require.NoError(t, err)
	assert.Equal(t, "/Items/"+userID+"/Images/Primary", req.Path)
	assert.Equal(t, "image/png", req.ContentType)
	assert.Equal(t, base64.StdEncoding.EncodeToString(png), string(req.Body))

	_, err = d.Dispatch(Command{Name: "items set-image", Args: []string{userID, "Primary"}, Input: []byte("plain text")})
	assert.Equal(t, apperrors.ExitUsage, apperrors.ExitCode(err))

	_, err = d.Dispatch(Command{Name: "items set-image", Args: []string{userID, "Poster"}, Input: png})
	assert.Equal(t, apperrors.ExitUsage, apperrors.ExitCode(err))
}

func TestRoutesWellFormed(t *testing.T) {
	routes := Routes()
	require.NotEmpty(t, routes)
	for i, r := range routes {
		if i > 0 {
			assert.Less(t, routes[i-1].Name, r.Name)
		}
		assert.NotEmpty(t, r.Short, r.Name)
		assert.Contains(t, []string{http.MethodGet, http.MethodPost, http.MethodDelete}, r.Method, r.Name)
		path := r.Path
		for _, a := range r.Args {
			path = strings.ReplaceAll(path, "{"+a.Name+"}", "x")
		}
		assert.NotContains(t, path, "{", "%s has an unbound placeholder", r.Name)
	}
}
