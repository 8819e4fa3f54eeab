package dispatch

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/jellyroller/jellyroller/pkg/api"
)

// BodyKind says where the request body of a route comes from.
type BodyKind int

const (
	BodyNone         BodyKind = iota // no input document; Build may still set a body
	BodyJSON                         // input document required
	BodyOptionalJSON                 // input document accepted
	BodyImage                        // image file, sent base64 encoded
)

// Arg is a positional argument. Its name doubles as the path placeholder.
type Arg struct {
	Name     string
	Rule     string
	Optional bool
}

// Flag is an option a route accepts. Query names the query parameter the value is
// sent as; flags without one are consumed by Build.
type Flag struct {
	Name     string
	Usage    string
	Rule     string
	Query    string
	Required bool
	Bool     bool
}

// Route defines how one command maps onto the API.
type Route struct {
	Name   string
	Short  string
	Method string
	Path   string
	// Open routes may be dispatched while unauthenticated.
	Open bool
	// Public routes are sent without a token.
	Public bool
	Args   []Arg
	Flags  []Flag
	Query  map[string]string
	Body   BodyKind
	Build  func(cmd Command, req *api.ApiRequest) error
}

// Usage returns the synopsis, e.g. "libraries scan [id] [--mode <value>]".
func (r *Route) Usage() string {
	parts := []string{r.Name}
	for _, a := range r.Args {
		if a.Optional {
			parts = append(parts, "["+a.Name+"]")
		} else {
			parts = append(parts, "<"+a.Name+">")
		}
	}
	for _, f := range r.Flags {
		s := "--" + f.Name
		if !f.Bool {
			s += " <value>"
		}
		if !f.Required {
			s = "[" + s + "]"
		}
		parts = append(parts, s)
	}
	if r.Body == BodyJSON || r.Body == BodyImage {
		parts = append(parts, "--file <path>")
	} else if r.Body == BodyOptionalJSON {
		parts = append(parts, "[--file <path>]")
	}
	return strings.Join(parts, " ")
}

// Routes returns every route sorted by name.
func Routes() []*Route {
	out := make([]*Route, 0, len(routeIndex))
	for _, r := range routeIndex {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup returns the route registered for name.
func Lookup(name string) (*Route, bool) {
	r, ok := routeIndex[name]
	return r, ok
}

const (
	ruleID        = "required,jellyfin_id"
	ruleImageType = "oneof=Primary Art Backdrop Banner Logo Thumb Disc Box Screenshot Menu Chapter BoxRear Profile"
	ruleLibType   = "oneof=movies tvshows music musicvideos homevideos boxsets books mixed"
	ruleScanMode  = "oneof=new-updated missing-metadata replace-metadata all"
)

// ScanModes maps a scan mode onto the refresh query parameters sent for a single library.
var ScanModes = map[string]map[string]string{
	"new-updated": {
		"Recursive":           "true",
		"ImageRefreshMode":    "Default",
		"MetadataRefreshMode": "Default",
		"ReplaceAllImages":    "false",
		"RegenerateTrickplay": "false",
		"ReplaceAllMetadata":  "false",
	},
	"missing-metadata": {
		"Recursive":           "true",
		"ImageRefreshMode":    "FullRefresh",
		"MetadataRefreshMode": "FullRefresh",
		"ReplaceAllImages":    "false",
		"RegenerateTrickplay": "false",
		"ReplaceAllMetadata":  "false",
	},
	"replace-metadata": {
		"Recursive":           "true",
		"ImageRefreshMode":    "FullRefresh",
		"MetadataRefreshMode": "FullRefresh",
		"ReplaceAllImages":    "false",
		"RegenerateTrickplay": "false",
		"ReplaceAllMetadata":  "true",
	},
}

var routeIndex = indexRoutes(
	// login
	&Route{Name: "login", Short: "Validate an API key against the server", Method: http.MethodGet, Path: "/System/Info", Open: true},
	&Route{
		Name: "login password", Short: "Authenticate with a username and password",
		Method: http.MethodPost, Path: "/Users/AuthenticateByName", Open: true, Public: true,
		Args:  []Arg{{Name: "username", Rule: "required"}, {Name: "password", Optional: true}},
		Build: jsonBody(func(cmd Command) any {
			return map[string]string{"Username": cmd.Args[0], "Pw": argAt(cmd, 1)}
		}),
	},

	// server
	&Route{Name: "server info", Short: "Show server information", Method: http.MethodGet, Path: "/System/Info"},
	&Route{Name: "server restart", Short: "Restart the server", Method: http.MethodPost, Path: "/System/Restart"},
	&Route{Name: "server shutdown", Short: "Shut the server down", Method: http.MethodPost, Path: "/System/Shutdown"},

	// users
	&Route{Name: "users list", Short: "List users", Method: http.MethodGet, Path: "/Users"},
	&Route{Name: "users get", Short: "Show a user", Method: http.MethodGet, Path: "/Users/{id}", Args: []Arg{{Name: "id", Rule: ruleID}}},
	&Route{Name: "users me", Short: "Show the authenticated user", Method: http.MethodGet, Path: "/Users/Me"},
	&Route{
		Name: "users add", Short: "Create a user", Method: http.MethodPost, Path: "/Users/New",
		Args: []Arg{{Name: "name", Rule: "required,max=64"}, {Name: "password", Rule: "required"}},
		Build: jsonBody(func(cmd Command) any {
			return map[string]string{"Name": cmd.Args[0], "Password": cmd.Args[1]}
		}),
	},
	&Route{Name: "users delete", Short: "Delete a user", Method: http.MethodDelete, Path: "/Users/{id}", Args: []Arg{{Name: "id", Rule: ruleID}}},
	&Route{
		Name: "users set-password", Short: "Reset a user's password", Method: http.MethodPost, Path: "/Users/{id}/Password",
		Args: []Arg{{Name: "id", Rule: ruleID}, {Name: "password", Rule: "required"}},
		Build: jsonBody(func(cmd Command) any {
			return map[string]any{"CurrentPw": "", "NewPw": cmd.Args[1], "ResetPassword": false}
		}),
	},
	&Route{Name: "users set-policy", Short: "Replace a user's policy", Method: http.MethodPost, Path: "/Users/{id}/Policy", Args: []Arg{{Name: "id", Rule: ruleID}}, Body: BodyJSON},
	&Route{Name: "users update", Short: "Replace a user's configuration", Method: http.MethodPost, Path: "/Users/{id}", Args: []Arg{{Name: "id", Rule: ruleID}}, Body: BodyJSON},
	&Route{
		Name: "users items", Short: "List the media items a user can see", Method: http.MethodGet, Path: "/Users/{id}/Items",
		Args:  []Arg{{Name: "id", Rule: ruleID}},
		Query: map[string]string{"Recursive": "true", "SortBy": "SortName"},
		Flags: []Flag{
			{Name: "type", Usage: "item types, e.g. Movie,Series", Rule: "required", Query: "IncludeItemTypes"},
			{Name: "fields", Usage: "extra fields to return, e.g. Path,Genres", Rule: "required", Query: "fields"},
		},
	},

	// devices
	&Route{
		Name: "devices list", Short: "List devices", Method: http.MethodGet, Path: "/Devices",
		Flags: []Flag{
			{Name: "user", Usage: "only devices used by this user id", Rule: ruleID, Query: "userId"},
			{Name: "active", Usage: "only devices active in the last hour", Rule: "boolean", Bool: true},
		},
	},
	&Route{
		Name: "devices delete", Short: "Delete a device", Method: http.MethodDelete, Path: "/Devices",
		Args: []Arg{{Name: "id", Rule: "required,max=256"}},
		Build: func(cmd Command, req *api.ApiRequest) error {
			req.Query.Set("id", cmd.Args[0])
			return nil
		},
	},

	// libraries
	&Route{Name: "libraries list", Short: "List libraries", Method: http.MethodGet, Path: "/Library/VirtualFolders"},
	&Route{
		Name: "libraries add", Short: "Register a library", Method: http.MethodPost, Path: "/Library/VirtualFolders",
		Flags: []Flag{
			{Name: "name", Usage: "library name", Rule: "required", Query: "name", Required: true},
			{Name: "type", Usage: "collection type", Rule: ruleLibType, Query: "collectionType", Required: true},
			{Name: "refresh", Usage: "scan the library once created", Rule: "boolean", Query: "refreshLibrary", Bool: true},
		},
		Body: BodyOptionalJSON,
	},
	&Route{
		Name: "libraries scan", Short: "Start a library scan", Method: http.MethodPost, Path: "/Library/Refresh",
		Args:  []Arg{{Name: "id", Optional: true}},
		Flags: []Flag{{Name: "mode", Usage: "new-updated, missing-metadata, replace-metadata or all", Rule: ruleScanMode}},
		Build: buildScan,
	},

	// items
	&Route{
		Name: "items search", Short: "Search media items", Method: http.MethodGet, Path: "/Items",
		Query: map[string]string{"SortBy": "SortName,ProductionYear", "Recursive": "true"},
		Flags: []Flag{
			{Name: "term", Usage: "search term", Rule: "required", Query: "searchTerm", Required: true},
			{Name: "type", Usage: "item types, e.g. Movie,Series", Rule: "required", Query: "IncludeItemTypes"},
			{Name: "parent", Usage: "restrict to a library or folder id", Rule: ruleID, Query: "parentId"},
			{Name: "include-path", Usage: "include the file path of each item", Rule: "boolean", Bool: true},
			{Name: "limit", Usage: "maximum number of items", Rule: "count", Query: "limit"},
		},
		Build: func(cmd Command, req *api.ApiRequest) error {
			if cmd.Flags["include-path"] == "true" {
				req.Query.Set("fields", "Path")
			}
			return nil
		},
	},
	&Route{Name: "items update", Short: "Replace an item's metadata", Method: http.MethodPost, Path: "/Items/{id}", Args: []Arg{{Name: "id", Rule: ruleID}}, Body: BodyJSON},
	&Route{
		Name: "items set-image", Short: "Upload an image for an item", Method: http.MethodPost, Path: "/Items/{id}/Images/{type}",
		Args: []Arg{{Name: "id", Rule: ruleID}, {Name: "type", Rule: ruleImageType}},
		Body: BodyImage,
	},

	// tasks
	&Route{Name: "tasks list", Short: "List scheduled tasks", Method: http.MethodGet, Path: "/ScheduledTasks"},
	&Route{Name: "tasks run", Short: "Start a scheduled task", Method: http.MethodPost, Path: "/ScheduledTasks/Running/{id}", Args: []Arg{{Name: "id", Rule: ruleID}}},
	&Route{Name: "tasks stop", Short: "Stop a running task", Method: http.MethodDelete, Path: "/ScheduledTasks/Running/{id}", Args: []Arg{{Name: "id", Rule: ruleID}}},

	// plugins and packages
	&Route{Name: "plugins list", Short: "List installed plugins", Method: http.MethodGet, Path: "/Plugins"},
	&Route{Name: "packages list", Short: "List available packages", Method: http.MethodGet, Path: "/Packages"},
	&Route{
		Name: "packages install", Short: "Install a package", Method: http.MethodPost, Path: "/Packages/Installed/{name}",
		Args: []Arg{{Name: "name", Rule: "required"}},
		Flags: []Flag{
			{Name: "version", Usage: "package version", Rule: "required", Query: "version"},
			{Name: "repository", Usage: "repository URL", Rule: "http_url", Query: "repositoryUrl"},
		},
	},
	&Route{Name: "repositories list", Short: "List plugin repositories", Method: http.MethodGet, Path: "/Repositories"},
	&Route{Name: "repositories set", Short: "Replace the plugin repository list", Method: http.MethodPost, Path: "/Repositories", Body: BodyJSON},

	// logs
	&Route{Name: "logs list", Short: "List server log files", Method: http.MethodGet, Path: "/System/Logs"},
	&Route{
		Name: "logs show", Short: "Print a server log file", Method: http.MethodGet, Path: "/System/Logs/Log",
		Args: []Arg{{Name: "name", Rule: "filename"}},
		Build: func(cmd Command, req *api.ApiRequest) error {
			req.Query.Set("name", cmd.Args[0])
			return nil
		},
	},
	&Route{
		Name: "activity list", Short: "List activity log entries", Method: http.MethodGet, Path: "/System/ActivityLog/Entries",
		Flags: []Flag{
			{Name: "limit", Usage: "maximum number of entries", Rule: "count", Query: "limit"},
			{Name: "start", Usage: "index of the first entry", Rule: "count", Query: "startIndex"},
		},
	},

	// keys
	&Route{Name: "keys list", Short: "List API keys", Method: http.MethodGet, Path: "/Auth/Keys"},
	&Route{
		Name: "keys create", Short: "Create an API key", Method: http.MethodPost, Path: "/Auth/Keys",
		Flags: []Flag{{Name: "app", Usage: "application name", Rule: "required,max=64", Query: "app", Required: true}},
	},
	&Route{Name: "keys revoke", Short: "Revoke an API key", Method: http.MethodDelete, Path: "/Auth/Keys/{key}", Args: []Arg{{Name: "key", Rule: "required,alphanum"}}},
)

func indexRoutes(routes ...*Route) map[string]*Route {
	idx := make(map[string]*Route, len(routes))
	for _, r := range routes {
		if _, dup := idx[r.Name]; dup {
			panic(fmt.Sprintf("duplicate route %q", r.Name))
		}
		idx[r.Name] = r
	}
	return idx
}

// buildScan picks the endpoint for a scan: the whole server when no id (or "all")
// is given, otherwise a refresh of the single library with the mode's query set.
func buildScan(cmd Command, req *api.ApiRequest) error {
	mode := cmd.Flags["mode"]
	id := argAt(cmd, 0)
	if id == "" || id == "all" {
		if mode != "" && mode != "all" {
			return fmt.Errorf("--mode %s needs a library id", mode)
		}
		req.Path = "/Library/Refresh"
		return nil
	}
	if err := checkValue("argument", "<id>", id, ruleID); err != nil {
		return err
	}
	if mode == "" {
		mode = "new-updated"
	}
	params, ok := ScanModes[mode]
	if !ok {
		return fmt.Errorf("--mode %s cannot be used with a single library", mode)
	}
	req.Path = "/Items/" + id + "/Refresh"
	for k, v := range params {
		req.Query.Set(k, v)
	}
	return nil
}

// jsonBody returns a Build func that encodes the value built from the command.
func jsonBody(fn func(cmd Command) any) func(Command, *api.ApiRequest) error {
	return func(cmd Command, req *api.ApiRequest) error {
		b, err := json.Marshal(fn(cmd))
		if err != nil {
			return err
		}
		req.Body = b
		req.ContentType = contentTypeJSON
		return nil
	}
}

func argAt(cmd Command, i int) string {
	if i < len(cmd.Args) {
		return cmd.Args[i]
	}
	return ""
}
