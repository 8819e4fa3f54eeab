// Package testutil provides an in-process fake of the parts of the Jellyfin REST API
// that jellyroller uses.
package testutil

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jellyroller/jellyroller/internal/common/uuid"
	"github.com/rs/zerolog/log"
)

// User is a user account on the fake server. Policy is kept as sent so tests can
// check that no field was dropped.
type User struct {
	Name          string
	Id            string
	Password      string
	Policy        json.RawMessage
	Configuration json.RawMessage
}

func (u User) MarshalJSON() ([]byte, error) {
	doc := map[string]any{
		"Name":        u.Name,
		"Id":          u.Id,
		"HasPassword": u.Password != "",
		"Policy":      u.Policy,
	}
	if u.Configuration != nil {
		doc["Configuration"] = u.Configuration
	}
	return json.Marshal(doc)
}

type Device struct {
	Name             string
	Id               string
	AppName          string
	DateLastActivity time.Time
	UserId           string `json:"-"`
}

// Item is a media item. Fields holds the members sent besides Name, Id and Type.
type Item struct {
	Name   string
	Id     string
	Type   string
	Fields map[string]any
}

func (it Item) MarshalJSON() ([]byte, error) {
	doc := map[string]any{}
	for k, v := range it.Fields {
		doc[k] = v
	}
	doc["Name"], doc["Id"], doc["Type"] = it.Name, it.Id, it.Type
	return json.Marshal(doc)
}

type Task struct {
	Name  string
	Id    string
	Key   string
	State string
}

type Key struct {
	AppName     string
	AccessToken string
	DateCreated time.Time
}

// Jellyfin is a fake server. Tests change its state through Update.
type Jellyfin struct {
	Server *httptest.Server

	mu       sync.Mutex
	Version  string
	Tokens   map[string]bool
	Users    []User
	Devices  []Device
	Items    []Item
	Images   map[string][]byte // decoded uploads by "itemId/type"
	Tasks    []Task
	Keys     []Key
	Repos    json.RawMessage
	Logs     map[string]string
	Forbid   bool
	Info     json.RawMessage // replaces the System/Info body when set
	requests []string
}

// DefaultToken is accepted by a new fake.
const DefaultToken = "0123456789abcdef0123456789abcdef"

// NewJellyfin starts a fake server that is closed when the test ends.
func NewJellyfin(t *testing.T) *Jellyfin {
	t.Helper()
	f := &Jellyfin{
		Version: "10.9.11",
		Tokens:  map[string]bool{DefaultToken: true},
		Users: []User{{
			Name: "admin", Id: newID(), Password: "secret",
			Policy: json.RawMessage(`{"IsAdministrator":true,"IsDisabled":false,"EnableRemoteAccess":true,"BlockedTags":[]}`),
		}},
		Repos: json.RawMessage(`[{"Name":"Jellyfin Stable","Url":"https://repo.jellyfin.org/files/plugin/manifest.json","Enabled":true}]`),
		Logs:   map[string]string{},
		Images: map[string][]byte{},
	}
	f.Server = httptest.NewServer(f.router())
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the base URL of the fake.
func (f *Jellyfin) URL() string {
	return f.Server.URL
}

// Update runs fn with the server state locked.
func (f *Jellyfin) Update(fn func(f *Jellyfin)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

// Requests returns "METHOD URI" for every request received so far.
func (f *Jellyfin) Requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

// AddUser registers a user and returns its id.
func (f *Jellyfin) AddUser(name, password string, policy string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := newID()
	f.Users = append(f.Users, User{Name: name, Id: id, Password: password, Policy: json.RawMessage(policy)})
	return id
}

// User returns the user named name.
func (f *Jellyfin) User(name string) (User, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.Users {
		if u.Name == name {
			return u, true
		}
	}
	return User{}, false
}

func (f *Jellyfin) router() http.Handler {
	r := chi.NewRouter()
	r.Use(f.recordRequest)
	r.Use(panicHandler)

	r.Post("/Users/AuthenticateByName", f.authenticateByName)
	r.Group(func(r chi.Router) {
		r.Use(f.requireToken)
		r.Get("/System/Info", f.systemInfo)
		r.Get("/System/Logs/Log", f.logFile)

		r.Get("/Users", f.listUsers)
		r.Post("/Users/New", f.createUser)
		r.Get("/Users/Me", f.currentUser)
		r.Get("/Users/{id}", f.getUser)
		r.Post("/Users/{id}", f.updateUser)
		r.Delete("/Users/{id}", f.deleteUser)
		r.Post("/Users/{id}/Policy", f.setPolicy)
		r.Get("/Users/{id}/Items", f.userItems)

		r.Get("/Items", f.searchItems)
		r.Post("/Items/{id}/Images/{type}", f.uploadImage)

		r.Get("/Auth/Keys", f.listKeys)
		r.Post("/Auth/Keys", f.createKey)

		r.Get("/Devices", f.listDevices)
		r.Delete("/Devices", f.deleteDevice)

		r.Get("/ScheduledTasks", f.listTasks)
		r.Post("/ScheduledTasks/Running/{id}", f.runTask)

		r.Get("/Repositories", f.listRepositories)
		r.Post("/Repositories", f.setRepositories)
	})
	return r
}

func (f *Jellyfin) recordRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, r.Method+" "+r.URL.RequestURI())
		f.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func panicHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().Str("panic", fmt.Sprintf("%v", err)).Str("stack_trace", string(debug.Stack())).Msg("panic occurred")
				sendError(w, http.StatusInternalServerError, "unable to process request")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

var tokenRegex = regexp.MustCompile(`Token="([^"]*)"`)

func (f *Jellyfin) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		forbid := f.Forbid
		token := ""
		if m := tokenRegex.FindStringSubmatch(r.Header.Get("Authorization")); len(m) == 2 {
			token = m[1]
		}
		valid := f.Tokens[token]
		f.mu.Unlock()

		switch {
		case !valid:
			sendError(w, http.StatusUnauthorized, "invalid token")
		case forbid:
			sendError(w, http.StatusForbidden, "access denied")
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func (f *Jellyfin) systemInfo(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Info != nil {
		sendJSON(w, http.StatusOK, f.Info)
		return
	}
	sendJSON(w, http.StatusOK, map[string]any{
		"ServerName":      "den",
		"Version":         f.Version,
		"Id":              "f1e2d3c4b5a697887766554433221100",
		"OperatingSystem": "Linux",
	})
}

func (f *Jellyfin) logFile(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.Logs[r.URL.Query().Get("name")]
	if !ok {
		sendError(w, http.StatusNotFound, "log file not found")
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, content)
}

func (f *Jellyfin) authenticateByName(w http.ResponseWriter, r *http.Request) {
	if strings.Contains(r.Header.Get("Authorization"), "Token=") {
		sendError(w, http.StatusBadRequest, "unexpected token")
		return
	}
	var req struct {
		Username string
		Pw       string
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid body")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.Users {
		if u.Name == req.Username && u.Password == req.Pw {
			token := newID()
			f.Tokens[token] = true
			sendJSON(w, http.StatusOK, map[string]any{
				"AccessToken": token,
				"ServerId":    "f1e2d3c4b5a697887766554433221100",
				"User":        u,
			})
			return
		}
	}
	sendError(w, http.StatusUnauthorized, "invalid username or password")
}

func (f *Jellyfin) listUsers(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sendJSON(w, http.StatusOK, f.Users)
}

func (f *Jellyfin) findUser(id string) int {
	for i, u := range f.Users {
		if u.Id == id {
			return i
		}
	}
	return -1
}

func (f *Jellyfin) getUser(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.findUser(chi.URLParam(r, "id"))
	if i < 0 {
		sendError(w, http.StatusNotFound, "user not found")
		return
	}
	sendJSON(w, http.StatusOK, f.Users[i])
}

// currentUser answers for the first user. API keys are not bound to a user on the fake.
func (f *Jellyfin) currentUser(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Users) == 0 {
		sendError(w, http.StatusBadRequest, "no user for this token")
		return
	}
	sendJSON(w, http.StatusOK, f.Users[0])
}

func (f *Jellyfin) updateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Id            string
		Name          string
		Configuration json.RawMessage
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid body")
		return
	}
	id := chi.URLParam(r, "id")
	if req.Id != id {
		sendError(w, http.StatusBadRequest, "user id does not match")
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.findUser(id)
	if i < 0 {
		sendError(w, http.StatusNotFound, "user not found")
		return
	}
	if req.Name != "" {
		f.Users[i].Name = req.Name
	}
	if req.Configuration != nil {
		f.Users[i].Configuration = req.Configuration
	}
	w.WriteHeader(http.StatusNoContent)
}

func (f *Jellyfin) userItems(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findUser(chi.URLParam(r, "id")) < 0 {
		sendError(w, http.StatusNotFound, "user not found")
		return
	}
	f.sendItems(w, "", r.URL.Query().Get("IncludeItemTypes"))
}

func (f *Jellyfin) searchItems(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendItems(w, r.URL.Query().Get("searchTerm"), r.URL.Query().Get("IncludeItemTypes"))
}

// sendItems writes the items whose name contains term and whose type is one of
// types. Empty filters match everything.
func (f *Jellyfin) sendItems(w http.ResponseWriter, term, types string) {
	items := []Item{}
	for _, it := range f.Items {
		if term != "" && !strings.Contains(strings.ToLower(it.Name), strings.ToLower(term)) {
			continue
		}
		if types != "" && !slices.Contains(strings.Split(types, ","), it.Type) {
			continue
		}
		items = append(items, it)
	}
	sendJSON(w, http.StatusOK, map[string]any{"Items": items, "TotalRecordCount": len(items), "StartIndex": 0})
}

func (f *Jellyfin) uploadImage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		sendError(w, http.StatusBadRequest, "unable to read body")
		return
	}
	image, err := base64.StdEncoding.DecodeString(string(body))
	if err != nil {
		sendError(w, http.StatusBadRequest, "image is not base64 encoded")
		return
	}
	id := chi.URLParam(r, "id")
	f.mu.Lock()
	defer f.mu.Unlock()
	if !slices.ContainsFunc(f.Items, func(it Item) bool { return it.Id == id }) {
		sendError(w, http.StatusNotFound, "item not found")
		return
	}
	f.Images[id+"/"+chi.URLParam(r, "type")] = image
	w.WriteHeader(http.StatusNoContent)
}

func (f *Jellyfin) createUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string
		Password string
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		sendError(w, http.StatusBadRequest, "invalid body")
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.Users {
		if strings.EqualFold(u.Name, req.Name) {
			sendError(w, http.StatusBadRequest, fmt.Sprintf("A user with the name '%s' already exists.", req.Name))
			return
		}
	}
	u := User{Name: req.Name, Id: newID(), Password: req.Password, Policy: json.RawMessage(`{"IsAdministrator":false,"IsDisabled":false}`)}
	f.Users = append(f.Users, u)
	sendJSON(w, http.StatusOK, u)
}

func (f *Jellyfin) deleteUser(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.findUser(chi.URLParam(r, "id"))
	if i < 0 {
		sendError(w, http.StatusNotFound, "user not found")
		return
	}
	f.Users = append(f.Users[:i], f.Users[i+1:]...)
	w.WriteHeader(http.StatusNoContent)
}

func (f *Jellyfin) setPolicy(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil || !json.Valid(body) {
		sendError(w, http.StatusBadRequest, "invalid policy")
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.findUser(chi.URLParam(r, "id"))
	if i < 0 {
		sendError(w, http.StatusNotFound, "user not found")
		return
	}
	f.Users[i].Policy = body
	w.WriteHeader(http.StatusNoContent)
}

func (f *Jellyfin) listKeys(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := append([]Key{}, f.Keys...)
	sendJSON(w, http.StatusOK, map[string]any{"Items": items, "TotalRecordCount": len(items), "StartIndex": 0})
}

func (f *Jellyfin) createKey(w http.ResponseWriter, r *http.Request) {
	app := r.URL.Query().Get("app")
	if app == "" {
		sendError(w, http.StatusBadRequest, "app is required")
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	token := newID()
	f.Keys = append(f.Keys, Key{AppName: app, AccessToken: token, DateCreated: time.Now().UTC()})
	f.Tokens[token] = true
	w.WriteHeader(http.StatusNoContent)
}

func (f *Jellyfin) listDevices(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	f.mu.Lock()
	defer f.mu.Unlock()
	items := []Device{}
	for _, d := range f.Devices {
		if userID == "" || d.UserId == userID {
			items = append(items, d)
		}
	}
	sendJSON(w, http.StatusOK, map[string]any{"Items": items, "TotalRecordCount": len(items), "StartIndex": 0})
}

func (f *Jellyfin) deleteDevice(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, d := range f.Devices {
		if d.Id == id {
			f.Devices = append(f.Devices[:i], f.Devices[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	sendError(w, http.StatusNotFound, "device not found")
}

func (f *Jellyfin) listTasks(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sendJSON(w, http.StatusOK, append([]Task{}, f.Tasks...))
}

func (f *Jellyfin) runTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, t := range f.Tasks {
		if t.Id == id {
			f.Tasks[i].State = "Running"
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	sendError(w, http.StatusNotFound, "task not found")
}

func (f *Jellyfin) listRepositories(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sendJSON(w, http.StatusOK, f.Repos)
}

func (f *Jellyfin) setRepositories(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil || !json.Valid(body) {
		sendError(w, http.StatusBadRequest, "invalid repository list")
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Repos = body
	w.WriteHeader(http.StatusNoContent)
}

// sendJSON writes msg, which may be pre-marshalled JSON, with statusCode.
func sendJSON(w http.ResponseWriter, statusCode int, msg any) {
	var body []byte
	switch m := msg.(type) {
	case json.RawMessage:
		body = m
	case []byte:
		body = m
	default:
		var err error
		if body, err = json.Marshal(msg); err != nil {
			sendError(w, http.StatusInternalServerError, "unable to marshal json")
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(body)
}

// sendError writes a problem details body as Jellyfin does.
func sendError(w http.ResponseWriter, statusCode int, msg string) {
	body, _ := json.Marshal(map[string]any{"title": msg, "status": statusCode})
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(body)
}

// newID returns an id in the 32 hex digit form Jellyfin uses.
func newID() string {
	return uuid.Compact(uuid.New())
}
