// Package dispatch maps parsed commands onto Jellyfin API requests. Dispatch is a
// pure function of the command and the dispatcher state: it validates the input and
// returns exactly one request, or an error before anything is sent.
package dispatch

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"sort"
	"strings"

	"github.com/anand-gl/jsoncanonicalizer"
	"github.com/h2non/filetype"
	"github.com/jellyroller/jellyroller/internal/common/apperrors"
	"github.com/jellyroller/jellyroller/pkg/api"
)

// Command is one parsed invocation: "users get" with its positional arguments, the
// flags the user set and an optional input document. It is not modified by Dispatch.
type Command struct {
	Name  string
	Args  []string
	Flags map[string]string
	Input []byte
}

// State of the dispatcher.
type State int

const (
	Unauthenticated State = iota
	Authenticated
)

func (s State) String() string {
	if s == Authenticated {
		return "authenticated"
	}
	return "unauthenticated"
}

// Dispatcher resolves commands against the route table.
type Dispatcher struct {
	state   State
	session *api.Session
	routes  map[string]*Route
}

// New returns a dispatcher for session. It starts Authenticated only when session
// satisfies the session invariants.
func New(session *api.Session) *Dispatcher {
	d := &Dispatcher{state: Unauthenticated, routes: routeIndex}
	if session != nil && session.Validate() == nil {
		d.state = Authenticated
		d.session = session
	}
	return d
}

// Authenticate moves the dispatcher to Authenticated with session. It is called only
// after a login request succeeded.
func (d *Dispatcher) Authenticate(session *api.Session) error {
	if session == nil {
		return &apperrors.NotAuthenticatedError{}
	}
	if err := session.Validate(); err != nil {
		return &apperrors.UsageError{Msg: fmt.Sprintf("invalid session: %v", err)}
	}
	d.session = session
	d.state = Authenticated
	return nil
}

// State returns the current state.
func (d *Dispatcher) State() State {
	return d.state
}

// Session returns the session commands are dispatched in, or nil when unauthenticated.
func (d *Dispatcher) Session() *api.Session {
	return d.session
}

// Dispatch validates cmd and builds the request it maps to.
func (d *Dispatcher) Dispatch(cmd Command) (api.ApiRequest, error) {
	route, err := d.route(cmd.Name)
	if err != nil {
		return api.ApiRequest{}, err
	}
	return route.build(cmd)
}

// Check validates cmd as Dispatch does, except that the arguments and flags listed in
// byName may hold a name that is resolved to an id later. Those only have to be non-empty.
func (d *Dispatcher) Check(cmd Command, byName ...string) error {
	route, err := d.route(cmd.Name)
	if err != nil {
		return err
	}
	_, err = route.relaxed(byName).build(cmd)
	return err
}

func (d *Dispatcher) route(name string) (*Route, error) {
	route, ok := d.routes[name]
	if !ok {
		return nil, &apperrors.UsageError{Msg: fmt.Sprintf("unknown command %q", name)}
	}
	if !route.Open && d.state != Authenticated {
		return nil, &apperrors.NotAuthenticatedError{Command: name}
	}
	return route, nil
}

// relaxed returns a copy of r whose named arguments and flags only need a value.
func (r *Route) relaxed(names []string) *Route {
	if len(names) == 0 {
		return r
	}
	c := *r
	c.Args = slices.Clone(r.Args)
	for i := range c.Args {
		if slices.Contains(names, c.Args[i].Name) {
			c.Args[i].Rule = "required"
		}
	}
	c.Flags = slices.Clone(r.Flags)
	for i := range c.Flags {
		if slices.Contains(names, c.Flags[i].Name) {
			c.Flags[i].Rule = "required"
		}
	}
	return &c
}

func (r *Route) build(cmd Command) (api.ApiRequest, error) {
	if err := r.check(cmd); err != nil {
		return api.ApiRequest{}, err
	}

	req := api.ApiRequest{
		Method: r.Method,
		Path:   r.expandPath(cmd.Args),
		Query:  url.Values{},
		Public: r.Public,
	}
	for k, v := range r.Query {
		req.Query.Set(k, v)
	}
	for _, f := range r.Flags {
		if v, ok := cmd.Flags[f.Name]; ok && f.Query != "" {
			req.Query.Set(f.Query, v)
		}
	}
	if r.Build != nil {
		if err := r.Build(cmd, &req); err != nil {
			return api.ApiRequest{}, usage(r, err)
		}
	}
	if err := r.attachInput(cmd, &req); err != nil {
		return api.ApiRequest{}, usage(r, err)
	}
	if req.ContentType == contentTypeJSON && len(req.Body) > 0 {
		if !json.Valid(req.Body) {
			return api.ApiRequest{}, usage(r, fmt.Errorf("input is not a valid JSON document"))
		}
		canonical, err := jsoncanonicalizer.Transform(req.Body)
		if err != nil {
			return api.ApiRequest{}, usage(r, fmt.Errorf("input is not a valid JSON document: %w", err))
		}
		req.Body = canonical
	}
	if len(req.Query) == 0 {
		req.Query = nil
	}
	return req, nil
}

// check verifies arity, argument rules and flags.
func (r *Route) check(cmd Command) error {
	required := 0
	for _, a := range r.Args {
		if !a.Optional {
			required++
		}
	}
	if len(cmd.Args) < required || len(cmd.Args) > len(r.Args) {
		want := fmt.Sprintf("%d", required)
		if required != len(r.Args) {
			want = fmt.Sprintf("%d to %d", required, len(r.Args))
		}
		return usage(r, fmt.Errorf("%q takes %s argument(s), got %d", r.Name, want, len(cmd.Args)))
	}
	for i, v := range cmd.Args {
		a := r.Args[i]
		if err := checkValue("argument", "<"+a.Name+">", v, a.Rule); err != nil {
			return usage(r, err)
		}
	}

	names := make([]string, 0, len(cmd.Flags))
	for name := range cmd.Flags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		f, ok := r.flag(name)
		if !ok {
			return usage(r, fmt.Errorf("unknown flag --%s for %q", name, r.Name))
		}
		if err := checkValue("value for", "--"+name, cmd.Flags[name], f.Rule); err != nil {
			return usage(r, err)
		}
	}
	for _, f := range r.Flags {
		if _, ok := cmd.Flags[f.Name]; f.Required && !ok {
			return usage(r, fmt.Errorf("flag --%s is required", f.Name))
		}
	}
	return nil
}

func (r *Route) flag(name string) (Flag, bool) {
	i := slices.IndexFunc(r.Flags, func(f Flag) bool { return f.Name == name })
	if i < 0 {
		return Flag{}, false
	}
	return r.Flags[i], true
}

// expandPath substitutes {name} placeholders with the escaped positional arguments.
func (r *Route) expandPath(args []string) string {
	p := r.Path
	for i, a := range r.Args {
		if i >= len(args) {
			break
		}
		p = strings.ReplaceAll(p, "{"+a.Name+"}", url.PathEscape(args[i]))
	}
	return p
}

func (r *Route) attachInput(cmd Command, req *api.ApiRequest) error {
	switch r.Body {
	case BodyNone:
		if len(cmd.Input) > 0 {
			return fmt.Errorf("%q does not take an input document", r.Name)
		}
	case BodyJSON, BodyOptionalJSON:
		if len(cmd.Input) == 0 {
			if r.Body == BodyJSON {
				return fmt.Errorf("%q requires an input document (--file)", r.Name)
			}
			return nil
		}
		req.Body = cmd.Input
		req.ContentType = contentTypeJSON
	case BodyImage:
		if len(cmd.Input) == 0 {
			return fmt.Errorf("%q requires an image file (--file)", r.Name)
		}
		kind, err := filetype.Match(cmd.Input)
		if err != nil || !filetype.IsImage(cmd.Input) {
			return fmt.Errorf("input is not a recognised image")
		}
		req.Body = []byte(base64.StdEncoding.EncodeToString(cmd.Input))
		req.ContentType = kind.MIME.Value
	}
	return nil
}

func usage(r *Route, err error) error {
	if ue, ok := err.(*apperrors.UsageError); ok {
		return ue
	}
	return &apperrors.UsageError{Msg: err.Error(), Usage: "usage: jellyroller " + r.Usage()}
}

const contentTypeJSON = "application/json"
