package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jellyroller/jellyroller/internal/common/apperrors"
	"github.com/jellyroller/jellyroller/internal/dispatch"
	"github.com/jellyroller/jellyroller/internal/render"
	"github.com/jellyroller/jellyroller/pkg/api"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var groupShort = map[string]string{
	"activity":     "Read the server activity log",
	"devices":      "Manage devices",
	"items":        "Search and edit media items",
	"keys":         "Manage API keys",
	"libraries":    "Manage libraries",
	"logs":         "Read server log files",
	"packages":     "Browse and install packages",
	"plugins":      "Inspect installed plugins",
	"repositories": "Manage plugin repositories",
	"server":       "Control the server",
	"tasks":        "Run and inspect scheduled tasks",
	"users":        "Manage users",
}

// newResourceCmds builds one command group per resource in the route table, plus the
// workflow commands that chain several routes.
func (a *App) newResourceCmds() []*cobra.Command {
	groups := map[string]*cobra.Command{}
	var out []*cobra.Command
	groupFor := func(name string) *cobra.Command {
		if g, ok := groups[name]; ok {
			return g
		}
		g := &cobra.Command{
			Use:   name,
			Short: groupShort[name],
			Args:  noUnknownArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return cmd.Help()
			},
		}
		groups[name] = g
		out = append(out, g)
		return g
	}

	for _, r := range dispatch.Routes() {
		if r.Open {
			continue
		}
		group, _, _ := strings.Cut(r.Name, " ")
		groupFor(group).AddCommand(a.newRouteCmd(r, group))
	}
	for _, w := range a.newWorkflowCmds() {
		groupFor(w.group).AddCommand(w.cmd)
	}
	return out
}

// newRouteCmd exposes a single route as a command. Argument rules are enforced by the
// dispatcher, so cobra accepts any arguments here.
func (a *App) newRouteCmd(r *dispatch.Route, group string) *cobra.Command {
	var inputFile string
	cmd := &cobra.Command{
		Use:   strings.TrimPrefix(r.Usage(), group+" "),
		Short: r.Short,
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := dispatch.Command{Name: r.Name, Args: args, Flags: map[string]string{}}
			for _, f := range r.Flags {
				if fl := cmd.Flags().Lookup(f.Name); fl != nil && fl.Changed {
					c.Flags[f.Name] = fl.Value.String()
				}
			}
			if inputFile != "" {
				var err error
				if r.Body == dispatch.BodyImage {
					c.Input, err = LoadInputBytes(inputFile, a.stdin)
				} else {
					c.Input, err = LoadInputDocument(inputFile, a.stdin)
				}
				if err != nil {
					return err
				}
			}
			return a.runRoute(cmd.Context(), c)
		},
	}
	for _, f := range r.Flags {
		if f.Bool {
			cmd.Flags().Bool(f.Name, false, f.Usage)
		} else {
			cmd.Flags().String(f.Name, "", f.Usage)
		}
	}
	switch r.Body {
	case dispatch.BodyImage:
		cmd.Flags().StringVarP(&inputFile, "file", "f", "", "Image file to upload, or - for stdin")
	case dispatch.BodyJSON, dispatch.BodyOptionalJSON:
		cmd.Flags().StringVarP(&inputFile, "file", "f", "", "JSON or YAML input document, or - for stdin")
	}
	return cmd
}

// runRoute validates c, resolves names to ids, dispatches c and renders the response.
// Nothing is sent for a command that would not dispatch.
func (a *App) runRoute(ctx context.Context, c dispatch.Command) error {
	if err := a.requireSession(c.Name); err != nil {
		return err
	}
	if err := a.dispatcher.Check(c, resolvedFields(c.Name)...); err != nil {
		return err
	}
	c, err := a.resolveNames(ctx, c)
	if err != nil {
		return err
	}
	resp, err := a.execute(ctx, c)
	if err != nil {
		return err
	}
	if resp, err = filterResponse(c, resp, time.Now()); err != nil {
		return err
	}
	return a.output(c.Name, resp)
}

func (a *App) requireSession(command string) error {
	if a.dispatcher.State() != dispatch.Authenticated {
		return &apperrors.NotAuthenticatedError{Command: command}
	}
	return nil
}

// execute dispatches c and sends the request with the current session. A rejected
// token flags the stored session stale.
func (a *App) execute(ctx context.Context, c dispatch.Command) (*api.ApiResponse, error) {
	req, err := a.dispatcher.Dispatch(c)
	if err != nil {
		return nil, err
	}
	resp, err := a.sender.Send(ctx, a.dispatcher.Session(), req)
	if err != nil {
		var authErr *apperrors.AuthError
		if errors.As(err, &authErr) && !req.Public && a.dispatcher.Session() == a.stored {
			a.markStale()
		}
		return nil, traceErr(err, "request failed")
	}
	return resp, nil
}

func (a *App) markStale() {
	sess, err := a.store.MarkStale()
	if err != nil {
		log.Warn().Err(err).Msg("unable to flag session stale")
		return
	}
	if sess != nil {
		a.warn("the server rejected the stored credentials for %s; the session is flagged stale", sess.ServerURL)
	}
}

// output renders resp as the answer to command. When the body does not have the
// expected shape the raw JSON is printed instead and the RenderError is returned.
func (a *App) output(command string, resp *api.ApiResponse) error {
	out, err := render.Render(command, resp, a.render)
	if err != nil {
		var renderErr *apperrors.RenderError
		if errors.As(err, &renderErr) {
			a.printRaw(renderErr.Raw)
		}
		return err
	}
	return a.write(out)
}

// expect checks resp against the view of command without printing it.
func (a *App) expect(command string, resp *api.ApiResponse) error {
	if resp.Text {
		a.printRaw(resp.Raw)
		return &apperrors.RenderError{Command: command, Reason: "expected a JSON document", Raw: resp.Raw}
	}
	_, err := render.Render(command, resp, render.Options{Format: render.FormatPlain})
	var renderErr *apperrors.RenderError
	if errors.As(err, &renderErr) {
		a.printRaw(renderErr.Raw)
	}
	return err
}

func (a *App) printRaw(raw []byte) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		buf.Reset()
		buf.Write(raw)
	}
	if buf.Len() > 0 {
		buf.WriteByte('\n')
		if _, err := a.stdout.Write(buf.Bytes()); err != nil {
			log.Warn().Err(err).Msg("unable to print the raw response")
		}
	}
}

// write sends rendered output to stdout, or to the --out file.
func (a *App) write(out string) error {
	if a.outFile == "" {
		_, err := io.WriteString(a.stdout, out)
		return err
	}
	if err := os.WriteFile(a.outFile, []byte(out), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", a.outFile, err)
	}
	okLabel.Fprintf(a.stderr, "✓ Wrote %s\n", a.outFile)
	return nil
}
