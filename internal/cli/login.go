package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jellyroller/jellyroller/internal/common/apperrors"
	"github.com/jellyroller/jellyroller/internal/common/httpclient"
	"github.com/jellyroller/jellyroller/internal/common/uuid"
	"github.com/jellyroller/jellyroller/internal/dispatch"
	"github.com/jellyroller/jellyroller/internal/render"
	"github.com/jellyroller/jellyroller/pkg/api"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"golang.org/x/term"
)

// keyAppName is the application name of the API key created by a username login.
const keyAppName = httpclient.ClientName

func init() {
	mustRegister("auth status", &render.View{
		Columns: []string{"Server", "User", "UserId", "DeviceId", "LastValidated", "Stale", "SessionFile"},
		Summary: []string{"Server", "User", "Stale"},
		Schema:  `{"type":"object","required":["Server","Stale"]}`,
	})
}

// newLoginCmd creates and returns a new login command
func newLoginCmd(a *App) *cobra.Command {
	var server, apiKey, username string
	var passwordStdin bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate with a Jellyfin server",
		Long: `Login validates credentials against a Jellyfin server and stores the session
in your session file. Either an API key or a username is required.

With --username the password is read from the terminal, or from the first line of
standard input with --password-stdin. jellyroller then finds or creates an API key
named "jellyroller" and stores that key instead of the password.

Examples:
  jellyroller login --server https://media.local --api-key 0123456789abcdef
  echo "$PASSWORD" | jellyroller login --server http://localhost:8096 --username admin --password-stdin`,
		Args: noUnknownArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := api.Validator().Var(server, "required,http_url"); err != nil {
				return &apperrors.UsageError{
					Msg:   fmt.Sprintf("invalid --server %q: expected an absolute http or https URL", server),
					Usage: "usage: " + cmd.UseLine(),
				}
			}
			switch {
			case apiKey != "" && username != "":
				return apperrors.Usagef("--api-key and --username cannot be used together")
			case apiKey != "":
				return a.loginWithKey(cmd.Context(), server, apiKey)
			case username != "":
				password, err := a.readPassword(passwordStdin)
				if err != nil {
					return err
				}
				return a.loginWithPassword(cmd.Context(), server, username, password)
			}
			return &apperrors.UsageError{Msg: "one of --api-key or --username is required", Usage: "usage: " + cmd.UseLine()}
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "Server URL, e.g. http://localhost:8096")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key created in the server dashboard")
	cmd.Flags().StringVar(&username, "username", "", "Authenticate as this user")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from standard input")
	return cmd
}

// candidate returns a session for server and key that keeps the stored device id.
func (a *App) candidate(server, key string) *api.Session {
	deviceID := ""
	if current := a.dispatcher.Session(); current != nil {
		deviceID = current.DeviceID
	}
	if deviceID == "" {
		deviceID = uuid.Compact(uuid.New())
	}
	return &api.Session{ServerURL: server, APIKey: key, DeviceID: deviceID}
}

// loginWithKey validates key with a System/Info request and stores it.
func (a *App) loginWithKey(ctx context.Context, server, key string) error {
	sess := a.candidate(server, key)
	req, err := a.dispatcher.Dispatch(dispatch.Command{Name: "login"})
	if err != nil {
		return err
	}
	resp, err := a.sender.Send(ctx, sess, req)
	if err != nil {
		return loginFailed(err)
	}
	if err := a.expect("login", resp); err != nil {
		return err
	}

	sess.LastValidated = time.Now().UTC()
	if err := a.saveSession(sess); err != nil {
		return err
	}
	log.Debug().Str("server", server).Msg("session stored")
	return a.loggedIn(resp)
}

// loginWithPassword authenticates by name, then stores the jellyroller API key in
// place of the short-lived access token.
func (a *App) loginWithPassword(ctx context.Context, server, username, password string) error {
	sess := a.candidate(server, "")
	req, err := a.dispatcher.Dispatch(dispatch.Command{Name: "login password", Args: []string{username, password}})
	if err != nil {
		return err
	}
	resp, err := a.sender.Send(ctx, sess, req)
	if err != nil {
		return loginFailed(err)
	}
	if err := a.expect("login password", resp); err != nil {
		return err
	}

	auth := gjson.ParseBytes(resp.Raw)
	sess.APIKey = auth.Get("AccessToken").String()
	sess.UserID = auth.Get("User.Id").String()
	sess.UserName = auth.Get("User.Name").String()
	if err := a.dispatcher.Authenticate(sess); err != nil {
		return err
	}

	key, err := a.findOrCreateKey(ctx)
	if err != nil {
		return loginFailed(err)
	}
	stored := *sess
	stored.APIKey = key
	stored.LastValidated = time.Now().UTC()
	if err := a.saveSession(&stored); err != nil {
		return err
	}

	info, err := a.execute(ctx, dispatch.Command{Name: "server info"})
	if err != nil {
		return err
	}
	return a.loggedIn(info)
}

// findOrCreateKey returns the access token of the jellyroller API key, creating the
// key when the server has none.
func (a *App) findOrCreateKey(ctx context.Context) (string, error) {
	lookup := func() (string, error) {
		resp, err := a.execute(ctx, dispatch.Command{Name: "keys list"})
		if err != nil {
			return "", err
		}
		if err := a.expect("keys list", resp); err != nil {
			return "", err
		}
		return gjson.GetBytes(resp.Raw, fmt.Sprintf("Items.#(AppName==%q).AccessToken", keyAppName)).String(), nil
	}

	key, err := lookup()
	if err != nil || key != "" {
		return key, err
	}
	log.Debug().Str("app", keyAppName).Msg("creating API key")
	if _, err := a.execute(ctx, dispatch.Command{Name: "keys create", Flags: map[string]string{"app": keyAppName}}); err != nil {
		return "", err
	}
	if key, err = lookup(); err != nil {
		return "", err
	}
	if key == "" {
		return "", fmt.Errorf("the server did not list the %q API key after creating it", keyAppName)
	}
	return key, nil
}

// loginFailed marks a rejection of the credentials being logged in with, so the hint
// does not point at a stored session.
func loginFailed(err error) error {
	var authErr *apperrors.AuthError
	if errors.As(err, &authErr) {
		authErr.Login = true
	}
	return traceErr(err, "login failed")
}

func (a *App) loggedIn(info *api.ApiResponse) error {
	if a.render.Format == render.FormatJSON {
		return a.output("login", info)
	}
	body := gjson.ParseBytes(info.Raw)
	okLabel.Fprintf(a.stdout, "✓ Logged in to %s (%s)\n", body.Get("ServerName").String(), body.Get("Version").String())
	return nil
}

// readPassword reads the password from the first line of stdin, or prompts on the
// terminal.
func (a *App) readPassword(fromStdin bool) (string, error) {
	if fromStdin {
		line, err := bufio.NewReader(a.stdin).ReadString('\n')
		if err != nil && err != io.EOF {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	f, ok := a.stdin.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return "", apperrors.Usagef("no terminal to prompt for a password; use --password-stdin")
	}
	fmt.Fprint(a.stderr, "Password: ")
	pw, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(a.stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(pw), nil
}

// newLogoutCmd creates and returns a new logout command
func newLogoutCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored session",
		Args:  noUnknownArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.store.Clear(); err != nil {
				return err
			}
			okLabel.Fprintln(a.stdout, "✓ Logged out")
			return nil
		},
	}
}

func newAuthCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Inspect the stored session",
		Args:  noUnknownArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the stored session",
		Args:  noUnknownArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess := a.dispatcher.Session()
			if sess == nil {
				return &apperrors.NotAuthenticatedError{Command: "auth status"}
			}
			doc, err := sessionDoc(sess, a.store.Path())
			if err != nil {
				return err
			}
			return a.output("auth status", httpclient.NewResponse(200, "application/json", doc))
		},
	})
	return cmd
}

// sessionDoc describes sess without its API key.
func sessionDoc(sess *api.Session, path string) ([]byte, error) {
	return jsonDoc(
		docField{"Server", sess.ServerURL},
		docField{"User", sess.UserName},
		docField{"UserId", sess.UserID},
		docField{"DeviceId", sess.DeviceID},
		docField{"LastValidated", lastValidated(sess.LastValidated)},
		docField{"Stale", sess.Stale},
		docField{"SessionFile", path},
	)
}

func lastValidated(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func mustRegister(command string, v *render.View) {
	if err := render.Register(command, v); err != nil {
		panic(err)
	}
}
