package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/jellyroller/jellyroller/internal/common/apperrors"
	"github.com/jellyroller/jellyroller/internal/common/httpclient"
	"github.com/jellyroller/jellyroller/internal/common/logtrace"
	"github.com/jellyroller/jellyroller/internal/dispatch"
	"github.com/jellyroller/jellyroller/internal/render"
	"github.com/jellyroller/jellyroller/internal/session"
	"github.com/jellyroller/jellyroller/pkg/api"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var okLabel = color.New(color.FgGreen)
var errorLabel = color.New(color.FgRed)
var warnLabel = color.New(color.FgYellow)

// App holds the state of one invocation. Nothing here outlives the process.
type App struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	// Global flags
	configFile string
	format     string
	jsonOutput bool
	verbose    bool
	outFile    string
	columns    []string

	sender     httpclient.Sender
	store      *session.Store
	stored     *api.Session // the session read from or last written to the store
	dispatcher *dispatch.Dispatcher
	render     render.Options
}

// Option customises an App.
type Option func(*App)

// WithSender replaces the transport client.
func WithSender(s httpclient.Sender) Option {
	return func(a *App) {
		a.sender = s
	}
}

// Execute runs the CLI with the process arguments and returns the exit code.
// This is called by main.main().
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return Run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
}

// Run executes one command line against explicit streams and returns the exit code.
func Run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, opts ...Option) int {
	a := &App{stdin: stdin, stdout: stdout, stderr: stderr}
	for _, opt := range opts {
		opt(a)
	}
	if !isTerminal(stderr) {
		color.NoColor = true
	}

	rootCmd := a.newRootCmd()
	rootCmd.SetArgs(args)
	rootCmd.SetIn(stdin)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return apperrors.ExitOK
	}
	a.reportError(err)
	return apperrors.ExitCode(err)
}

// newRootCmd builds the command tree.
func (a *App) newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "jellyroller [command] [flags]",
		Short: "jellyroller - a command line controller for Jellyfin servers",
		Long: `jellyroller is a command line controller for a Jellyfin media server.
It manages users, libraries, devices, plugins, scheduled tasks and API keys through
the server's REST API.

Examples:
  # Log in with an API key created in the dashboard
  jellyroller login --server https://media.local --api-key 0123456789abcdef

  # List users as a table
  jellyroller users list

  # Disable a user by name
  jellyroller users disable alice

  # Start a scan of one library, replacing its metadata
  jellyroller libraries scan 5d1a2c3b4e5f60718293a4b5c6d7e8f9 --mode replace-metadata

  # Search movies and export the result as CSV
  jellyroller items search --term alien --type Movie -o csv --out alien.csv`,
		Args:              noUnknownArgs,
		PersistentPreRunE: a.preRunHandlePersistents,
		SilenceErrors:     true, // Prevent Cobra from printing the error
		SilenceUsage:      true, // Prevent Cobra from printing usage on error
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return &apperrors.UsageError{Msg: err.Error(), Usage: "usage: " + c.UseLine()}
	})

	// Set up persistent flags
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.configFile, "config", "", "Path to the session file to override default")
	pf.StringVarP(&a.format, "format", "o", string(render.FormatTable), "Output format: table, json, plain or csv")
	pf.BoolVarP(&a.jsonOutput, "json", "j", false, "Output in JSON format (same as --format json)")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "Log requests and responses to stderr")
	pf.StringVar(&a.outFile, "out", "", "Write rendered output to a file instead of stdout")
	pf.StringSliceVar(&a.columns, "columns", nil, "Columns to show in table and csv output, e.g. Name,Id")

	// Add commands
	rootCmd.AddCommand(newVersionCmd(a))
	rootCmd.AddCommand(newLoginCmd(a))
	rootCmd.AddCommand(newLogoutCmd(a))
	rootCmd.AddCommand(newAuthCmd(a))
	for _, group := range a.newResourceCmds() {
		rootCmd.AddCommand(group)
	}
	return rootCmd
}

// preRunHandlePersistents resolves global flags and loads the session before any command runs.
func (a *App) preRunHandlePersistents(cmd *cobra.Command, args []string) error {
	logtrace.InitLoggerTo(a.stderr, a.verbose)

	format, err := render.ParseFormat(a.format)
	if err != nil {
		return err
	}
	if a.jsonOutput {
		format = render.FormatJSON
	}
	a.render = render.Options{Format: format, Columns: a.columns}

	if a.sender == nil {
		a.sender = httpclient.NewClient(Version)
	}
	if a.store, err = session.NewStore(a.configFile); err != nil {
		return err
	}
	sess, err := a.loadSession()
	if err != nil {
		return err
	}
	a.dispatcher = dispatch.New(sess)
	return nil
}

// reportError prints err with its hint. In JSON mode the error is printed as an object
// on stdout.
func (a *App) reportError(err error) {
	hint := apperrors.Hint(err)
	if a.jsonOutput || a.render.Format == render.FormatJSON {
		kv := map[string]any{
			"error":     err.Error(),
			"exit_code": apperrors.ExitCode(err),
		}
		if hint != "" {
			kv["hint"] = hint
		}
		a.printJSON(kv)
		return
	}
	errorLabel.Fprintf(a.stderr, "Error: %v\n", err)
	if hint != "" {
		fmt.Fprintf(a.stderr, "Hint: %s\n", hint)
	}
}

// noUnknownArgs rejects arguments on commands that only group subcommands.
func noUnknownArgs(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return nil
	}
	return &apperrors.UsageError{
		Msg:   fmt.Sprintf("unknown command %q for %q", strings.Join(args, " "), cmd.CommandPath()),
		Usage: fmt.Sprintf("run '%s --help' for usage", cmd.CommandPath()),
	}
}

// exactArgs is cobra.ExactArgs reporting a UsageError.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return &apperrors.UsageError{
				Msg:   fmt.Sprintf("%q takes %d argument(s), got %d", cmd.CommandPath(), n, len(args)),
				Usage: "usage: " + cmd.UseLine(),
			}
		}
		return nil
	}
}

// newVersionCmd creates and returns a new version command
func newVersionCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of jellyroller",
		Args:  noUnknownArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if a.render.Format == render.FormatJSON {
				kv := map[string]string{
					"version":      Version,
					"session_file": a.store.Path(),
				}
				a.printJSON(kv)
			} else {
				cmd.Printf("jellyroller %s\n", Version)
				cmd.Printf("Session file: %s\n", a.store.Path())
			}
		},
	}
}

// printJSON prints the given value as indented JSON to stdout
func (a *App) printJSON(data any) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(a.stdout, string(jsonData))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// warn prints a warning on stderr.
func (a *App) warn(format string, args ...any) {
	warnLabel.Fprintf(a.stderr, "Warning: "+format+"\n", args...)
}

// traceErr logs a failure at debug level before it is returned to the user.
func traceErr(err error, msg string) error {
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Debug().Err(err).Msg(msg)
	}
	return err
}
