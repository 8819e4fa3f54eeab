// Package logtrace provides logging utilities for the application.
// It integrates with zerolog for structured logging on stderr so that rendered
// command output on stdout stays clean.
package logtrace

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MaxBodyLog is the number of body bytes included in debug logs.
const MaxBodyLog = 2000

// InitLogger initializes the global logger. Verbose enables debug level; otherwise
// only warnings and errors are printed.
func InitLogger(verbose bool) {
	InitLoggerTo(os.Stderr, verbose)
}

// InitLoggerTo is InitLogger with an explicit destination.
func InitLoggerTo(w io.Writer, verbose bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly, NoColor: !isTerminal(w)}
	log.Logger = zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Truncate shortens a body for logging.
func Truncate(body []byte) string {
	if len(body) <= MaxBodyLog {
		return string(body)
	}
	return string(body[:MaxBodyLog]) + "...[truncated]"
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
