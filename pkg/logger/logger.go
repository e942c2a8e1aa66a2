// Package logger builds the process-wide zerolog logger. Modules derive
// child loggers from it with a "component" field rather than importing
// this package themselves.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// New creates the root structured logger. The level string is one of
// debug, info, warn or error; anything else falls back to info. Pretty
// switches from JSON lines to a human console writer for development.
func New(level string, pretty bool) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(level))
	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = os.Stdout
	if pretty {
		out = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
	}

	return zerolog.New(out).With().Timestamp().Caller().Logger()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetGlobalLogger replaces the zerolog package-level logger so code
// using log.Info() etc. shares the configured output.
func SetGlobalLogger(l zerolog.Logger) {
	log.Logger = l
}
