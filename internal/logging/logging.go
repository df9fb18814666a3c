// Package logging builds the zerolog logger shared by every command.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"redkey/pkg/models"
)

// ServiceName is attached to every log line
const ServiceName = "redkey"

// New returns a logger writing to out. Format "json" emits one JSON object
// per line; anything else uses the console writer, without colors when out
// is not a terminal.
func New(cfg models.Log, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var w io.Writer = out
	if cfg.Format != "json" {
		w = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.Kitchen,
			NoColor:    !isTerminal(out),
		}
	}

	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", ServiceName).
		Logger()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
