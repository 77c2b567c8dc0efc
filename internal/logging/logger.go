package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options selects the level and output format of the root logger.
type Options struct {
	Level  string
	Format string
}

// New builds the process root logger. Format "json" writes one JSON object
// per line; anything else writes human-readable console output to stderr.
func New(opts Options) zerolog.Logger {
	return NewWithWriter(opts, os.Stderr)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(opts Options, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	out := w
	if !strings.EqualFold(opts.Format, "json") {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Component derives a child logger tagged with the component name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
