// Package logging builds the process logger from the logging section of the
// tool config and the command-line overrides.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"boardpm/internal/config"
)

// Options override the configured level/format. Verbose wins over Level.
type Options struct {
	Level   string
	Format  string
	Verbose bool
}

func New(w io.Writer, cfg config.LoggingConfig, opts Options) (*slog.Logger, error) {
	levelName := cfg.Level
	if opts.Level != "" {
		levelName = opts.Level
	}
	if opts.Verbose {
		levelName = "debug"
	}
	level, err := ParseLevel(levelName)
	if err != nil {
		return nil, err
	}
	format := cfg.Format
	if opts.Format != "" {
		format = opts.Format
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		handler = slog.NewTextHandler(w, handlerOpts)
	case "json":
		handler = slog.NewJSONHandler(w, handlerOpts)
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
	return slog.New(handler), nil
}

func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", name)
	}
}

// Discard returns a logger that drops everything; used where a caller did
// not wire one.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Discard()
	}
	return l
}
