// Package logging configures the process-wide slog handler.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// Output formats.
const (
	FormatAuto   = "auto"
	FormatJSON   = "json"
	FormatPretty = "pretty"
)

// ParseLevel maps debug, info, warn and error to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (valid: debug, info, warn, error)", s)
	}
}

// New builds a handler writing to w. "pretty" uses colorized tint output,
// "json" structured JSON, and "auto" picks pretty only when w is a terminal.
func New(format, level string, w io.Writer) (slog.Handler, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(format) {
	case FormatPretty:
		return tint.NewHandler(w, &tint.Options{Level: lvl, TimeFormat: time.TimeOnly}), nil
	case FormatJSON:
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}), nil
	case FormatAuto, "":
		if isTerminal(w) {
			return tint.NewHandler(w, &tint.Options{Level: lvl, TimeFormat: time.TimeOnly}), nil
		}
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (valid: auto, json, pretty)", format)
	}
}

// Setup installs a handler for stderr as the slog default.
func Setup(format, level string) error {
	h, err := New(format, level, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(h))
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
