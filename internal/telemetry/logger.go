// Package telemetry builds the run's logger, tracer and metrics.
package telemetry

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

var (
	ErrUnknownLevel    = errors.New("unknown log level")
	ErrUnknownFormat   = errors.New("unknown log format")
	ErrUnknownExporter = errors.New("unknown exporter")
)

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownLevel, s)
}

// NewLogger returns a text or JSON logger writing to w.
func NewLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}
