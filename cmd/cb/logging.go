package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/zulandar/caboose/internal/config"
)

func parseLogLevel(input string) (slog.Level, string, error) {
	level := strings.ToLower(strings.TrimSpace(input))
	switch level {
	case "", "info":
		return slog.LevelInfo, "info", nil
	case "debug":
		return slog.LevelDebug, "debug", nil
	case "warn", "warning":
		return slog.LevelWarn, "warn", nil
	case "error", "err":
		return slog.LevelError, "error", nil
	default:
		return slog.LevelInfo, "", fmt.Errorf("unsupported log level %q", input)
	}
}

// newLogger builds the process logger from the log section of the config.
// override, when set, replaces the configured level.
func newLogger(cfg config.LogConfig, override string, w io.Writer) (*slog.Logger, error) {
	raw := cfg.Level
	if override != "" {
		raw = override
	}
	level, _, err := parseLogLevel(raw)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h), nil
}
