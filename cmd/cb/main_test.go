package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/zulandar/caboose/internal/config"
)

func TestVersionCmd(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("version command failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "cb dev") {
		t.Errorf("expected output to contain 'cb dev', got: %s", out)
	}
	if !strings.Contains(out, "commit: none") {
		t.Errorf("expected output to contain 'commit: none', got: %s", out)
	}
}

func TestRootCmdListsCommands(t *testing.T) {
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("help failed: %v", err)
	}

	out := buf.String()
	for _, sub := range []string{"db", "scan", "dispatch", "run", "schedules", "hours", "version"} {
		if !strings.Contains(out, sub) {
			t.Errorf("help should list %q, got: %s", sub, out)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		name    string
		wantErr bool
	}{
		{"", slog.LevelInfo, "info", false},
		{"INFO", slog.LevelInfo, "info", false},
		{"debug", slog.LevelDebug, "debug", false},
		{" warning ", slog.LevelWarn, "warn", false},
		{"err", slog.LevelError, "error", false},
		{"trace", slog.LevelInfo, "", true},
	}
	for _, tc := range tests {
		level, name, err := parseLogLevel(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("parseLogLevel(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if level != tc.want || name != tc.name {
			t.Errorf("parseLogLevel(%q) = %v/%q, want %v/%q", tc.in, level, name, tc.want, tc.name)
		}
	}
}

func TestNewLogger_JSONAndOverride(t *testing.T) {
	buf := new(bytes.Buffer)
	logger, err := newLogger(config.LogConfig{Level: "warn", Format: "json"}, "debug", buf)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	logger.Debug("hello", "tenant", "acme")
	out := buf.String()
	if !strings.Contains(out, `"msg":"hello"`) || !strings.Contains(out, `"tenant":"acme"`) {
		t.Errorf("expected JSON debug line, got: %s", out)
	}

	if _, err := newLogger(config.LogConfig{Level: "loud"}, "", buf); err == nil {
		t.Error("expected error for unknown level")
	}
}
