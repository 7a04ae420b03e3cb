package slogutil

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLineHandler_Format(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)

	logger.Info("Snapshot loaded", "functions", 42, "path", "/tmp/snap dir")

	output := buf.String()

	// Check format: TIMESTAMP [level] Message | key=value
	if !strings.Contains(output, "[info]") {
		t.Errorf("expected [info] in output, got: %s", output)
	}
	if !strings.Contains(output, "Snapshot loaded") {
		t.Errorf("expected message in output, got: %s", output)
	}
	if !strings.Contains(output, "functions=42") {
		t.Errorf("expected 'functions=42' in output, got: %s", output)
	}
	if !strings.Contains(output, `path="/tmp/snap dir"`) {
		t.Errorf("expected quoted path in output, got: %s", output)
	}
	if !strings.Contains(output, " | ") {
		t.Errorf("expected ' | ' separator in output, got: %s", output)
	}
	if !strings.HasSuffix(output, "\n") {
		t.Errorf("expected trailing newline, got: %q", output)
	}
}

func TestLineHandler_Levels(t *testing.T) {
	tests := []struct {
		logFunc  func(*slog.Logger)
		expected string
	}{
		{func(l *slog.Logger) { l.Debug("debug") }, "[debug]"},
		{func(l *slog.Logger) { l.Info("info") }, "[info]"},
		{func(l *slog.Logger) { l.Warn("warn") }, "[warn]"},
		{func(l *slog.Logger) { l.Error("error") }, "[error]"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(&buf, slog.LevelDebug)
			tt.logFunc(logger)

			if !strings.Contains(buf.String(), tt.expected) {
				t.Errorf("expected %s in output, got: %s", tt.expected, buf.String())
			}
		})
	}
}

func TestLineHandler_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelWarn)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	output := buf.String()
	if strings.Contains(output, "debug message") || strings.Contains(output, "info message") {
		t.Errorf("debug/info should be filtered, got: %s", output)
	}
	if !strings.Contains(output, "warn message") || !strings.Contains(output, "error message") {
		t.Errorf("warn/error should be included, got: %s", output)
	}
}

func TestLineHandler_ComponentAndGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(NewLogger(&buf, slog.LevelInfo), "snapshot")

	logger.WithGroup("index").Info("built", "entries", 3)

	output := buf.String()
	if !strings.Contains(output, "[info] snapshot: built") {
		t.Errorf("expected component prefix, got: %s", output)
	}
	if !strings.Contains(output, "index.entries=3") {
		t.Errorf("expected grouped key, got: %s", output)
	}
	if strings.Contains(output, "component=") {
		t.Errorf("component should not be rendered as an attribute, got: %s", output)
	}
}

func TestComponent_NilLogger(t *testing.T) {
	logger := Component(nil, "query")
	logger.Info("should be discarded")
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"silent", LevelSilent},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := LevelFromString(tt.input); got != tt.expected {
				t.Errorf("LevelFromString(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestLevelFromVerbosity(t *testing.T) {
	tests := []struct {
		verbosity int
		quiet     bool
		expected  slog.Level
	}{
		{0, false, slog.LevelWarn},
		{1, false, slog.LevelInfo},
		{2, false, slog.LevelDebug},
		{3, false, slog.LevelDebug},
		{0, true, LevelSilent},
		{5, true, LevelSilent},
	}

	for _, tt := range tests {
		if got := LevelFromVerbosity(tt.verbosity, tt.quiet); got != tt.expected {
			t.Errorf("LevelFromVerbosity(%d, %v) = %v, want %v", tt.verbosity, tt.quiet, got, tt.expected)
		}
	}
}

func TestTeeHandler(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	h1 := NewLineHandler(&buf1, &slog.HandlerOptions{Level: slog.LevelInfo})
	h2 := NewLineHandler(&buf2, &slog.HandlerOptions{Level: slog.LevelWarn})

	logger := slog.New(NewTeeHandler(h1, h2))
	logger.Info("info message")
	logger.Warn("warn message")

	if !strings.Contains(buf1.String(), "info message") || !strings.Contains(buf1.String(), "warn message") {
		t.Errorf("buf1 should contain both messages, got: %s", buf1.String())
	}
	if strings.Contains(buf2.String(), "info message") {
		t.Error("buf2 should not contain info message")
	}
	if !strings.Contains(buf2.String(), "warn message") {
		t.Error("buf2 should contain warn message")
	}
}

func TestSetup_ConsoleOnly(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := Setup(Options{Level: slog.LevelInfo, Console: &buf})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	defer closer.Close()

	logger.Info("hello")
	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("expected console output, got: %s", buf.String())
	}
}
