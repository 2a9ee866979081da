package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestForFormat(t *testing.T) {
	t.Parallel()

	cases := []struct {
		format string
		want   string
	}{
		{"json", `"key":"value"`},
		{"text", "key=value"},
		{"pretty", "key=value"},
		{"", "key=value"},
	}
	for _, tc := range cases {
		var buf bytes.Buffer
		log, err := ForFormat(&buf, tc.format, slog.LevelInfo)
		if err != nil {
			t.Fatalf("ForFormat(%q): %v", tc.format, err)
		}
		log.Info("hello", "key", "value")
		if !strings.Contains(buf.String(), "hello") || !strings.Contains(buf.String(), tc.want) {
			t.Fatalf("format %q: expected %q in output, got: %s", tc.format, tc.want, buf.String())
		}
	}

	if _, err := ForFormat(&bytes.Buffer{}, "xml", slog.LevelInfo); err == nil {
		t.Fatal("expected an error for an unknown format")
	}
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log, err := ForFormat(&buf, "json", slog.LevelWarn)
	if err != nil {
		t.Fatal(err)
	}
	log.Info("should not appear")
	log.Debug("also should not appear")
	if buf.Len() > 0 {
		t.Fatalf("expected no output for info/debug at warn level, got: %s", buf.String())
	}

	log.Warn("should appear")
	if !strings.Contains(buf.String(), "should appear") {
		t.Fatalf("expected warn message in output, got: %s", buf.String())
	}
}

func TestWith(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log, err := ForFormat(&buf, "json", slog.LevelInfo)
	if err != nil {
		t.Fatal(err)
	}
	log.With("backend", "native").Info("child message")

	if !strings.Contains(buf.String(), `"backend":"native"`) {
		t.Fatalf("expected backend=native in output, got: %s", buf.String())
	}
}

func TestDiscard(t *testing.T) {
	t.Parallel()
	// Should not panic
	Discard().Error("dropped")
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log, err := ForFormat(&buf, "text", slog.LevelInfo)
	if err != nil {
		t.Fatal(err)
	}

	FromContext(WithContext(context.Background(), log)).Info("roundtrip test")
	if !strings.Contains(buf.String(), "roundtrip test") {
		t.Fatalf("expected message via context logger, got: %s", buf.String())
	}
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext with no logger returned nil")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

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
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tc := range tests {
		if got := ParseLevel(tc.input); got != tc.expected {
			t.Errorf("ParseLevel(%q): expected %v, got %v", tc.input, tc.expected, got)
		}
	}
}

func TestPrettyHandlerEnabled(t *testing.T) {
	t.Parallel()
	h := NewPrettyHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn})

	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("expected info to be disabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("expected error to be enabled at warn level")
	}
}

func TestPrettyHandlerAttrsAndGroups(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	h := NewPrettyHandler(&buf, nil)

	logger := slog.New(h.WithAttrs([]slog.Attr{slog.String("run", "abc")}).WithGroup("a").WithGroup("b"))
	logger.Info("nested", "key", "val")

	out := buf.String()
	if !strings.Contains(out, "run=abc") {
		t.Fatalf("expected 'run=abc' in output, got: %s", out)
	}
	if !strings.Contains(out, "a.b.key=val") {
		t.Fatalf("expected 'a.b.key=val' in output, got: %s", out)
	}
	if h.WithGroup("") != h {
		t.Fatal("WithGroup empty string should return same handler")
	}
}

func TestPrettyQuoting(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := slog.New(NewPrettyHandler(&buf, nil))
	logger.Info("test", "path", "/models/my model.onnx", "op", "MatMul")

	out := buf.String()
	if !strings.Contains(out, `path="/models/my model.onnx"`) {
		t.Fatalf("expected quoted string with spaces, got: %s", out)
	}
	if !strings.Contains(out, "op=MatMul") {
		t.Fatalf("expected unquoted simple string, got: %s", out)
	}
}
