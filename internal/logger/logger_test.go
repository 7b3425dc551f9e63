package logger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func plain(buf *bytes.Buffer, level slog.Level) *PrettyHandler {
	return NewPrettyHandlerWithOptions(buf, PrettyOptions{
		HandlerOptions: slog.HandlerOptions{Level: level},
		NoColor:        true,
	})
}

func TestJSONLevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelWarn)
	log.Info("dropped")
	if buf.Len() > 0 {
		t.Fatalf("expected no output below warn, got: %s", buf.String())
	}
	log.Warn("delegate unavailable", "path", "/usr/lib/x.so")
	out := buf.String()
	if !strings.Contains(out, `"level":"WARN"`) || !strings.Contains(out, `"path":"/usr/lib/x.so"`) {
		t.Fatalf("unexpected JSON output: %s", out)
	}
}

func TestNewFromFormat(t *testing.T) {
	t.Parallel()
	tests := []struct {
		format string
		want   string
	}{
		{"json", `"msg":"ready"`},
		{"text", "msg=ready"},
		{"", "ready"},
		{"Pretty", "ready"},
	}
	for _, tc := range tests {
		var buf bytes.Buffer
		log, err := NewFromFormat(&buf, tc.format, slog.LevelInfo)
		if err != nil {
			t.Fatalf("NewFromFormat(%q): %v", tc.format, err)
		}
		log.Info("ready")
		if !strings.Contains(buf.String(), tc.want) {
			t.Errorf("format %q: expected %q in %q", tc.format, tc.want, buf.String())
		}
	}
	if _, err := NewFromFormat(&bytes.Buffer{}, "xml", slog.LevelInfo); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestDiscard(t *testing.T) {
	t.Parallel()
	log := Discard().With("k", "v")
	log.Error("nothing happens")
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext without a logger returned nil")
	}
	var buf bytes.Buffer
	ctx := WithContext(context.Background(), JSON(&buf, slog.LevelInfo))
	FromContext(ctx).With("component", "session").Info("roundtrip")
	if !strings.Contains(buf.String(), `"component":"session"`) {
		t.Fatalf("expected logger from context, got: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestPrettyLine(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := slog.New(plain(&buf, slog.LevelDebug))
	log.Warn("delegate unavailable",
		"error", errors.New("no such file"),
		"path", "/usr/lib/x.so",
		"elapsed", 1500*time.Millisecond,
		"ok", false,
	)
	out := buf.String()
	for _, want := range []string{
		"WARN  delegate unavailable",
		`error="no such file"`,
		"path=/usr/lib/x.so",
		"elapsed=1.5s",
		"ok=false",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in %q", want, out)
		}
	}
	if strings.Contains(out, "\033[") {
		t.Errorf("NoColor output contains escapes: %q", out)
	}
}

func TestPrettyColors(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	slog.New(NewPrettyHandler(&buf, nil)).Error("boom")
	if !strings.Contains(buf.String(), ansiRed) {
		t.Fatalf("expected red level, got %q", buf.String())
	}
}

func TestPrettyEnabled(t *testing.T) {
	t.Parallel()
	h := plain(&bytes.Buffer{}, slog.LevelWarn)
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info enabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("error disabled at warn level")
	}
	if !NewPrettyHandler(&bytes.Buffer{}, nil).Enabled(context.Background(), slog.LevelInfo) {
		t.Error("default level should be info")
	}
}

func TestPrettyGroups(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	h := plain(&buf, slog.LevelInfo)
	log := slog.New(h.WithAttrs([]slog.Attr{slog.String("run", "r1")}).WithGroup("bench").WithGroup("timed"))
	log.Info("done", "iterations", 10, slog.Group("latency", "avg", "2ms"))
	out := buf.String()
	for _, want := range []string{"run=r1", "bench.timed.iterations=10", "bench.timed.latency.avg=2ms"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in %q", want, out)
		}
	}
	if h.WithGroup("") != h {
		t.Error("empty group should return the same handler")
	}
}

func TestNeedsQuoting(t *testing.T) {
	t.Parallel()
	tests := map[string]bool{
		"simple":    false,
		"":          false,
		"has space": true,
		"a=b":       true,
		`q"uote`:    true,
		"line\nbrk": true,
	}
	for in, want := range tests {
		if got := needsQuoting(in); got != want {
			t.Errorf("needsQuoting(%q) = %v, want %v", in, got, want)
		}
	}
}
