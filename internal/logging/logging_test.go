package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := ParseLevel(tc.in); got != tc.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNewJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New("json", slog.LevelInfo, &buf)
	l.Info("probe", "k", "v")
	out := buf.String()
	if !strings.Contains(out, `"msg":"probe"`) {
		t.Fatalf("json handler output missing message: %q", out)
	}
}

func TestSetAndL(t *testing.T) {
	prev := L()
	defer Set(prev)

	var buf bytes.Buffer
	Set(New("text", slog.LevelInfo, &buf))
	L().Info("swapped")
	if !strings.Contains(buf.String(), "swapped") {
		t.Fatalf("global logger did not pick up replacement: %q", buf.String())
	}

	// nil must not clobber the global.
	Set(nil)
	if L() == nil {
		t.Fatal("Set(nil) removed the global logger")
	}
}
