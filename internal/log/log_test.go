package log

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(LevelInfo)
	})

	SetLevel(LevelInfo)
	Debug("hidden", "k", 1)
	Info("shown", "event_id", 42)
	Error("failed", errors.New("boom"), "op", "replace")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line should be filtered at INFO: %q", out)
	}
	if !strings.Contains(out, "[INFO] shown event_id=42") {
		t.Fatalf("missing info line: %q", out)
	}
	if !strings.Contains(out, "[ERROR] failed err=boom op=replace") {
		t.Fatalf("missing error line: %q", out)
	}

	buf.Reset()
	SetLevel(LevelDebug)
	Debug("visible now")
	if !strings.Contains(buf.String(), "[DEBUG] visible now") {
		t.Fatalf("debug line should pass at DEBUG: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":  LevelDebug,
		" WARN ": LevelWarn,
		"error":  LevelError,
		"":       LevelInfo,
		"trace":  LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %q, want %q", in, got, want)
		}
	}
}
