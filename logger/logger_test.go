package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestHandleWritesToFileSink(t *testing.T) {
	var buf bytes.Buffer
	h := NewHandler(&buf, nil, false)
	log := slog.New(h)
	log.Info("hello", "k", "v")
	if !strings.Contains(buf.String(), "hello") || !strings.Contains(buf.String(), "k=v") {
		t.Fatalf("unexpected output: %q", buf.String())
	}
}

func TestDebugRecordsOnlyReachFileWhenDebugIsOff(t *testing.T) {
	var buf bytes.Buffer
	h := NewHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false)
	log := slog.New(h)
	log.Debug("quiet")
	if !strings.Contains(buf.String(), "quiet") {
		t.Fatalf("debug record missing from file sink: %q", buf.String())
	}
}

func TestWithAttrsPreservesFileSink(t *testing.T) {
	var buf bytes.Buffer
	h := NewHandler(&buf, nil, false)
	log := slog.New(h).With("hart", 0)
	log.Warn("trap")
	out := buf.String()
	if !strings.Contains(out, "trap") || !strings.Contains(out, "hart=0") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestSetDebugTogglesStderrEcho(t *testing.T) {
	var buf bytes.Buffer
	h := NewHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false)
	h.SetDebug(true)
	if !h.debug {
		t.Fatal("SetDebug(true) did not stick")
	}
}
