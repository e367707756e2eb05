package logger

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestSLogLoggerWritesPairs(t *testing.T) {
	var buf bytes.Buffer
	l := NewSLogLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	l.Debug("decision", "user", "u1", "allowed", true)
	l.Error("audit write failed", "error", errors.New("disk full"))
	out := buf.String()
	for _, want := range []string{"msg=decision", "user=u1", "allowed=true", `error="disk full"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %q", want, out)
		}
	}
}

func TestSLogLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewSLogLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	l.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug should be filtered, got %q", buf.String())
	}
	l.Info("shown", "dangling")
	if !strings.Contains(buf.String(), "msg=shown") {
		t.Fatalf("info should be written, got %q", buf.String())
	}
}

func TestDiscardSatisfiesLogger(t *testing.T) {
	var l Logger = NewDiscard()
	l.Debug("decision", "allowed", true)
	l.Error("audit write failed", "err", "boom")
}
