package logger

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestLogger(buf *bytes.Buffer) *Logger {
	l := NewWithWriter(buf)
	l.now = func() time.Time { return time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC) }
	return l
}

func TestLogger_FormatsFields(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf)

	l.Info("session created", F("session_id", "abc"), Int("capacity", 4))

	want := "2024-01-15T10:00:00Z [INFO] session created | session_id=abc capacity=4\n"
	if buf.String() != want {
		t.Errorf("expected %q, got %q", want, buf.String())
	}
}

func TestLogger_DebugSuppressedUntilEnabled(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf)

	l.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %q", buf.String())
	}

	l.SetDebug(true)
	l.Debug("visible")
	if !strings.Contains(buf.String(), "[DEBUG] visible") {
		t.Errorf("expected debug line, got %q", buf.String())
	}
}

func TestLogger_WithPrefixesFields(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf)
	child := l.With(F("component", "reconcile"))

	child.Warn("write failed", Err(errors.New("boom")))

	want := "2024-01-15T10:00:00Z [WARN] write failed | component=reconcile error=boom\n"
	if buf.String() != want {
		t.Errorf("expected %q, got %q", want, buf.String())
	}

	// Debug toggle is shared with the parent.
	buf.Reset()
	l.SetDebug(true)
	child.Debug("shared")
	if !strings.Contains(buf.String(), "shared") {
		t.Errorf("expected child to honour parent's debug toggle, got %q", buf.String())
	}
}
