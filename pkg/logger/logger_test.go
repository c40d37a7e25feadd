package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"warning", WARN},
		{"error", ERROR},
		{"bogus", INFO},
	}

	for _, tt := range tests {
		if got := ParseLogLevel(tt.input); got != tt.expected {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: "warn", NoColor: true})
	l.SetOutput(&buf)

	l.Info("hidden")
	l.Warn("shown %d", 1)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info message should be filtered, got %q", out)
	}
	if !strings.Contains(out, "[WARN ] shown 1") {
		t.Errorf("expected warn line, got %q", out)
	}
}

func TestEntryFieldsSorted(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: "debug", NoColor: true})
	l.SetOutput(&buf)

	l.WithFields(map[string]interface{}{"host": "web1", "run": "abc"}).
		WithField("attempt", 2).
		Debug("connecting")

	want := "[DEBUG] attempt=2 host=web1 run=abc connecting\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestDiscard(t *testing.T) {
	l := Discard()
	if l.Enabled(ERROR) {
		t.Error("discard logger should not enable any level")
	}
	l.Error("nothing")
}

func TestEntryRedact(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: "debug", NoColor: true})
	l.SetOutput(&buf)

	run := l.WithField("run", "r1").Redact("hunter2", "", "hunter22").Redact("hunter2")
	run.WithField("password", "hunter22").Warn("auth with %s failed", "hunter2")
	run.Redact("22").Info("port 22")
	l.WithField("run", "r2").Info("port 22 hunter2")
	l.Info("hunter2")

	want := "[WARN ] password=****** run=r1 auth with ****** failed\n" +
		"[INFO ] run=r1 port ******\n" +
		"[INFO ] run=r2 port 22 hunter2\n" +
		"[INFO ] hunter2\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestFormatFieldsQuoting(t *testing.T) {
	got := formatFields(map[string]interface{}{"a": "two words", "b": "", "c": "x"})
	want := `a="two words" b="" c=x`
	if got != want {
		t.Errorf("formatFields = %q, want %q", got, want)
	}
}
