package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevels(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelWarn)

	l.Debug("debug %d", 1)
	l.Info("info %d", 2)
	l.Warn("warn %d", 3)
	l.Error("error %d", 4)

	out := buf.String()
	if strings.Contains(out, "debug 1") || strings.Contains(out, "info 2") {
		t.Errorf("messages below level written: %q", out)
	}
	if !strings.Contains(out, "bundle-validator [WARN] warn 3") {
		t.Errorf("missing warn line: %q", out)
	}
	if !strings.Contains(out, "bundle-validator [ERROR] error 4") {
		t.Errorf("missing error line: %q", out)
	}
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelInfo)
	sub := l.With("engine")

	sub.Info("ready")
	if !strings.Contains(buf.String(), "bundle-validator/engine [INFO] ready") {
		t.Errorf("component prefix missing: %q", buf.String())
	}

	l.SetLevel(LevelNone)
	buf.Reset()
	sub.Error("hidden")
	if buf.Len() != 0 {
		t.Errorf("component logger ignored parent level: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"off", LevelNone, false},
		{"loud", LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestEnabledAndDiscard(t *testing.T) {
	l := Discard()
	if l.Enabled(LevelError) {
		t.Error("discard logger should not be enabled")
	}
	l.SetLevel(LevelDebug)
	if !l.Enabled(LevelDebug) {
		t.Error("debug should be enabled at debug level")
	}
	if l.Enabled(LevelNone) {
		t.Error("LevelNone is never enabled")
	}
}
