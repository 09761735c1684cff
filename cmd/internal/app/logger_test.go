package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewLogger_JSONRedactsSecrets(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := newLogger(&buf, "info", "json")
	log.Info("auth.refresh.failed", "user_id", "u1", "refresh_token", "eyJhbGciOi", "password", "Str0ng!Pass")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "auth.refresh.failed" || rec["user_id"] != "u1" {
		t.Fatalf("unexpected record: %v", rec)
	}
	for _, k := range []string{"refresh_token", "password"} {
		if rec[k] != redacted {
			t.Fatalf("%s=%v want %q", k, rec[k], redacted)
		}
	}
	if strings.Contains(buf.String(), "Str0ng!Pass") {
		t.Fatalf("password leaked into log output: %s", buf.String())
	}
}

func TestNewLogger_LevelFilters(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := newLogger(&buf, "warn", "pretty")
	log.Info("server.start")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}
	log.Warn("janitor.stop.timeout")
	if !strings.Contains(buf.String(), "msg=janitor.stop.timeout") {
		t.Fatalf("expected pretty warn line, got %q", buf.String())
	}
}
