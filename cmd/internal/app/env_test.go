package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("APP_TEST_STRING", "  value  ")
	t.Setenv("APP_TEST_BOOL", "yes")
	t.Setenv("APP_TEST_INT", "-3")
	t.Setenv("APP_TEST_INT32", "7")
	t.Setenv("APP_TEST_DURATION", "90s")

	if got := EnvString("APP_TEST_STRING", "def"); got != "value" {
		t.Fatalf("EnvString=%q", got)
	}
	if got := EnvString("APP_TEST_MISSING", "def"); got != "def" {
		t.Fatalf("EnvString missing=%q", got)
	}
	if got := EnvBool("APP_TEST_BOOL", true); !got {
		t.Fatalf("unparseable bool must fall back to default")
	}
	if got := EnvInt("APP_TEST_INT", 5); got != 5 {
		t.Fatalf("negative int must fall back, got %d", got)
	}
	if got := EnvInt32("APP_TEST_INT32", 1); got != 7 {
		t.Fatalf("EnvInt32=%d", got)
	}
	if got := EnvDuration("APP_TEST_DURATION", time.Second); got != 90*time.Second {
		t.Fatalf("EnvDuration=%v", got)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "APP_DOTENV_NEW=from-file\nAPP_DOTENV_SET=from-file\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	t.Setenv("APP_DOTENV_SET", "from-env")
	t.Setenv("APP_DOTENV_NEW", "")
	if err := os.Unsetenv("APP_DOTENV_NEW"); err != nil {
		t.Fatalf("unsetenv: %v", err)
	}

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("APP_DOTENV_NEW"); got != "from-file" {
		t.Fatalf("APP_DOTENV_NEW=%q want from-file", got)
	}
	if got := os.Getenv("APP_DOTENV_SET"); got != "from-env" {
		t.Fatalf("real env must win, got %q", got)
	}
}
