package session

import (
	"errors"
	"testing"
	"time"
)

const (
	testAccessSecret  = "access-secret-0123456789abcdefghijklmnop"
	testRefreshSecret = "refresh-secret-0123456789abcdefghijklmno"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.AccessSecret = testAccessSecret
	cfg.RefreshSecret = testRefreshSecret
	return cfg
}

func setSecrets(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", testAccessSecret)
	t.Setenv("JWT_REFRESH_SECRET", testRefreshSecret)
}

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	setSecrets(t)

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.AccessTokenTTL != 15*time.Minute || cfg.RefreshTokenTTL != 7*24*time.Hour {
		t.Fatalf("unexpected TTLs: %v %v", cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	}
	if cfg.RetentionDays != 30 || cfg.StoreTimeout != 5*time.Second || cfg.CleanupTimeout != time.Minute || cfg.TokenFormat != FormatJWT {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Issuer != "saas" || cfg.ClockSkew != 0 || cfg.RequireEmailVerification {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	setSecrets(t)
	t.Setenv("JWT_EXPIRES_IN", "5m")
	t.Setenv("JWT_REFRESH_EXPIRES_IN", "30d")
	t.Setenv("JWT_ISSUER", "users")
	t.Setenv("AUTH_TOKEN_FORMAT", "PASETO")
	t.Setenv("REFRESH_TOKEN_RETENTION_DAYS", "7")
	t.Setenv("AUTH_STORE_TIMEOUT", "750ms")
	t.Setenv("AUTH_CLEANUP_TIMEOUT", "10m")
	t.Setenv("AUTH_CLOCK_SKEW", "2s")
	t.Setenv("AUTH_REQUIRE_EMAIL_VERIFICATION", "true")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	want := Config{
		Issuer:                   "users",
		AccessSecret:             testAccessSecret,
		RefreshSecret:            testRefreshSecret,
		AccessTokenTTL:           5 * time.Minute,
		RefreshTokenTTL:          30 * 24 * time.Hour,
		TokenFormat:              FormatPaseto,
		RetentionDays:            7,
		StoreTimeout:             750 * time.Millisecond,
		CleanupTimeout:           10 * time.Minute,
		ClockSkew:                2 * time.Second,
		RequireEmailVerification: true,
	}
	if cfg != want {
		t.Fatalf("got %+v\nwant %+v", cfg, want)
	}
}

func TestLoadConfigFromEnv_Rejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing access secret", map[string]string{"JWT_SECRET": ""}},
		{"short refresh secret", map[string]string{"JWT_REFRESH_SECRET": "short"}},
		{"equal secrets", map[string]string{"JWT_REFRESH_SECRET": testAccessSecret}},
		{"bad ttl", map[string]string{"JWT_EXPIRES_IN": "soon"}},
		{"refresh not longer than access", map[string]string{"JWT_EXPIRES_IN": "7d", "JWT_REFRESH_EXPIRES_IN": "1d"}},
		{"unknown format", map[string]string{"AUTH_TOKEN_FORMAT": "saml"}},
		{"zero retention", map[string]string{"REFRESH_TOKEN_RETENTION_DAYS": "0"}},
		{"negative timeout", map[string]string{"AUTH_STORE_TIMEOUT": "-1s"}},
		{"zero cleanup timeout", map[string]string{"AUTH_CLEANUP_TIMEOUT": "0s"}},
		{"negative skew", map[string]string{"AUTH_CLOCK_SKEW": "-1s"}},
		{"bad bool", map[string]string{"AUTH_REQUIRE_EMAIL_VERIFICATION": "maybe"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setSecrets(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfigFromEnv()
			if !errors.Is(err, ErrConfig) {
				t.Fatalf("expected ErrConfig, got %v", err)
			}
		})
	}
}

func TestParseTTL(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"15m", 15 * time.Minute, true},
		{"7d", 7 * 24 * time.Hour, true},
		{"45s", 45 * time.Second, true},
		{"2h", 2 * time.Hour, true},
		{"1h30m", 90 * time.Minute, true},
		{" 10m ", 10 * time.Minute, true},
		{"0d", 0, false},
		{"-5m", 0, false},
		{"7w", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseTTL(tt.in)
		if tt.ok && (err != nil || got != tt.want) {
			t.Fatalf("ParseTTL(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
		if !tt.ok && err == nil {
			t.Fatalf("ParseTTL(%q) = %v; want error", tt.in, got)
		}
	}
}
