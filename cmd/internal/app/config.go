package app

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrConfig wraps every configuration error returned by LoadConfig.
var ErrConfig = errors.New("app: invalid config")

// StoreMode selects the persistence backend.
type StoreMode string

const (
	StoreMemory   StoreMode = "memory"
	StorePostgres StoreMode = "postgres"
	StoreGorm     StoreMode = "gorm"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ShutdownTimeout   time.Duration

	Store StoreMode

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	GormDialect string
	GormDSN     string

	// AutoMigrate applies goose migrations (postgres) or gorm AutoMigrate
	// (gorm) before serving.
	AutoMigrate bool

	// CleanupSchedule is a robfig/cron expression; empty disables the janitor.
	CleanupSchedule string

	// If true, /readyz returns 503 unless the database answers a ping.
	ReadinessRequireDB bool

	// If true, AUTH_TOKEN_HMAC_KEY must be set (>= 32 bytes) and refresh
	// tokens are hashed with HMAC-SHA-256.
	RequireTokenHMAC bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() (Config, error) {
	cfg := Config{
		HTTPAddr:  EnvString("APP_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("APP_LOG_LEVEL", "info"),
		LogFormat: strings.ToLower(EnvString("APP_LOG_FORMAT", "json")),

		ReadHeaderTimeout: EnvDuration("APP_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("APP_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("APP_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("APP_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("APP_HTTP_MAX_HEADER_BYTES", 1<<20),
		ShutdownTimeout:   EnvDuration("APP_SHUTDOWN_TIMEOUT", 10*time.Second),

		Store: StoreMode(strings.ToLower(EnvString("APP_STORE", string(StoreMemory)))),

		DatabaseURL: EnvString("APP_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("APP_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("APP_DB_MIN_CONNS", 0),

		GormDialect: strings.ToLower(EnvString("APP_GORM_DIALECT", "sqlite")),
		GormDSN:     EnvString("APP_GORM_DSN", "file:usersvc.db?_busy_timeout=5000"),

		AutoMigrate:     EnvBool("APP_AUTO_MIGRATE", false),
		CleanupSchedule: EnvString("APP_CLEANUP_SCHEDULE", "@hourly"),

		ReadinessRequireDB: EnvBool("APP_READINESS_REQUIRE_DB", false),
		RequireTokenHMAC:   EnvBool("APP_REQUIRE_TOKEN_HMAC", false),
	}
	if strings.EqualFold(strings.TrimSpace(cfg.CleanupSchedule), "off") {
		cfg.CleanupSchedule = ""
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the combinations LoadConfig cannot default away.
func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: APP_STORE=postgres requires APP_DATABASE_URL", ErrConfig)
		}
	case StoreGorm:
		switch c.GormDialect {
		case "sqlite", "postgres", "mysql":
		default:
			return fmt.Errorf("%w: APP_GORM_DIALECT must be sqlite, postgres or mysql, got %q", ErrConfig, c.GormDialect)
		}
		if c.GormDSN == "" {
			return fmt.Errorf("%w: APP_GORM_DSN is required for APP_STORE=gorm", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: APP_STORE must be memory, postgres or gorm, got %q", ErrConfig, c.Store)
	}

	switch c.LogFormat {
	case "json", "pretty":
	default:
		return fmt.Errorf("%w: APP_LOG_FORMAT must be json or pretty, got %q", ErrConfig, c.LogFormat)
	}

	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("%w: APP_DB_MIN_CONNS exceeds APP_DB_MAX_CONNS", ErrConfig)
	}
	return nil
}

// dbEnabled reports whether the process talks to an external database.
func (c Config) dbEnabled() bool { return c.Store != StoreMemory }
