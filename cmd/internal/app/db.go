package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDBPool builds a pgxpool with sane defaults and validates connectivity.
// It does NOT run migrations; see Migrate.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns >= 0 {
		pcfg.MinConns = cfg.DBMinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	if err := PingDB(ctx, pool, 3*time.Second); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// PingDB checks if we can acquire a connection within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}

// OpenGorm opens the gorm backend selected by cfg.GormDialect.
// TranslateError is always on: the stores depend on gorm.ErrDuplicatedKey.
func OpenGorm(cfg Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.GormDialect {
	case "sqlite":
		dialector = sqlite.Open(cfg.GormDSN)
	case "postgres":
		dialector = postgres.Open(cfg.GormDSN)
	case "mysql":
		dialector = mysql.Open(cfg.GormDSN)
	default:
		return nil, fmt.Errorf("%w: unsupported gorm dialect %q", ErrConfig, cfg.GormDialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.GormDialect, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.DBMaxConns > 0 {
		sqlDB.SetMaxOpenConns(int(cfg.DBMaxConns))
	}
	if cfg.GormDialect == "sqlite" {
		// sqlite serialises writers; one connection avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// pingGorm is the readiness probe for the gorm backend.
func pingGorm(parent context.Context, db *gorm.DB, timeout time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return sqlDB.PingContext(ctx)
}
