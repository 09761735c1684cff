package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
)

const usage = "usage: usersvc [serve | migrate | cleanup [days]]"

// Main is the CLI entrypoint used by cmd/usersvc.
// It returns an error instead of calling os.Exit to keep defers effective.
func Main(args []string) error {
	if err := LoadDotEnv(); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		a, err := New(ctx, cfg, log)
		if err != nil {
			return err
		}
		return a.Run(ctx)

	case "migrate":
		return Migrate(ctx, cfg.DatabaseURL, log)

	case "cleanup":
		days, err := parseRetentionArg(args)
		if err != nil {
			return err
		}
		a, err := New(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()
		return runCleanup(ctx, a.Sessions(), days, os.Stdout)

	case "-h", "--help", "help":
		fmt.Println(usage)
		return nil

	default:
		return fmt.Errorf("unknown command %q; %s", cmd, usage)
	}
}

// parseRetentionArg reads the optional [days] argument; 0 means the
// configured retention.
func parseRetentionArg(args []string) (int, error) {
	switch len(args) {
	case 0:
		return 0, nil
	case 1:
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("cleanup: days must be a positive integer, got %q", args[0])
		}
		return n, nil
	default:
		return 0, fmt.Errorf("cleanup: too many arguments; %s", usage)
	}
}

func runCleanup(ctx context.Context, cleaner tokenCleaner, days int, w io.Writer) error {
	res, err := cleaner.CleanupTokens(ctx, days)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "expired_deleted=%d old_revoked_deleted=%d total=%d\n",
		res.ExpiredDeleted, res.OldRevokedDeleted, res.Total())
	return err
}
