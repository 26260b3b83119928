// Package main is the entry point for the premium key migration tool.
// It manages the schema of the secondary key database (SQLite or PostgreSQL).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/prn-tf/premium-keys/internal/bootstrap"
	"github.com/prn-tf/premium-keys/internal/config"
	"github.com/prn-tf/premium-keys/internal/logging"
	"github.com/prn-tf/premium-keys/internal/repository"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "version":
		fmt.Printf("Premium Keys Migration Tool\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)
		if len(os.Args) > 2 {
			// With flags, also report the schema version of the configured database.
			exit(withMigrator(os.Args[2:], printVersion))
		}

	case "up":
		exit(withMigrator(os.Args[2:], func(ctx context.Context, m repository.Migrator) error {
			if err := m.Up(ctx); err != nil {
				return err
			}
			return printVersion(ctx, m)
		}))

	case "down":
		exit(withMigrator(os.Args[2:], func(ctx context.Context, m repository.Migrator) error {
			if err := m.Down(ctx); err != nil {
				return err
			}
			return printVersion(ctx, m)
		}))

	case "status":
		exit(withMigrator(os.Args[2:], printStatus))

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func exit(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func withMigrator(args []string, fn func(ctx context.Context, m repository.Migrator) error) error {
	fs := pflag.NewFlagSet("premium-migrate", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "path to the configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if !cfg.Database.Enabled() {
		return fmt.Errorf("no database configured (database.driver is %q)", cfg.Database.Driver)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, closer, err := bootstrap.OpenMigrator(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer closer.Close()

	return fn(ctx, m)
}

func printVersion(ctx context.Context, m repository.Migrator) error {
	version, err := m.Version(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Schema Version: %d\n", version)
	return nil
}

func printStatus(ctx context.Context, m repository.Migrator) error {
	statuses, err := m.Status(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tSTATE\tSOURCE")
	for _, s := range statuses {
		state := "pending"
		if s.Applied {
			state = "applied"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", s.Version, state, s.Source)
	}
	return w.Flush()
}

func printUsage() {
	fmt.Println(`Premium Keys Migration Tool

Usage:
  premium-migrate <command> [--config <path>]

Commands:
  up          Run all pending migrations
  down        Roll back the last migration
  status      Show the state of every migration
  version     Print version information (and the schema version with --config)
  help        Show this help message

Environment Variables:
  PREMIUM_DATABASE_DRIVER   sqlite, postgres or none
  PREMIUM_DATABASE_PATH     SQLite database file
  PREMIUM_DATABASE_HOST     PostgreSQL host (see config.yaml for the rest)

Examples:
  premium-migrate up --config configs/config.yaml
  premium-migrate status
  premium-migrate down

Use "premium-migrate <command> --help" for more information about a command.`)
}
