// Package main is the entry point for the premium key admin CLI.
// It operates directly on the configured key store and secondary database.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/prn-tf/premium-keys/internal/bootstrap"
	"github.com/prn-tf/premium-keys/internal/config"
	"github.com/prn-tf/premium-keys/internal/domain"
	"github.com/prn-tf/premium-keys/internal/logging"
	"github.com/prn-tf/premium-keys/internal/service"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var errUsage = errors.New("invalid usage")

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "version":
		fmt.Printf("Premium Keys Admin CLI\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)
		return

	case "help", "-h", "--help":
		printUsage()
		return
	}

	handler, ok := commands[command]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if err := execute(command, handler, os.Args[2:]); err != nil {
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// commandFunc runs one subcommand. fs has already been parsed.
type commandFunc func(ctx context.Context, app *bootstrap.App, fs *pflag.FlagSet) (any, error)

// command pairs the flag definitions of a subcommand with its body.
type command struct {
	flags func(fs *pflag.FlagSet)
	run   commandFunc
}

var commands = map[string]command{
	"generate": {
		flags: func(fs *pflag.FlagSet) {
			fs.StringP("duration", "d", "", "key duration, e.g. 30d or 1w2d")
			fs.Int64("creator", 0, "user ID recorded as the key creator")
		},
		run: runGenerate,
	},
	"redeem": {
		flags: func(fs *pflag.FlagSet) {
			fs.StringP("key", "k", "", "key to redeem")
			fs.Int64P("user", "u", 0, "redeeming user ID")
			fs.Int64P("guild", "g", 0, "guild to grant the role in (0 grants in every guild)")
		},
		run: runRedeem,
	},
	"modify": {
		flags: func(fs *pflag.FlagSet) {
			fs.StringP("key", "k", "", "key to modify")
			fs.StringP("duration", "d", "", "new duration measured from the key's creation")
		},
		run: runModify,
	},
	"delete": {
		flags: func(fs *pflag.FlagSet) {
			fs.StringP("key", "k", "", "key to delete")
		},
		run: runDelete,
	},
	"get": {
		flags: func(fs *pflag.FlagSet) {
			fs.StringP("key", "k", "", "key to show")
		},
		run: runGet,
	},
	"list": {
		flags: func(fs *pflag.FlagSet) {
			fs.Bool("all", false, "include expired keys")
		},
		run: runList,
	},
	"stats": {run: runStats},
	"user": {
		flags: func(fs *pflag.FlagSet) {
			fs.Int64P("user", "u", 0, "user ID")
		},
		run: runUser,
	},
	"sync": {
		flags: func(fs *pflag.FlagSet) {
			fs.String("direction", "both", "push, pull or both")
		},
		run: runSync,
	},
	"reconcile": {run: runReconcile},
}

func execute(name string, cmd command, args []string) error {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "path to the configuration file")
	verbose := fs.BoolP("verbose", "v", false, "log to stderr at the configured level")
	if cmd.flags != nil {
		cmd.flags(fs)
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return errUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger := zerolog.Nop()
	if *verbose {
		cfg.Logging.Output = "stderr"
		if logger, err = logging.New(cfg.Logging); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer app.Close()

	result, err := cmd.run(ctx, app, fs)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func runGenerate(ctx context.Context, app *bootstrap.App, fs *pflag.FlagSet) (any, error) {
	duration, _ := fs.GetString("duration")
	creator, _ := fs.GetInt64("creator")
	if duration == "" {
		return nil, fmt.Errorf("--duration is required")
	}

	input := service.GenerateInput{Duration: duration}
	if creator != 0 {
		input.CreatorID = domain.Int64Ptr(creator)
	}
	return app.Keys.Generate(ctx, input)
}

func runRedeem(ctx context.Context, app *bootstrap.App, fs *pflag.FlagSet) (any, error) {
	key, err := requiredKey(fs)
	if err != nil {
		return nil, err
	}
	user, _ := fs.GetInt64("user")
	guild, _ := fs.GetInt64("guild")
	if user <= 0 {
		return nil, fmt.Errorf("--user must be a positive user ID")
	}

	return app.Keys.Redeem(ctx, service.RedeemInput{KeyID: key, RedeemerID: user, GuildID: guild})
}

func runModify(ctx context.Context, app *bootstrap.App, fs *pflag.FlagSet) (any, error) {
	key, err := requiredKey(fs)
	if err != nil {
		return nil, err
	}
	duration, _ := fs.GetString("duration")
	if duration == "" {
		return nil, fmt.Errorf("--duration is required")
	}
	return app.Keys.ModifyDuration(ctx, key, duration)
}

func runDelete(ctx context.Context, app *bootstrap.App, fs *pflag.FlagSet) (any, error) {
	key, err := requiredKey(fs)
	if err != nil {
		return nil, err
	}
	return app.Keys.DeleteKey(ctx, key)
}

func runGet(_ context.Context, app *bootstrap.App, fs *pflag.FlagSet) (any, error) {
	key, err := requiredKey(fs)
	if err != nil {
		return nil, err
	}
	return app.Keys.GetKey(key)
}

func runList(_ context.Context, app *bootstrap.App, fs *pflag.FlagSet) (any, error) {
	if all, _ := fs.GetBool("all"); all {
		return app.Keys.ListAll(), nil
	}
	return app.Keys.ListActive(), nil
}

func runStats(_ context.Context, app *bootstrap.App, _ *pflag.FlagSet) (any, error) {
	return app.Keys.Stats(), nil
}

func runUser(_ context.Context, app *bootstrap.App, fs *pflag.FlagSet) (any, error) {
	user, _ := fs.GetInt64("user")
	if user <= 0 {
		// Accept the ID as a positional argument too.
		if fs.NArg() > 0 {
			parsed, err := strconv.ParseInt(fs.Arg(0), 10, 64)
			if err != nil || parsed <= 0 {
				return nil, fmt.Errorf("invalid user ID %q", fs.Arg(0))
			}
			user = parsed
		} else {
			return nil, fmt.Errorf("--user must be a positive user ID")
		}
	}
	return app.Keys.KeysForUser(user), nil
}

func runSync(ctx context.Context, app *bootstrap.App, fs *pflag.FlagSet) (any, error) {
	if app.Sync == nil {
		return nil, service.ErrSyncDisabled
	}

	direction, _ := fs.GetString("direction")
	switch direction {
	case "push":
		push, err := app.Sync.Push(ctx)
		return map[string]any{"push": push}, err
	case "pull":
		pull, err := app.Sync.Pull(ctx)
		return map[string]any{"pull": pull}, err
	case "both":
		pull, push, err := app.Sync.Sync(ctx)
		return map[string]any{"pull": pull, "push": push}, err
	default:
		return nil, fmt.Errorf("unknown sync direction %q", direction)
	}
}

func runReconcile(ctx context.Context, app *bootstrap.App, _ *pflag.FlagSet) (any, error) {
	return app.Reconciler.RunOnce(ctx)
}

// requiredKey returns --key, falling back to the first positional argument.
func requiredKey(fs *pflag.FlagSet) (string, error) {
	key, _ := fs.GetString("key")
	if key == "" && fs.NArg() > 0 {
		key = fs.Arg(0)
	}
	if key == "" {
		return "", fmt.Errorf("--key is required")
	}
	return key, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printUsage() {
	fmt.Println(`Premium Keys Admin CLI

Usage:
  premium-admin <command> [flags]

Commands:
  generate    Generate a key (--duration 30d [--creator <id>])
  redeem      Redeem a key for a user (--key <key> --user <id> [--guild <id>])
  modify      Change a key's duration (--key <key> --duration 2w)
  delete      Delete a key and revoke its role (--key <key>)
  get         Show a key (--key <key>)
  list        List active keys ([--all])
  stats       Show key statistics
  user        Show the keys a user redeemed (--user <id>)
  sync        Synchronize with the secondary database ([--direction push|pull|both])
  reconcile   Run one expiry reconciliation cycle
  version     Print version information
  help        Show this help message

Global Flags:
  -c, --config    Path to the configuration file
  -v, --verbose   Log to stderr

Examples:
  premium-admin generate --duration 30d
  premium-admin redeem --key AbC123 --user 123456789 --guild 987654321
  premium-admin modify AbC123 --duration 1w2d
  premium-admin sync --direction push

Use "premium-admin <command> --help" for more information about a command.`)
}
