// Hearth is a personal assistant agent that talks to several LLM
// providers, runs a small fixed set of tools, and can answer over
// Telegram.
//
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	hearth serve                  Start the agent and control API
//	hearth init [dir]             Write a default config file
//	hearth vault init|status      Manage the credential vault
//	hearth key set <provider>     Store a credential read from stdin
//	hearth ask <text>             One-shot chat against the default thread
//	hearth link [file.png]        Show a QR code for the Telegram bot
//	hearth version                Print version and build information
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nugget/hearth/internal/api"
	"github.com/nugget/hearth/internal/app"
	"github.com/nugget/hearth/internal/buildinfo"
	"github.com/nugget/hearth/internal/config"
)

// main is intentionally minimal. It constructs the OS-level environment
// and delegates immediately to [run] so the whole lifecycle can be
// driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand rather than
// with the flag package, whose package-level state interferes with
// parallel tests.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "vault":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: hearth vault init|status")
		}
		return runVault(stdin, stdout, stderr, configPath, outputFmt, cmdArgs)
	case "key":
		if len(cmdArgs) != 2 || cmdArgs[0] != "set" {
			return fmt.Errorf("usage: hearth key set <provider>")
		}
		return runKeySet(stdin, stdout, stderr, configPath, cmdArgs[1])
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: hearth ask <text>")
		}
		return runAsk(ctx, stdin, stdout, stderr, configPath, cmdArgs)
	case "link":
		return runLink(ctx, stdin, stdout, stderr, configPath, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.RuntimeInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Hearth - personal assistant agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: hearth [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve               Start the agent and control API")
	fmt.Fprintln(w, "  init [dir]          Write a default config.yaml (default: .)")
	fmt.Fprintln(w, "  vault init|status   Create or inspect the credential vault")
	fmt.Fprintln(w, "  key set <name>      Store a provider key or the telegram token from stdin")
	fmt.Fprintln(w, "  ask <text>          Ask a single question")
	fmt.Fprintln(w, "  link [file.png]     Show a QR code linking to the Telegram bot")
	fmt.Fprintln(w, "  version             Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>      Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt    Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment:")
	fmt.Fprintln(w, "  HEARTH_PASSPHRASE   Vault passphrase; read from stdin when unset")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintf(w, "  %s\n", strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// runServe starts the agent and the control API and blocks until a
// shutdown signal arrives. The vault starts locked; unlock it through
// the API or set HEARTH_PASSPHRASE.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := config.NewLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Hearth", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger = config.NewLogger(stdout, level, cfg.LogFormat)
	logger.Info("config loaded",
		"path", cfgPath,
		"data_dir", cfg.DataDir,
		"listen", fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port),
	)

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	ac, err := app.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer ac.Close()

	if pass := os.Getenv(passphraseEnv); pass != "" {
		if err := ac.UnlockVault(pass); err != nil {
			logger.Warn("could not unlock vault from environment", "error", err)
		}
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ac.Start(ctx)
	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, ac, logger)

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	logger.Info("Hearth stopped")
	return nil
}

// runAsk runs one chat turn against the default thread and prints the
// reply. Background loops are not started.
func runAsk(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, configPath string, args []string) error {
	ac, cfg, err := openAgent(stderr, configPath)
	if err != nil {
		return err
	}
	defer ac.Close()

	if err := unlockIfNeeded(ac, newPrompter(stdin, stderr)); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.Providers.RequestTimeout*4)
	defer cancel()

	res, err := ac.Chat(ctx, ac.Threads.Default().ID, strings.Join(args, " "))
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	fmt.Fprintln(stdout, res.Reply.Content)
	return nil
}

// openAgent loads config and opens the agent with logs sent to w at
// warn level, keeping stdout clean for command output.
func openAgent(w io.Writer, configPath string) (*app.AgentContext, *config.Config, error) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("create data directory: %w", err)
	}
	logger := config.NewLogger(w, slog.LevelWarn, cfg.LogFormat)
	ac, err := app.Open(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return ac, cfg, nil
}

// loadConfig locates and parses the YAML configuration file.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}
