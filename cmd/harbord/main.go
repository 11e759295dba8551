// Package main is the CLI entrypoint for Harbor. It provides subcommands for
// running the server (serve), operating the instance interactively (admin),
// and printing version information (version). The serve command loads
// configuration, opens the embedded store, connects to NATS for federation
// delivery, starts the HTTP API/gateway server, and handles graceful
// shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/harborchat/harbor/internal/admin"
	"github.com/harborchat/harbor/internal/api"
	"github.com/harborchat/harbor/internal/auth"
	"github.com/harborchat/harbor/internal/chat"
	"github.com/harborchat/harbor/internal/config"
	"github.com/harborchat/harbor/internal/events"
	"github.com/harborchat/harbor/internal/federation"
	"github.com/harborchat/harbor/internal/session"
	"github.com/harborchat/harbor/internal/store"
)

// Build-time variables set via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	args := os.Args[1:]
	verbose, debug, quiet, superQuiet := false, false, false, false
	dbPath := ""

	var rest []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-v", "--verbose":
			verbose = true
		case "-d", "--debug":
			debug = true
		case "-q", "--quiet":
			quiet = true
		case "-qq":
			superQuiet = true
		case "--db":
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "error: --db requires a path argument")
				os.Exit(1)
			}
			dbPath = args[i]
		default:
			rest = append(rest, args[i])
		}
	}

	if len(rest) < 1 {
		printUsage()
		os.Exit(1)
	}

	level := slog.LevelInfo
	switch {
	case superQuiet:
		level = slog.LevelError + 4 // silence all but explicit panics
	case quiet:
		level = slog.LevelWarn
	case debug:
		level = slog.LevelDebug
	case verbose:
		level = slog.LevelInfo
	}

	logger := setupLogger(level)

	var err error
	switch rest[0] {
	case "serve":
		err = runServe(logger, dbPath)
	case "admin":
		err = runAdmin(logger, dbPath)
	case "version", "--version":
		runVersion()
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", rest[0])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Harbor — Federated Guild Chat")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  harbord [flags] <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve     Start the Harbor server")
	fmt.Println("  admin     Open the operator shell against the local store")
	fmt.Println("  version   Print version information")
	fmt.Println("  help      Show this help message")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  -v, --verbose   info-level logging (default)")
	fmt.Println("  -d, --debug     debug-level logging")
	fmt.Println("  -q, --quiet     warn-level logging")
	fmt.Println("      -qq         suppress all logging")
	fmt.Println("      --db PATH   override the store path from config.toml")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println("  Config file:  config.toml (or set HARBOR_CONFIG_PATH)")
	fmt.Println("  Env prefix:   HARBOR_ (e.g. HARBOR_INSTANCE_DOMAIN)")
}

// runServe starts the full Harbor server: loads config, opens the embedded
// store, connects to NATS for federation delivery, wires every service, and
// runs the HTTP API/gateway server until a shutdown signal arrives.
func runServe(logger *slog.Logger, dbOverride string) error {
	logger.Info("starting harbor", slog.String("version", version), slog.String("commit", commit))

	cfgPath := configPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger.Info("configuration loaded", slog.String("path", cfgPath))

	dbPath := cfg.Store.Path
	if dbOverride != "" {
		dbPath = dbOverride
	}

	st, err := store.Open(dbPath, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()
	logger.Info("store opened", slog.String("path", dbPath))

	bus := events.New(logger)

	sessions := session.New()

	var fedDispatcher *federation.Dispatcher
	if cfg.Instance.FederationMode != "closed" {
		fedDispatcher, err = federation.New(federation.Config{
			Host:    cfg.Instance.Domain,
			NATSURL: cfg.NATS.URL,
			KeyPath: cfg.Federation.KeyPath,
			Logger:  logger,
		}, st)
		if err != nil {
			logger.Warn("federation unavailable, running in closed mode", slog.String("error", err.Error()))
		} else {
			defer fedDispatcher.Close()
		}
	}

	var chatFed chat.Federator
	if fedDispatcher != nil {
		chatFed = fedDispatcher
	}
	chatSvc := chat.New(st, bus, chatFed, logger)
	authSvc := auth.New(st, sessions)

	var inbox api.InboxVerifier
	if fedDispatcher != nil {
		inbox = fedDispatcher
	}

	srv := api.NewServer(chatSvc, authSvc, inbox, sessions, bus, cfg, version, logger)

	ctx, cancelConsumer := context.WithCancel(context.Background())
	defer cancelConsumer()
	if fedDispatcher != nil {
		go func() {
			if err := fedDispatcher.StartConsumer(ctx); err != nil && ctx.Err() == nil {
				logger.Error("federation consumer stopped", slog.String("error", err.Error()))
			}
		}()
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.HTTP.Listen))
		if err := srv.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case sig := <-shutdownCh:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	}

	cancelConsumer()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}

	logger.Info("harbor stopped")
	return nil
}

// runAdmin opens the operator shell against the local store on stdin/stdout.
func runAdmin(logger *slog.Logger, dbOverride string) error {
	cfgPath := configPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	dbPath := cfg.Store.Path
	if dbOverride != "" {
		dbPath = dbOverride
	}

	st, err := store.Open(dbPath, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	sessions := session.New()
	shell := admin.New(st, sessions, version, logDir(cfg))
	shell.Run(os.Stdin, os.Stdout)
	return nil
}

func runVersion() {
	fmt.Printf("Harbor %s\n", version)
	fmt.Printf("  commit: %s\n", commit)
}

// configPath returns the config file path from HARBOR_CONFIG_PATH env var
// or the default "config.toml".
func configPath() string {
	if p := os.Getenv("HARBOR_CONFIG_PATH"); p != "" {
		return p
	}
	return "config.toml"
}

// logDir returns the directory show_log reads hourly-rotated log files
// from — the directory containing the store file, since neither config nor
// the store define a dedicated log path.
func logDir(cfg *config.Config) string {
	dir := "."
	if idx := strings.LastIndexByte(cfg.Store.Path, '/'); idx >= 0 {
		dir = cfg.Store.Path[:idx]
	}
	return dir
}

func setupLogger(level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
