// Package main is the entry point for the code guides API.
//
// MAIN PACKAGE IN GO:
// main stays minimal. It reads configuration, builds the logger and hands
// off to internal/server. All actual logic lives in internal/.
//
// COMMANDS (cobra):
//
//	codeguides [serve]   run the HTTP API and the hourly sweeper (default)
//	codeguides migrate   apply the schema and exit
//	codeguides sweep     delete expired temp signups once and exit
//
// Every command accepts --config path/to/config.yaml; environment variables
// override the file (see internal/config).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sakif/codeguides/internal/config"
	"github.com/sakif/codeguides/internal/middleware"
	"github.com/sakif/codeguides/internal/repository/sqldb"
	"github.com/sakif/codeguides/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "codeguides",
		Short:         "Code guides API server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, runServe)
		},
	}
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, runMigrate)
		},
	}
	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired temp signups once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, runSweep)
		},
	}

	root.AddCommand(serve, migrate, sweep)
	// A bare "codeguides" serves.
	root.RunE = serve.RunE
	return root
}

// run loads and validates config, builds the logger and calls fn. Errors are
// logged here so every command reports them the same way.
func run(configPath string, fn func(config.Config, *slog.Logger) error) error {
	cfg, err := config.Load(configPath)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		return err
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if err := fn(cfg, logger); err != nil {
		logger.Error("command failed", slog.String("error", err.Error()))
		return err
	}
	return nil
}

// newLogger writes human-readable text in development and JSON otherwise.
// middleware.Redact masks passwords and tokens whatever the handler.
func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.App.LogLevel))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: middleware.Redact}

	if cfg.IsDevelopment() {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// ensureDataDir creates the parent directory of a SQLite file (like mkdir -p).
func ensureDataDir(cfg config.Config) error {
	if cfg.Database.Driver != "sqlite" || strings.Contains(cfg.Database.DSN, ":memory:") {
		return nil
	}
	dir := filepath.Dir(cfg.Database.DSN)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating database directory %s: %w", dir, err)
	}
	return nil
}

func runServe(cfg config.Config, logger *slog.Logger) error {
	if err := ensureDataDir(cfg); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	// Start blocks until SIGINT/SIGTERM.
	return srv.Start()
}

func runMigrate(cfg config.Config, logger *slog.Logger) error {
	if err := ensureDataDir(cfg); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := sqldb.New(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	logger.Info("schema is up to date", slog.String("driver", cfg.Database.Driver))
	return db.Close()
}

func runSweep(cfg config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Signup.SweepTimeout+30*time.Second)
	defer cancel()

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer srv.Close()
	return srv.Sweep(ctx)
}
