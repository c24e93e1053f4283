// Package main provides the pidm CLI entry point.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/scieloorg/pidmanager/internal/config"
	"github.com/scieloorg/pidmanager/internal/registry"
)

// Version is set at build time via ldflags
var Version = "dev"

var (
	// humanOutput controls whether to use human-readable output
	humanOutput bool
	configPath  string
	verbose     bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(ExitError)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pidm",
	Short: "Assign and reconcile SciELO article identifiers",
	Long: `pidm decides the legacy (v2) and new (v3) identifiers of SciELO
article XML files against a shared registry and writes them back into
the documents.

All commands output JSON by default; use --human for readable output.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Load .env so PIDM_* variables can live next to the packages.
	_ = godotenv.Load()

	rootCmd.PersistentFlags().BoolVar(&humanOutput, "human", false, "Use human-readable output instead of JSON")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/pidm/config.yml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug details to stderr")
	rootCmd.Version = Version
}

// mustLoadConfig loads and validates configuration or exits.
func mustLoadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		exitWithError(ExitConfigError, "loading config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}
	return cfg
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func registryOptions(cfg *config.Config, logger *slog.Logger) []registry.Option {
	return []registry.Option{
		registry.WithBusyTimeout(cfg.BusyTimeout),
		registry.WithLogger(logger),
	}
}

// mustOpenRegistry opens the configured registry, creating its directory.
func mustOpenRegistry(cfg *config.Config, logger *slog.Logger) *registry.Registry {
	if err := ensureParentDir(cfg.DB); err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}
	reg, err := registry.Open(cfg.DB, registryOptions(cfg, logger)...)
	if err != nil {
		exitWithError(ExitError, "opening registry: %v", err)
	}
	return reg
}

func ensureParentDir(path string) error {
	dir := parentDir(path)
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating registry directory: %w", err)
	}
	return nil
}
