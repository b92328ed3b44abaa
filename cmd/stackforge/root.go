package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/yairfalse/stackforge/internal/config"
)

var (
	version = "0.1.0"

	configPath string
	envFile    string
	debug      bool

	cfg    *config.Config
	logger zerolog.Logger

	rootCmd = &cobra.Command{
		Use:   "stackforge",
		Short: "Provision cloud accounts and starter stacks for startups",
		Long: `Stackforge - startup cloud provisioning

Stackforge recommends a starter bundle of managed services for a startup,
creates a dedicated cloud account for it, and provisions the bundle inside
that account. Requests are idempotent: repeating one for the same founder
reuses the account and only builds what is missing.`,
		Version:           version,
		SilenceUsage:      true,
		PersistentPreRunE: loadEnvironment,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`Stackforge {{.Version}}
`)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to stackforge.toml (defaults apply when empty)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before the config")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

func loadEnvironment(cmd *cobra.Command, _ []string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load env file: %w", err)
		}
	}

	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	cfg = loaded

	logger, err = newLogger(cmd.ErrOrStderr(), cfg.Log, debug)
	return err
}

// newLogger builds the process logger. Format auto writes console output
// when w is a terminal and JSON otherwise.
func newLogger(w io.Writer, lc config.LogConfig, debug bool) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(lc.Level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("parse log level: %w", err)
	}
	if debug {
		level = zerolog.DebugLevel
	}

	console := lc.Format == "console"
	if lc.Format == "auto" {
		if f, ok := w.(*os.File); ok {
			console = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
		}
	}
	if console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}
