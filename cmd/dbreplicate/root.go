package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fgeck/dbreplicate/internal/config"
	"github.com/fgeck/dbreplicate/internal/models"
	"github.com/fgeck/dbreplicate/internal/services/replicator"
	"github.com/fgeck/dbreplicate/internal/services/runner"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"

	verbose    bool
	quiet      bool
	jsonOutput bool
	logFile    string
	email      bool
	timeout    time.Duration

	logSink io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "dbreplicate [flags] <config.toml>",
	Short: "Replicate a database onto another server with dump and restore tools",
	Long: `dbreplicate copies the full state of an origin database onto a target server:
  - verifies both servers are reachable
  - dumps the origin with pg_dump or mysqldump
  - restores the dump with psql or mysql
  - removes the dump and reports the run by email or Telegram

Optionally wakes the target host before the run and shuts it down afterwards.
Use as a one-shot command with an external scheduler (cron, systemd timer, etc.)`,
	Args: cobra.ExactArgs(1),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging()
	},
	RunE:         runReplication,
	SilenceUsage: true,
	Version:      Version,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output and write it to --log-file")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "output.log", "log file written in verbose mode")

	rootCmd.Flags().BoolVar(&email, "email", false, "override whether notifications are sent")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 0, "bound each backend's dump and restore (overrides replication.timeout)")

	rootCmd.AddCommand(validateCmd)
}

func setupLogging() error {
	var console io.Writer
	if jsonOutput {
		console = os.Stdout
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		console = output
	}

	out := console
	if verbose && logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		logSink = f
		out = zerolog.MultiLevelWriter(console, f)
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()

	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	return nil
}

// loadConfig parses and validates path, then applies the command line overrides.
func loadConfig(cmd *cobra.Command, path string) (*models.Config, error) {
	cfg, err := config.NewParser().LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	applyOverrides(cmd, cfg)
	return cfg, nil
}

func applyOverrides(cmd *cobra.Command, cfg *models.Config) {
	if f := cmd.Flags().Lookup("email"); f != nil && f.Changed {
		cfg.SetNotificationsEnabled(email)
	}
	if f := cmd.Flags().Lookup("timeout"); f != nil && f.Changed {
		cfg.Replication.Timeout = timeout
	}
}

func runReplication(cmd *cobra.Command, args []string) error {
	configFile := args[0]

	cfg, err := loadConfig(cmd, configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return err
	}

	log.Info().
		Str("config", configFile).
		Int("backends", len(cfg.Backends())).
		Str("work_dir", cfg.Replication.WorkDir).
		Msg("configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runner.New(log.Logger).Run(ctx, *cfg); err != nil {
		var notifyErr *replicator.NotifyError
		if errors.As(err, &notifyErr) {
			log.Error().Err(notifyErr.Err).Msg("replication succeeded; notification failed")
		} else {
			log.Error().Err(err).Msg("replication failed")
		}
		return err
	}

	log.Info().Msg("replication completed successfully")
	return nil
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if logSink != nil {
		_ = logSink.Close()
	}
	return err
}
