package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fgeck/dbreplicate/internal/models"
	"github.com/fgeck/dbreplicate/internal/services/runner"
	"github.com/fgeck/dbreplicate/internal/services/ssh"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	checkConnections bool
	checkSSH         bool
)

var validateCmd = &cobra.Command{
	Use:   "validate <config.toml>",
	Short: "Validate configuration file",
	Long: `Validate the configuration file without dumping or restoring anything.
With --connect, both endpoints of every enabled backend are verified as well.`,
	Args: cobra.ExactArgs(1),
	RunE: validateConfig,
}

func init() {
	validateCmd.Flags().BoolVar(&checkConnections, "connect", false, "verify that every origin and target accepts connections")
	validateCmd.Flags().BoolVar(&checkSSH, "ssh", false, "verify the SSH shutdown login")
}

func validateConfig(cmd *cobra.Command, args []string) error {
	configFile := args[0]

	cfg, err := loadConfig(cmd, configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("configuration validation failed")
		return err
	}

	printSummary(cfg)

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	if checkConnections {
		if err := verifyConnections(ctx, cfg); err != nil {
			return err
		}
	}

	if checkSSH && cfg.SSHShutdown != nil {
		result, err := ssh.New(log.Logger).CheckConnection(ctx, *cfg.SSHShutdown)
		if err == nil {
			err = result.Error
		}
		if err != nil {
			log.Error().Err(err).Str("host", cfg.SSHShutdown.Host).Msg("SSH check failed")
			return err
		}
		fmt.Printf("SSH login to %s: OK\n", cfg.SSHShutdown.Host)
	}

	return nil
}

func verifyConnections(ctx context.Context, cfg *models.Config) error {
	engines := runner.DefaultEngines(log.Logger)
	for _, backend := range cfg.Backends() {
		engine, err := engines(backend.Kind, cfg.Replication.WorkDir)
		if err != nil {
			return err
		}
		for _, side := range []struct {
			name string
			ep   models.Endpoint
		}{{"origin", backend.Origin}, {"target", backend.Target}} {
			handle, err := engine.Verify(ctx, side.name, side.ep)
			if err != nil {
				log.Error().Err(err).Str("backend", backend.Kind).Msg("connection check failed")
				return err
			}
			_ = handle.Close()
			fmt.Printf("%s %s (%s): OK\n", backend.Kind, side.name, side.ep.Address())
		}
	}
	return nil
}

func printSummary(cfg *models.Config) {
	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Println("Replication:")
	fmt.Printf("  Work dir: %s\n", cfg.Replication.WorkDir)
	if cfg.Replication.Timeout > 0 {
		fmt.Printf("  Timeout: %s\n", cfg.Replication.Timeout)
	}
	fmt.Printf("  Report failures: %v\n", cfg.Replication.NotifyOnFailure)

	for _, backend := range []*models.BackendConfig{cfg.Postgres, cfg.MySQL} {
		if backend == nil {
			continue
		}
		fmt.Println()
		fmt.Printf("%s (enabled: %v):\n", backend.Kind, backend.Enabled)
		fmt.Printf("  Origin: %s@%s/%s\n", backend.Origin.User, backend.Origin.Address(), backend.Origin.Database)
		fmt.Printf("  Target: %s@%s/%s\n", backend.Target.User, backend.Target.Address(), backend.Target.Database)
		fmt.Printf("  Backup type: %s\n", backend.BackupMode)
	}

	fmt.Println()
	fmt.Println("Optional Features:")
	fmt.Printf("  Email: %v\n", cfg.SMTP != nil && cfg.SMTP.Enabled)
	fmt.Printf("  Telegram: %v\n", cfg.Telegram != nil && cfg.Telegram.Enabled)
	fmt.Printf("  Wake-on-LAN: %v\n", cfg.WOL != nil)
	fmt.Printf("  SSH Shutdown: %v\n", cfg.SSHShutdown != nil)

	if cfg.SMTP != nil {
		fmt.Println()
		fmt.Println("SMTP Configuration:")
		fmt.Printf("  Server: %s:%d\n", cfg.SMTP.Host, cfg.SMTP.Port)
		fmt.Printf("  From: %s\n", cfg.SMTP.From)
		fmt.Printf("  To: %v\n", cfg.SMTP.To)
		if len(cfg.SMTP.CC) > 0 {
			fmt.Printf("  Cc: %v\n", cfg.SMTP.CC)
		}
	}

	if cfg.WOL != nil {
		fmt.Println()
		fmt.Println("WOL Configuration:")
		fmt.Printf("  MAC Address: %s\n", cfg.WOL.MACAddress)
		fmt.Printf("  Broadcast IP: %s\n", cfg.WOL.BroadcastIP)
		if cfg.WOL.PollAddress != "" {
			fmt.Printf("  Poll address: %s\n", cfg.WOL.PollAddress)
		}
	}

	if cfg.SSHShutdown != nil {
		fmt.Println()
		fmt.Println("SSH Shutdown Configuration:")
		fmt.Printf("  Host: %s\n", cfg.SSHShutdown.Host)
		fmt.Printf("  Port: %d\n", cfg.SSHShutdown.Port)
		fmt.Printf("  Username: %s\n", cfg.SSHShutdown.Username)
		fmt.Printf("  OS: %s\n", cfg.SSHShutdown.OS)
		fmt.Printf("  Shutdown Delay: %d minute(s)\n", cfg.SSHShutdown.ShutdownDelay)
	}
}
