// Package models contains the data structures used throughout dbreplicate.
package models

import "time"

// Config holds the complete configuration for a replication run.
type Config struct {
	Replication ReplicationSettings
	Postgres    *BackendConfig     // nil if not configured
	MySQL       *BackendConfig     // nil if not configured
	SMTP        *SMTPConfig        // nil if not configured
	Telegram    *TelegramConfig    // nil if not configured
	WOL         *WOLConfig         // nil if not configured
	SSHShutdown *SSHShutdownConfig // nil if not configured
}

// ReplicationSettings holds settings shared by every backend of a run.
type ReplicationSettings struct {
	WorkDir         string        // directory for the dump artifact and credential files
	Timeout         time.Duration // 0 means no timeout
	NotifyOnFailure bool          // also report failed runs
}

// Backends returns the enabled backends in the order they are replicated.
func (c Config) Backends() []BackendConfig {
	var out []BackendConfig
	for _, b := range []*BackendConfig{c.Postgres, c.MySQL} {
		if b != nil && b.Enabled {
			out = append(out, *b)
		}
	}
	return out
}

// SetNotificationsEnabled overrides the enabled flag of every configured notification channel.
func (c *Config) SetNotificationsEnabled(enabled bool) {
	if c.SMTP != nil {
		c.SMTP.Enabled = enabled
	}
	if c.Telegram != nil {
		c.Telegram.Enabled = enabled
	}
}
