// Package config provides configuration file parsing.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/fgeck/dbreplicate/internal/models"
	"github.com/spf13/viper"
)

// Default ports.
const (
	DefaultPostgresPort = 5432
	DefaultMySQLPort    = 3306
	DefaultSMTPPort     = 465
)

// Error reports an invalid or unreadable configuration. It is always fatal and raised
// before any connection is attempted.
type Error struct {
	Key string // offending key, empty when the document itself is unreadable
	Err error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config: %s: %v", e.Key, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func keyError(key, format string, args ...any) error {
	return &Error{Key: key, Err: fmt.Errorf(format, args...)}
}

var errRequired = errors.New("is required")

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("toml")
	return &Parser{v: v}
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.Config, error) {
	p.v.SetConfigFile(path)
	p.v.SetConfigType("toml")

	if err := p.v.ReadInConfig(); err != nil {
		return nil, &Error{Err: fmt.Errorf("reading config file: %w", err)}
	}

	return p.parse()
}

// LoadReader loads configuration from a reader (useful for testing).
func (p *Parser) LoadReader(content string) (*models.Config, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, &Error{Err: fmt.Errorf("reading config: %w", err)}
	}

	return p.parse()
}

func (p *Parser) parse() (*models.Config, error) {
	cfg := &models.Config{
		Replication: models.ReplicationSettings{
			WorkDir:         p.expandEnv(p.v.GetString("replication.work_dir")),
			Timeout:         p.v.GetDuration("replication.timeout"),
			NotifyOnFailure: p.v.GetBool("replication.notify_on_failure"),
		},
	}
	if cfg.Replication.WorkDir == "" {
		cfg.Replication.WorkDir = os.TempDir()
	}
	if cfg.Replication.Timeout < 0 {
		return nil, keyError("replication.timeout", "must not be negative")
	}

	var err error
	if p.v.IsSet(models.KindPostgres) {
		if cfg.Postgres, err = p.parseBackend(models.KindPostgres, DefaultPostgresPort); err != nil {
			return nil, err
		}
	}
	if p.v.IsSet(models.KindMySQL) {
		if cfg.MySQL, err = p.parseBackend(models.KindMySQL, DefaultMySQLPort); err != nil {
			return nil, err
		}
	}
	if p.v.IsSet("smtp") {
		if cfg.SMTP, err = p.parseSMTP(); err != nil {
			return nil, err
		}
	}
	if p.v.IsSet("telegram") {
		if cfg.Telegram, err = p.parseTelegram(); err != nil {
			return nil, err
		}
	}
	if p.v.IsSet("wol") {
		if cfg.WOL, err = p.parseWOL(); err != nil {
			return nil, err
		}
	}
	if p.v.IsSet("ssh_shutdown") {
		if cfg.SSHShutdown, err = p.parseSSHShutdown(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func (p *Parser) parseBackend(kind string, defaultPort int) (*models.BackendConfig, error) {
	enabledKey := kind + ".enabled"
	p.v.SetDefault(enabledKey, true)

	mode, err := models.ParseBackupMode(p.v.GetString(kind + ".backup_type"))
	if err != nil {
		return nil, &Error{Key: kind + ".backup_type", Err: err}
	}

	backend := &models.BackendConfig{
		Kind:               kind,
		Enabled:            p.v.GetBool(enabledKey),
		BackupMode:         mode,
		NotifyOnCompletion: p.v.GetBool(kind + ".email"),
	}

	if backend.Origin, err = p.parseEndpoint(kind, "origin", defaultPort); err != nil {
		return nil, err
	}
	if backend.Target, err = p.parseEndpoint(kind, "target", defaultPort); err != nil {
		return nil, err
	}

	return backend, nil
}

func (p *Parser) parseEndpoint(kind, side string, defaultPort int) (models.Endpoint, error) {
	prefix := kind + "." + side + "_"
	ep := models.Endpoint{
		Host:     p.expandEnv(p.v.GetString(prefix + "host")),
		User:     p.expandEnv(p.v.GetString(prefix + "user")),
		Password: p.expandEnv(p.v.GetString(prefix + "password")),
		Database: p.v.GetString(prefix + "database"),
	}

	port, err := p.port(prefix+"port", defaultPort)
	if err != nil {
		return ep, err
	}
	ep.Port = port

	required := []struct{ key, value string }{
		{"host", ep.Host},
		{"user", ep.User},
		{"database", ep.Database},
	}
	for _, r := range required {
		if r.value == "" {
			return ep, &Error{Key: prefix + r.key, Err: errRequired}
		}
	}
	return ep, nil
}

// port accepts both integers and numeric strings.
func (p *Parser) port(key string, def int) (int, error) {
	if !p.v.IsSet(key) || p.v.GetString(key) == "" {
		return def, nil
	}
	raw := p.v.GetString(key)
	port := p.v.GetInt(key)
	if port <= 0 || port > 65535 || fmt.Sprint(port) != strings.TrimSpace(raw) {
		return 0, keyError(key, "invalid port %q", raw)
	}
	return port, nil
}

func (p *Parser) parseSMTP() (*models.SMTPConfig, error) {
	port, err := p.port("smtp.smtp_port", DefaultSMTPPort)
	if err != nil {
		return nil, err
	}

	smtpCfg := &models.SMTPConfig{
		Enabled:  p.v.GetBool("smtp.enabled"),
		Username: p.expandEnv(p.v.GetString("smtp.username")),
		Password: p.expandEnv(p.v.GetString("smtp.password")),
		Host:     p.v.GetString("smtp.smtp_host"),
		Port:     port,
		From:     p.v.GetString("smtp.from"),
		To:       p.v.GetStringSlice("smtp.to"),
		CC:       p.v.GetStringSlice("smtp.cc"),
	}

	if smtpCfg.Host == "" {
		return nil, &Error{Key: "smtp.smtp_host", Err: errRequired}
	}
	if smtpCfg.From == "" {
		return nil, &Error{Key: "smtp.from", Err: errRequired}
	}
	if len(smtpCfg.To) == 0 {
		return nil, keyError("smtp.to", "needs at least one recipient")
	}
	return smtpCfg, nil
}

func (p *Parser) parseTelegram() (*models.TelegramConfig, error) {
	p.v.SetDefault("telegram.enabled", true)

	tg := &models.TelegramConfig{
		Enabled:  p.v.GetBool("telegram.enabled"),
		BotToken: p.expandEnv(p.v.GetString("telegram.bot_token")),
		ChatID:   p.expandEnv(p.v.GetString("telegram.chat_id")),
	}

	if tg.BotToken == "" {
		return nil, &Error{Key: "telegram.bot_token", Err: errRequired}
	}
	if tg.ChatID == "" {
		return nil, &Error{Key: "telegram.chat_id", Err: errRequired}
	}
	return tg, nil
}

func (p *Parser) parseWOL() (*models.WOLConfig, error) {
	w := &models.WOLConfig{
		MACAddress:    p.v.GetString("wol.mac_address"),
		BroadcastIP:   p.v.GetString("wol.broadcast_ip"),
		PollAddress:   p.v.GetString("wol.poll_address"),
		Timeout:       p.v.GetDuration("wol.timeout"),
		PollInterval:  p.v.GetDuration("wol.poll_interval"),
		StabilizeWait: p.v.GetDuration("wol.stabilize_wait"),
	}

	if w.MACAddress == "" {
		return nil, &Error{Key: "wol.mac_address", Err: errRequired}
	}
	if _, err := net.ParseMAC(w.MACAddress); err != nil {
		return nil, &Error{Key: "wol.mac_address", Err: err}
	}
	if w.PollAddress != "" {
		if _, _, err := net.SplitHostPort(w.PollAddress); err != nil {
			return nil, &Error{Key: "wol.poll_address", Err: err}
		}
	}

	if w.BroadcastIP == "" {
		w.BroadcastIP = "255.255.255.255"
	}
	if w.Timeout == 0 {
		w.Timeout = 5 * time.Minute
	}
	if w.PollInterval == 0 {
		w.PollInterval = 10 * time.Second
	}
	if w.StabilizeWait == 0 {
		w.StabilizeWait = 10 * time.Second
	}
	return w, nil
}

func (p *Parser) parseSSHShutdown() (*models.SSHShutdownConfig, error) {
	s := &models.SSHShutdownConfig{
		Host:           p.v.GetString("ssh_shutdown.host"),
		Port:           p.v.GetInt("ssh_shutdown.port"),
		Username:       p.v.GetString("ssh_shutdown.username"),
		KeyPath:        p.expandEnv(p.v.GetString("ssh_shutdown.key_path")),
		KnownHostsPath: p.expandEnv(p.v.GetString("ssh_shutdown.known_hosts")),
		ShutdownDelay:  p.v.GetInt("ssh_shutdown.shutdown_delay"),
		OS:             p.v.GetString("ssh_shutdown.os"),
	}

	if s.Host == "" {
		return nil, &Error{Key: "ssh_shutdown.host", Err: errRequired}
	}
	if s.KeyPath == "" {
		return nil, &Error{Key: "ssh_shutdown.key_path", Err: errRequired}
	}
	if s.Port == 0 {
		s.Port = 22
	}
	if s.Username == "" {
		s.Username = "root"
	}
	if s.ShutdownDelay == 0 {
		s.ShutdownDelay = 1
	}
	if s.OS == "" {
		s.OS = "linux"
	}
	if s.OS != "linux" && s.OS != "windows" {
		return nil, keyError("ssh_shutdown.os", "must be one of: linux, windows")
	}
	return s, nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate checks a loaded configuration for a runnable replication.
func Validate(cfg *models.Config) error {
	if cfg == nil {
		return &Error{Err: errors.New("configuration is nil")}
	}
	if len(cfg.Backends()) == 0 {
		return &Error{Err: errors.New("no backend enabled; enable [postgres] or [mysql]")}
	}
	return nil
}
