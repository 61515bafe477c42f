// Package ssh powers the replication target host down once every backend is replicated.
package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/fgeck/dbreplicate/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const dialTimeout = 30 * time.Second

// Service defines the interface for SSH operations.
type Service interface {
	Shutdown(ctx context.Context, cfg models.SSHShutdownConfig) (*models.SSHResult, error)
	CheckConnection(ctx context.Context, cfg models.SSHShutdownConfig) (*models.SSHResult, error)
}

// SSHClient wraps ssh.Client for mocking.
type SSHClient interface {
	NewSession() (SSHSession, error)
	Close() error
}

// SSHSession wraps ssh.Session for mocking.
type SSHSession interface {
	CombinedOutput(cmd string) ([]byte, error)
	Close() error
}

// ClientFactory creates SSH clients.
type ClientFactory interface {
	NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error)
}

// DefaultClientFactory dials with golang.org/x/crypto/ssh.
type DefaultClientFactory struct{}

// NewClient dials addr and completes the SSH handshake.
func (f *DefaultClientFactory) NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
	client, err := ssh.Dial(network, addr, config)
	if err != nil {
		return nil, err
	}
	return &sshClient{client: client}, nil
}

type sshClient struct {
	client *ssh.Client
}

func (c *sshClient) NewSession() (SSHSession, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (c *sshClient) Close() error {
	return c.client.Close()
}

// Impl implements Service.
type Impl struct {
	clientFactory ClientFactory
	logger        zerolog.Logger
}

// New creates a new SSH service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		clientFactory: &DefaultClientFactory{},
		logger:        logger,
	}
}

// NewWithClientFactory creates a new SSH service with a custom client factory (for testing).
func NewWithClientFactory(logger zerolog.Logger, factory ClientFactory) *Impl {
	return &Impl{
		clientFactory: factory,
		logger:        logger,
	}
}

// ShutdownCommand returns the remote command for the configured OS and delay.
func ShutdownCommand(cfg models.SSHShutdownConfig) string {
	if cfg.OS == "windows" {
		seconds := cfg.ShutdownDelay * 60
		if seconds == 0 {
			seconds = 60
		}
		return fmt.Sprintf("shutdown /s /t %d", seconds)
	}
	if cfg.ShutdownDelay == 0 {
		return "sudo shutdown -h now"
	}
	return fmt.Sprintf("sudo shutdown -h +%d", cfg.ShutdownDelay)
}

// Shutdown schedules a shutdown of the target host. A command error after the session
// ran is only logged since the host may drop the connection while going down.
func (s *Impl) Shutdown(ctx context.Context, cfg models.SSHShutdownConfig) (*models.SSHResult, error) {
	cmd := ShutdownCommand(cfg)

	s.logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("user", cfg.Username).
		Int("delay", cfg.ShutdownDelay).
		Msg("initiating remote shutdown")

	result, err := s.run(ctx, cfg, cmd)
	if !result.CommandRun {
		return result, nil
	}

	if err != nil {
		if ctx.Err() != nil {
			result.Error = ctx.Err()
		} else {
			s.logger.Warn().Err(err).Str("output", result.Output).Msg("shutdown command returned error (may be expected)")
		}
	}

	s.logger.Info().Str("output", result.Output).Msg("shutdown command completed")
	return result, nil
}

// CheckConnection logs in and runs a no-op command without shutting anything down.
func (s *Impl) CheckConnection(ctx context.Context, cfg models.SSHShutdownConfig) (*models.SSHResult, error) {
	s.logger.Debug().Str("host", cfg.Host).Int("port", cfg.Port).Msg("checking SSH connection")

	result, err := s.run(ctx, cfg, "echo OK")
	if result.CommandRun && err != nil {
		result.Error = fmt.Errorf("check command failed: %w", err)
	}
	return result, nil
}

// run executes cmd in a new session. Setup failures land in result.Error and leave
// CommandRun false; the command's own error is returned for the caller to judge.
func (s *Impl) run(ctx context.Context, cfg models.SSHShutdownConfig, cmd string) (*models.SSHResult, error) {
	result := &models.SSHResult{Command: cmd}

	client, err := s.dial(ctx, cfg)
	if err != nil {
		result.Error = err
		return result, nil
	}
	defer func() { _ = client.Close() }()

	session, err := client.NewSession()
	if err != nil {
		result.Error = fmt.Errorf("failed to create session: %w", err)
		return result, nil
	}
	defer func() { _ = session.Close() }()

	s.logger.Debug().Str("command", cmd).Msg("executing remote command")

	output, err := session.CombinedOutput(cmd)
	result.Output = string(output)
	result.CommandRun = true
	return result, err
}

// dial honours ctx even though the ssh handshake itself does not take one.
func (s *Impl) dial(ctx context.Context, cfg models.SSHShutdownConfig) (SSHClient, error) {
	sshConfig, err := s.buildConfig(cfg)
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	type dialResult struct {
		client SSHClient
		err    error
	}
	done := make(chan dialResult, 1)
	go func() {
		client, err := s.clientFactory.NewClient("tcp", addr, sshConfig)
		done <- dialResult{client, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if res := <-done; res.client != nil {
				_ = res.client.Close()
			}
		}()
		return nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", addr, res.err)
		}
		return res.client, nil
	}
}

func (s *Impl) buildConfig(cfg models.SSHShutdownConfig) (*ssh.ClientConfig, error) {
	key := cfg.PrivateKey
	if len(key) == 0 {
		if cfg.KeyPath == "" {
			return nil, errors.New("no private key provided")
		}
		var err error
		key, err = os.ReadFile(cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key from %s: %w", cfg.KeyPath, err)
		}
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey() //nolint:gosec // opt-in host key checking below
	if cfg.KnownHostsPath != "" {
		hostKeyCallback, err = knownhosts.New(cfg.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts from %s: %w", cfg.KnownHostsPath, err)
		}
	}

	return &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         dialTimeout,
	}, nil
}
