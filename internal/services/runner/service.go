// Package runner drives a complete replication run across every enabled backend.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fgeck/dbreplicate/internal/models"
	"github.com/fgeck/dbreplicate/internal/services/mysql"
	"github.com/fgeck/dbreplicate/internal/services/notify"
	"github.com/fgeck/dbreplicate/internal/services/postgres"
	"github.com/fgeck/dbreplicate/internal/services/replicator"
	"github.com/fgeck/dbreplicate/internal/services/ssh"
	"github.com/fgeck/dbreplicate/internal/services/wol"
	"github.com/rs/zerolog"
)

// ErrNoBackend is returned when the configuration enables no backend.
var ErrNoBackend = errors.New("no backend enabled")

// Service defines the interface for the replication runner.
type Service interface {
	Run(ctx context.Context, cfg models.Config) error
}

// EngineFactory returns the engine for a backend kind.
type EngineFactory func(kind, workDir string) (replicator.Engine, error)

// NotifierFactory returns the report channel for a run, or nil.
type NotifierFactory func(cfg models.Config) notify.Notifier

// Impl implements the runner Service interface.
type Impl struct {
	wolSvc      wol.Service
	sshSvc      ssh.Service
	engines     EngineFactory
	notifierFor NotifierFactory
	logger      zerolog.Logger
}

// New creates a new runner service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		wolSvc:  wol.New(logger.With().Str("service", "wol").Logger()),
		sshSvc:  ssh.New(logger.With().Str("service", "ssh").Logger()),
		engines: DefaultEngines(logger),
		notifierFor: func(cfg models.Config) notify.Notifier {
			return notify.FromConfig(logger, cfg)
		},
		logger: logger,
	}
}

// NewWithServices creates a new runner service with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	wolSvc wol.Service,
	sshSvc ssh.Service,
	engines EngineFactory,
	notifier notify.Notifier,
) *Impl {
	return &Impl{
		wolSvc:      wolSvc,
		sshSvc:      sshSvc,
		engines:     engines,
		notifierFor: func(models.Config) notify.Notifier { return notifier },
		logger:      logger,
	}
}

// DefaultEngines builds the postgres and mysql engines.
func DefaultEngines(logger zerolog.Logger) EngineFactory {
	return func(kind, workDir string) (replicator.Engine, error) {
		switch kind {
		case models.KindPostgres:
			return postgres.New(logger, workDir), nil
		case models.KindMySQL:
			return mysql.New(logger, workDir), nil
		default:
			return nil, fmt.Errorf("unsupported backend %q", kind)
		}
	}
}

// Run wakes the target host, replicates every enabled backend in order and powers the
// target down when all of them succeeded. It stops at the first failing backend.
// A backend whose data was replicated but whose report failed still counts as
// replicated; its NotifyError is returned once the run is over.
func (s *Impl) Run(ctx context.Context, cfg models.Config) error {
	backends := cfg.Backends()
	if len(backends) == 0 {
		return ErrNoBackend
	}

	startTime := time.Now()
	s.logger.Info().Int("backends", len(backends)).Msg("starting replication run")

	if cfg.WOL != nil {
		if err := s.runWOL(ctx, cfg.WOL); err != nil {
			return err
		}
	}

	notifier := s.notifierFor(cfg)
	if notifier == nil {
		s.logger.Debug().Msg("no notification channel enabled")
	}

	var reportErr error
	for _, backend := range backends {
		err := s.replicate(ctx, cfg.Replication, backend, notifier)

		var notifyErr *replicator.NotifyError
		switch {
		case err == nil:
		case errors.As(err, &notifyErr):
			if reportErr == nil {
				reportErr = err
			}
		default:
			return fmt.Errorf("%s replication failed: %w", backend.Kind, err)
		}
	}

	if cfg.SSHShutdown != nil {
		if err := s.runSSHShutdown(ctx, cfg.SSHShutdown); err != nil {
			return err
		}
	}

	s.logger.Info().
		Dur("duration", time.Since(startTime)).
		Msg("replication run completed")

	return reportErr
}

func (s *Impl) replicate(
	ctx context.Context,
	settings models.ReplicationSettings,
	backend models.BackendConfig,
	notifier notify.Notifier,
) error {
	engine, err := s.engines(backend.Kind, settings.WorkDir)
	if err != nil {
		return err
	}

	orch := replicator.New(s.logger, engine, backend, replicator.Options{
		WorkDir:         settings.WorkDir,
		Timeout:         settings.Timeout,
		Notifier:        notifier,
		NotifyOnFailure: settings.NotifyOnFailure,
	})
	defer func() {
		if cerr := orch.Close(); cerr != nil {
			s.logger.Warn().Err(cerr).Str("backend", backend.Kind).Msg("failed to close connections")
		}
	}()

	if err := orch.Connect(ctx); err != nil {
		return err
	}
	return orch.Replicate(ctx)
}

func (s *Impl) runWOL(ctx context.Context, cfg *models.WOLConfig) error {
	result, err := s.wolSvc.Wake(ctx, *cfg)
	if err != nil {
		return fmt.Errorf("WOL failed: %w", err)
	}
	if result.Error != nil {
		return fmt.Errorf("WOL failed: %w", result.Error)
	}
	if !result.TargetReady {
		return errors.New("WOL failed: target did not become ready")
	}

	s.logger.Info().
		Bool("packet_sent", result.PacketSent).
		Dur("wait_duration", result.WaitDuration).
		Msg("WOL completed")

	return nil
}

func (s *Impl) runSSHShutdown(ctx context.Context, cfg *models.SSHShutdownConfig) error {
	result, err := s.sshSvc.Shutdown(ctx, *cfg)
	if err != nil {
		return fmt.Errorf("SSH shutdown failed: %w", err)
	}
	if result.Error != nil && !result.CommandRun {
		return fmt.Errorf("SSH shutdown failed: %w", result.Error)
	}
	if result.Error != nil {
		s.logger.Warn().Err(result.Error).Msg("shutdown command returned error (may be expected)")
	}

	s.logger.Info().Str("host", cfg.Host).Msg("SSH shutdown command sent")
	return nil
}
