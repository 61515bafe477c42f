// Package replicator drives one backend through connect, dump, restore, cleanup and report.
package replicator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fgeck/dbreplicate/internal/models"
	"github.com/fgeck/dbreplicate/internal/runlog"
	"github.com/fgeck/dbreplicate/internal/services/notify"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const notificationTimeout = 2 * time.Minute

// Service is one backend replication: Connect, then Replicate, then Close.
type Service interface {
	Kind() string
	Connect(ctx context.Context) error
	Replicate(ctx context.Context) error
	Close() error
}

// Engine carries out the backend specific steps.
type Engine interface {
	Kind() string
	Verify(ctx context.Context, name string, ep models.Endpoint) (io.Closer, error)
	Dump(ctx context.Context, origin models.Endpoint, mode models.BackupMode, outPath string) (*models.RunOutput, error)
	Restore(ctx context.Context, target models.Endpoint, database, inPath string) (*models.RunOutput, error)
}

// Options tunes an Orchestrator.
type Options struct {
	WorkDir         string
	Timeout         time.Duration   // bounds Replicate; 0 means none
	Notifier        notify.Notifier // nil disables reports
	NotifyOnFailure bool
}

// Orchestrator implements Service on top of an Engine.
type Orchestrator struct {
	engine Engine
	cfg    models.BackendConfig
	opts   Options
	logger zerolog.Logger

	now      func() time.Time
	newRunID func() string
	remove   func(string) error

	origin   io.Closer
	target   io.Closer
	state    State
	reason   error
	artifact string
	log      *runlog.Log
}

// New creates an Orchestrator for one backend configuration.
func New(logger zerolog.Logger, engine Engine, cfg models.BackendConfig, opts Options) *Orchestrator {
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}
	logger = logger.With().Str("backend", engine.Kind()).Logger()
	return &Orchestrator{
		engine:   engine,
		cfg:      cfg,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		newRunID: uuid.NewString,
		remove:   os.Remove,
		log:      runlog.New(logger),
	}
}

// Kind returns the backend kind.
func (o *Orchestrator) Kind() string {
	return o.engine.Kind()
}

// State returns the current state.
func (o *Orchestrator) State() State {
	return o.state
}

// Err returns the reason of a Failed state.
func (o *Orchestrator) Err() error {
	return o.reason
}

// Artifact returns the dump artifact path of the current run, if one was chosen.
func (o *Orchestrator) Artifact() string {
	return o.artifact
}

// RunLog returns the records accumulated so far.
func (o *Orchestrator) RunLog() []string {
	return o.log.Records()
}

// Connect verifies the origin, then the target. Handles opened before a failure are
// released by Close.
func (o *Orchestrator) Connect(ctx context.Context) error {
	if o.state != Idle {
		return o.fail(fmt.Errorf("connect called in state %s", o.state))
	}

	origin, err := o.engine.Verify(ctx, "origin", o.cfg.Origin)
	if err != nil {
		return o.fail(err)
	}
	o.origin = origin

	target, err := o.engine.Verify(ctx, "target", o.cfg.Target)
	if err != nil {
		return o.fail(err)
	}
	o.target = target

	o.state = Connected
	o.logger.Info().
		Str("origin", o.cfg.Origin.Address()).
		Str("target", o.cfg.Target.Address()).
		Msg("connected to both databases")
	return nil
}

// Replicate dumps the origin, restores the dump on the target, removes the dump and
// sends the report. It runs at most once per Orchestrator.
func (o *Orchestrator) Replicate(ctx context.Context) error {
	if o.state != Connected || o.origin == nil || o.target == nil {
		return o.fail(ErrNotConnected)
	}

	if o.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
	}

	origin, target := o.cfg.Origin, o.cfg.Target
	o.log.Info(fmt.Sprintf("Replicating all data from %s to %s (%s backup)", origin.Host, target.Host, o.cfg.BackupMode))

	if err := os.MkdirAll(o.opts.WorkDir, 0o750); err != nil {
		return o.failRun(ctx, &StepError{Step: StepDump, Err: fmt.Errorf("failed to create work directory: %w", err)})
	}
	o.artifact = filepath.Join(o.opts.WorkDir, o.artifactName())

	out, err := o.engine.Dump(ctx, origin, o.cfg.BackupMode, o.artifact)
	o.record(out)
	if err != nil {
		return o.failRun(ctx, &StepError{Step: StepDump, Artifact: o.artifact, Err: err})
	}
	o.state = Dumped
	o.log.Info("Data successfully dumped to " + o.artifact)

	if _, err := os.Stat(o.artifact); err != nil {
		return o.failRun(ctx, &StepError{Step: StepDump, Artifact: o.artifact, Err: fmt.Errorf("dump artifact missing: %w", err)})
	}

	// The origin database name is restored on the target server.
	out, err = o.engine.Restore(ctx, target, origin.Database, o.artifact)
	o.record(out)
	if err != nil {
		return o.failRun(ctx, &StepError{Step: StepRestore, Artifact: o.artifact, Err: err})
	}
	o.state = Restored
	o.log.Info(fmt.Sprintf("Successfully replicated all data from %s to %s", origin.Host, target.Host))

	if err := o.remove(o.artifact); err != nil {
		o.logger.Warn().Err(err).Str("artifact", o.artifact).Msg("could not remove dump artifact")
	}
	o.state = CleanedUp

	if o.opts.Notifier == nil {
		o.state = Done
		return nil
	}

	subject := fmt.Sprintf("%s Replication %s", strings.ToUpper(o.engine.Kind()), o.timestamp())
	if err := o.sendReport(ctx, subject, o.log.String()); err != nil {
		o.logger.Error().Err(err).Msg("replication succeeded but the report could not be delivered")
		return &NotifyError{Err: err}
	}
	o.state = Notified
	o.logger.Info().Msg("report sent")

	o.state = Done
	return nil
}

// Close releases both connections. It is safe to call in any state and more than once.
func (o *Orchestrator) Close() error {
	var errs []error
	if o.origin != nil {
		o.logger.Info().Str("host", o.cfg.Origin.Host).Msg("disconnecting from origin")
		if err := o.origin.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close origin: %w", err))
		}
		o.origin = nil
	}
	if o.target != nil {
		o.logger.Info().Str("host", o.cfg.Target.Host).Msg("disconnecting from target")
		if err := o.target.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close target: %w", err))
		}
		o.target = nil
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) record(out *models.RunOutput) {
	if out == nil {
		return
	}
	o.log.Output(out.Tool, out.Stdout, out.Stderr)
}

func (o *Orchestrator) fail(err error) error {
	if o.state != Failed {
		o.state = Failed
		o.reason = err
	}
	return err
}

// failRun marks the run failed and, when asked to, reports the failure. A failed report
// is only logged.
func (o *Orchestrator) failRun(ctx context.Context, err error) error {
	o.log.Warn(err.Error())
	err = o.fail(err)

	if o.opts.Notifier == nil || !o.opts.NotifyOnFailure {
		return err
	}

	subject := fmt.Sprintf("%s Replication FAILED %s", strings.ToUpper(o.engine.Kind()), o.timestamp())
	if nerr := o.sendReport(ctx, subject, o.log.String()); nerr != nil {
		o.logger.Error().Err(nerr).Msg("could not deliver failure report")
	}
	return err
}

// sendReport is not bound by the replication timeout or a cancelled run.
func (o *Orchestrator) sendReport(ctx context.Context, subject, body string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notificationTimeout)
	defer cancel()
	return o.opts.Notifier.Notify(ctx, subject, body)
}

func (o *Orchestrator) timestamp() string {
	return o.now().Format("2006-01-02 15:04:05 -0700")
}

func (o *Orchestrator) artifactName() string {
	db := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, o.cfg.Origin.Database)
	return fmt.Sprintf("%s-%s-%s.sql", o.engine.Kind(), db, o.newRunID())
}
