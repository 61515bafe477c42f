// Package postgres replicates PostgreSQL databases with pg_dump and psql.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/fgeck/dbreplicate/internal/models"
	"github.com/fgeck/dbreplicate/internal/services/dbconn"
	"github.com/fgeck/dbreplicate/internal/services/process"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
)

// Binaries invoked by the engine.
const (
	DumpBinary    = "pg_dump"
	RestoreBinary = "psql"
)

// OpenFunc opens a database handle from a parsed pgx config.
type OpenFunc func(cfg *pgx.ConnConfig) (*sql.DB, error)

func defaultOpen(cfg *pgx.ConnConfig) (*sql.DB, error) {
	return stdlib.OpenDB(*cfg), nil
}

// Impl replicates PostgreSQL databases.
type Impl struct {
	executor process.Executor
	open     OpenFunc
	logger   zerolog.Logger
	workDir  string
}

// New creates a new PostgreSQL engine. Credential files are written to workDir.
func New(logger zerolog.Logger, workDir string) *Impl {
	return &Impl{
		executor: &process.DefaultExecutor{},
		open:     defaultOpen,
		logger:   logger,
		workDir:  workDir,
	}
}

// NewWithExecutor creates a new PostgreSQL engine with a custom executor and opener (for testing).
func NewWithExecutor(logger zerolog.Logger, workDir string, executor process.Executor, open OpenFunc) *Impl {
	return &Impl{
		executor: executor,
		open:     open,
		logger:   logger,
		workDir:  workDir,
	}
}

// Kind returns the backend kind.
func (s *Impl) Kind() string {
	return models.KindPostgres
}

// Verify connects to the endpoint and confirms it answers a query.
func (s *Impl) Verify(ctx context.Context, name string, ep models.Endpoint) (io.Closer, error) {
	s.logger.Info().
		Str("endpoint", name).
		Str("host", ep.Host).
		Int("port", ep.Port).
		Msg("connecting to PostgreSQL")

	handle, err := dbconn.Verify(ctx, name, ep, func() (*sql.DB, error) {
		cfg, err := pgx.ParseConfig(ConnString(ep))
		if err != nil {
			return nil, fmt.Errorf("invalid connection settings: %w", err)
		}
		return s.open(cfg)
	})
	if err != nil {
		return nil, err
	}
	return handle, nil
}

// Dump runs pg_dump against origin and writes the plain SQL dump to outPath.
func (s *Impl) Dump(ctx context.Context, origin models.Endpoint, mode models.BackupMode, outPath string) (*models.RunOutput, error) {
	passFile, err := s.writePassFile(origin)
	if err != nil {
		return nil, err
	}
	defer s.removePassFile(passFile)

	args := []string{
		"-h", origin.Host,
		"-p", strconv.Itoa(origin.Port),
		"-U", origin.User,
		"-v",
		"--clean",
	}
	if mode == models.BackupSchema {
		args = append(args, "--schema-only")
	}
	args = append(args, "-f", outPath, origin.Database)

	s.logger.Debug().Strs("args", args).Msg("running pg_dump")

	return s.executor.Run(ctx, models.Command{
		Name:    DumpBinary,
		Args:    args,
		Env:     []string{"PGPASSFILE=" + passFile},
		Secrets: []string{origin.Password},
	})
}

// Restore replays the dump at inPath into database on the target server with psql.
func (s *Impl) Restore(ctx context.Context, target models.Endpoint, database, inPath string) (*models.RunOutput, error) {
	passFile, err := s.writePassFile(target)
	if err != nil {
		return nil, err
	}
	defer s.removePassFile(passFile)

	args := []string{
		"-h", target.Host,
		"-p", strconv.Itoa(target.Port),
		"-U", target.User,
		"-d", database,
		"-f", inPath,
	}

	s.logger.Debug().Strs("args", args).Msg("running psql")

	return s.executor.Run(ctx, models.Command{
		Name:    RestoreBinary,
		Args:    args,
		Env:     []string{"PGPASSFILE=" + passFile},
		Secrets: []string{target.Password},
	})
}

// writePassFile stores the endpoint password in a .pgpass file so it never shows up
// in the process list or the child environment.
func (s *Impl) writePassFile(ep models.Endpoint) (string, error) {
	line := strings.Join([]string{
		escapePassField(ep.Host),
		strconv.Itoa(ep.Port),
		"*",
		escapePassField(ep.User),
		escapePassField(ep.Password),
	}, ":")

	path, err := process.WriteSecretFile(s.workDir, ".pgpass*", line+"\n")
	if err != nil {
		return "", fmt.Errorf("pgpass: %w", err)
	}
	return path, nil
}

func (s *Impl) removePassFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn().Err(err).Str("file", path).Msg("could not remove pgpass file")
	}
}

func escapePassField(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return strings.ReplaceAll(v, ":", `\:`)
}

// ConnString builds a postgres:// URL for the endpoint.
func ConnString(ep models.Endpoint) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(ep.User, ep.Password),
		Host:   net.JoinHostPort(ep.Host, strconv.Itoa(ep.Port)),
		Path:   "/" + ep.Database,
	}
	return u.String()
}
