// Package mysql replicates MySQL and MariaDB databases with mysqldump and the mysql client.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fgeck/dbreplicate/internal/models"
	"github.com/fgeck/dbreplicate/internal/services/dbconn"
	"github.com/fgeck/dbreplicate/internal/services/process"
	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"
)

// Binaries invoked by the engine.
const (
	DumpBinary    = "mysqldump"
	RestoreBinary = "mysql"
)

// OpenFunc opens a database handle from a DSN.
type OpenFunc func(dsn string) (*sql.DB, error)

func defaultOpen(dsn string) (*sql.DB, error) {
	return sql.Open("mysql", dsn)
}

// Impl replicates MySQL databases.
type Impl struct {
	executor process.Executor
	open     OpenFunc
	logger   zerolog.Logger
	workDir  string
}

// New creates a new MySQL engine. Credential files are written to workDir.
func New(logger zerolog.Logger, workDir string) *Impl {
	return &Impl{
		executor: &process.DefaultExecutor{},
		open:     defaultOpen,
		logger:   logger,
		workDir:  workDir,
	}
}

// NewWithExecutor creates a new MySQL engine with a custom executor and opener (for testing).
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
	return models.KindMySQL
}

// Verify connects to the endpoint and confirms it answers a query.
func (s *Impl) Verify(ctx context.Context, name string, ep models.Endpoint) (io.Closer, error) {
	s.logger.Info().
		Str("endpoint", name).
		Str("host", ep.Host).
		Int("port", ep.Port).
		Msg("connecting to MySQL")

	handle, err := dbconn.Verify(ctx, name, ep, func() (*sql.DB, error) {
		return s.open(DSN(ep))
	})
	if err != nil {
		return nil, err
	}
	return handle, nil
}

// Dump runs mysqldump against origin and writes the dump to outPath. The dump carries
// CREATE DATABASE and USE statements for the origin database.
func (s *Impl) Dump(ctx context.Context, origin models.Endpoint, mode models.BackupMode, outPath string) (*models.RunOutput, error) {
	optionFile, err := s.writeOptionFile(origin)
	if err != nil {
		return nil, err
	}
	defer s.removeOptionFile(optionFile)

	// --defaults-extra-file must come first.
	args := []string{
		"--defaults-extra-file=" + optionFile,
		"--verbose",
		"--add-drop-table",
		"--routines",
		"--triggers",
	}
	if mode == models.BackupSchema {
		args = append(args, "--no-data")
	}
	args = append(args, "--result-file="+outPath, "--databases", origin.Database)

	s.logger.Debug().Strs("args", args).Msg("running mysqldump")

	return s.executor.Run(ctx, models.Command{
		Name:    DumpBinary,
		Args:    args,
		Secrets: []string{origin.Password},
	})
}

// Restore replays the dump at inPath on the target server. database is selected before
// the dump runs; the dump's own USE statement takes over from there.
func (s *Impl) Restore(ctx context.Context, target models.Endpoint, database, inPath string) (*models.RunOutput, error) {
	optionFile, err := s.writeOptionFile(target)
	if err != nil {
		return nil, err
	}
	defer s.removeOptionFile(optionFile)

	args := []string{
		"--defaults-extra-file=" + optionFile,
		"--verbose",
		"--execute=" + fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s; USE %s; source %s", quoteIdent(database), quoteIdent(database), inPath),
	}

	s.logger.Debug().Str("database", database).Str("input", inPath).Msg("running mysql")

	return s.executor.Run(ctx, models.Command{
		Name:    RestoreBinary,
		Args:    args,
		Secrets: []string{target.Password},
	})
}

// writeOptionFile stores the endpoint credentials in a client option file so the
// password never shows up in the process list.
func (s *Impl) writeOptionFile(ep models.Endpoint) (string, error) {
	contents := fmt.Sprintf("[client]\nuser = %s\npassword = %s\nhost = %s\nport = %d\n",
		optionValue(ep.User), optionValue(ep.Password), optionValue(ep.Host), ep.Port)

	path, err := process.WriteSecretFile(s.workDir, ".my.cnf*", contents)
	if err != nil {
		return "", fmt.Errorf("mysql option file: %w", err)
	}
	return path, nil
}

func (s *Impl) removeOptionFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn().Err(err).Str("file", path).Msg("could not remove mysql option file")
	}
}

// optionValue quotes a value for a MySQL option file.
func optionValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return `"` + v + `"`
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// DSN builds a go-sql-driver DSN for the endpoint.
func DSN(ep models.Endpoint) string {
	cfg := mysql.NewConfig()
	cfg.User = ep.User
	cfg.Passwd = ep.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(ep.Host, strconv.Itoa(ep.Port))
	cfg.DBName = ep.Database
	cfg.Timeout = 10 * time.Second
	return cfg.FormatDSN()
}
