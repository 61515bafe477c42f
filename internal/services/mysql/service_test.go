package mysql

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/fgeck/dbreplicate/internal/models"
	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockExecutor struct {
	runFunc func(ctx context.Context, cmd models.Command) (*models.RunOutput, error)
	calls   []models.Command
}

func (m *mockExecutor) Run(ctx context.Context, cmd models.Command) (*models.RunOutput, error) {
	m.calls = append(m.calls, cmd)
	if m.runFunc != nil {
		return m.runFunc(ctx, cmd)
	}
	return &models.RunOutput{}, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testEndpoint() models.Endpoint {
	return models.Endpoint{
		Host:     "localhost",
		Port:     3306,
		User:     "root",
		Password: "secret",
		Database: "shop",
	}
}

func optionFileOf(cmd models.Command) string {
	return strings.TrimPrefix(cmd.Args[0], "--defaults-extra-file=")
}

func TestDump_Success(t *testing.T) {
	workDir := t.TempDir()
	outputPath := filepath.Join(workDir, "dump.sql")

	var optionContent string
	executor := &mockExecutor{
		runFunc: func(ctx context.Context, cmd models.Command) (*models.RunOutput, error) {
			content, err := os.ReadFile(optionFileOf(cmd))
			require.NoError(t, err)
			optionContent = string(content)
			return &models.RunOutput{}, nil
		},
	}

	svc := NewWithExecutor(testLogger(), workDir, executor, nil)
	_, err := svc.Dump(context.Background(), testEndpoint(), models.BackupFull, outputPath)

	require.NoError(t, err)
	require.Len(t, executor.calls, 1)

	cmd := executor.calls[0]
	assert.Equal(t, "mysqldump", cmd.Name)
	assert.True(t, strings.HasPrefix(cmd.Args[0], "--defaults-extra-file="))
	assert.Contains(t, cmd.Args, "--result-file="+outputPath)
	assert.Equal(t, []string{"--databases", "shop"}, cmd.Args[len(cmd.Args)-2:])
	assert.NotContains(t, cmd.Args, "--no-data")
	assert.Empty(t, cmd.Env)

	assert.Contains(t, optionContent, "[client]")
	assert.Contains(t, optionContent, `password = "secret"`)
	assert.Contains(t, optionContent, "port = 3306")

	for _, arg := range cmd.Args {
		assert.NotContains(t, arg, "secret")
	}

	_, statErr := os.Stat(optionFileOf(cmd))
	assert.True(t, os.IsNotExist(statErr))
}

func TestDump_SchemaOnly(t *testing.T) {
	executor := &mockExecutor{}

	svc := NewWithExecutor(testLogger(), t.TempDir(), executor, nil)
	_, err := svc.Dump(context.Background(), testEndpoint(), models.BackupSchema, "/tmp/out.sql")

	require.NoError(t, err)
	assert.Contains(t, executor.calls[0].Args, "--no-data")
}

func TestRestore_SourcesDumpIntoDatabase(t *testing.T) {
	executor := &mockExecutor{}

	svc := NewWithExecutor(testLogger(), t.TempDir(), executor, nil)
	_, err := svc.Restore(context.Background(), testEndpoint(), "shop", "/tmp/in.sql")

	require.NoError(t, err)
	require.Len(t, executor.calls, 1)

	cmd := executor.calls[0]
	assert.Equal(t, "mysql", cmd.Name)
	assert.Equal(t, "--execute=CREATE DATABASE IF NOT EXISTS `shop`; USE `shop`; source /tmp/in.sql", cmd.Args[len(cmd.Args)-1])
	assert.Contains(t, cmd.Secrets, "secret")
}

func TestRestore_PropagatesProcessError(t *testing.T) {
	executor := &mockExecutor{
		runFunc: func(ctx context.Context, cmd models.Command) (*models.RunOutput, error) {
			return nil, &models.ProcessError{Tool: cmd.Name, Kind: models.SpawnFailed, Err: errors.New("executable file not found")}
		},
	}

	svc := NewWithExecutor(testLogger(), t.TempDir(), executor, nil)
	out, err := svc.Restore(context.Background(), testEndpoint(), "shop", "/tmp/in.sql")

	require.Error(t, err)
	assert.Nil(t, out)

	var perr *models.ProcessError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, models.SpawnFailed, perr.Kind)
}

func TestVerify_PingFailed(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("server shutdown in progress"))
	mock.ExpectClose()

	var capturedDSN string
	svc := NewWithExecutor(testLogger(), t.TempDir(), &mockExecutor{}, func(dsn string) (*sql.DB, error) {
		capturedDSN = dsn
		return db, nil
	})
	handle, err := svc.Verify(context.Background(), "origin", testEndpoint())

	require.Error(t, err)
	assert.Nil(t, handle)

	var cerr *models.ConnectError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, models.PingFailed, cerr.Kind)

	cfg, parseErr := mysql.ParseDSN(capturedDSN)
	require.NoError(t, parseErr)
	assert.Equal(t, "root", cfg.User)
	assert.Equal(t, "secret", cfg.Passwd)
	assert.Equal(t, "localhost:3306", cfg.Addr)
	assert.Equal(t, "shop", cfg.DBName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVerify_Success(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectClose()

	svc := NewWithExecutor(testLogger(), t.TempDir(), &mockExecutor{}, func(string) (*sql.DB, error) {
		return db, nil
	})
	handle, err := svc.Verify(context.Background(), "target", testEndpoint())

	require.NoError(t, err)
	require.NoError(t, handle.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOptionValue(t *testing.T) {
	assert.Equal(t, `"pa\"ss\\word"`, optionValue(`pa"ss\word`))
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, "`we``ird`", quoteIdent("we`ird"))
}
