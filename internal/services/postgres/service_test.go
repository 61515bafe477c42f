package postgres

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
	"github.com/jackc/pgx/v5"
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
		Port:     5432,
		User:     "postgres",
		Password: "secret",
		Database: "testdb",
	}
}

func envValue(env []string, key string) string {
	for _, e := range env {
		if strings.HasPrefix(e, key+"=") {
			return strings.TrimPrefix(e, key+"=")
		}
	}
	return ""
}

func TestDump_Success(t *testing.T) {
	workDir := t.TempDir()
	outputPath := filepath.Join(workDir, "dump.sql")

	var passFileContent string
	executor := &mockExecutor{
		runFunc: func(ctx context.Context, cmd models.Command) (*models.RunOutput, error) {
			content, err := os.ReadFile(envValue(cmd.Env, "PGPASSFILE"))
			require.NoError(t, err)
			passFileContent = string(content)
			return &models.RunOutput{Stderr: "pg_dump: dumping contents of table"}, nil
		},
	}

	svc := NewWithExecutor(testLogger(), workDir, executor, nil)
	out, err := svc.Dump(context.Background(), testEndpoint(), models.BackupFull, outputPath)

	require.NoError(t, err)
	require.NotNil(t, out)
	require.Len(t, executor.calls, 1)

	cmd := executor.calls[0]
	assert.Equal(t, "pg_dump", cmd.Name)
	assert.Equal(t, []string{
		"-h", "localhost",
		"-p", "5432",
		"-U", "postgres",
		"-v",
		"--clean",
		"-f", outputPath,
		"testdb",
	}, cmd.Args)
	assert.NotContains(t, cmd.Args, "--schema-only")
	assert.Contains(t, cmd.Secrets, "secret")

	assert.Equal(t, "localhost:5432:*:postgres:secret\n", passFileContent)

	// Password never travels through the environment or the arguments.
	assert.Empty(t, envValue(cmd.Env, "PGPASSWORD"))
	for _, arg := range cmd.Args {
		assert.NotContains(t, arg, "secret")
	}

	// Credentials file is removed after the run.
	_, statErr := os.Stat(envValue(cmd.Env, "PGPASSFILE"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestDump_SchemaOnly(t *testing.T) {
	executor := &mockExecutor{}

	svc := NewWithExecutor(testLogger(), t.TempDir(), executor, nil)
	_, err := svc.Dump(context.Background(), testEndpoint(), models.BackupSchema, "/tmp/out.sql")

	require.NoError(t, err)
	require.Len(t, executor.calls, 1)
	assert.Contains(t, executor.calls[0].Args, "--schema-only")
	assert.Equal(t, "testdb", executor.calls[0].Args[len(executor.calls[0].Args)-1])
}

func TestDump_ExecutorError(t *testing.T) {
	workDir := t.TempDir()
	executor := &mockExecutor{
		runFunc: func(ctx context.Context, cmd models.Command) (*models.RunOutput, error) {
			return &models.RunOutput{Stderr: "connection refused", ExitCode: 1},
				&models.ProcessError{Tool: cmd.Name, Kind: models.NonZeroExit, Code: 1, Stderr: "connection refused"}
		},
	}

	svc := NewWithExecutor(testLogger(), workDir, executor, nil)
	out, err := svc.Dump(context.Background(), testEndpoint(), models.BackupFull, filepath.Join(workDir, "dump.sql"))

	require.Error(t, err)
	require.NotNil(t, out)
	assert.Equal(t, "connection refused", out.Stderr)

	var perr *models.ProcessError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, models.NonZeroExit, perr.Kind)

	// Only the artifact path was handed over; no credentials file lingers.
	entries, readErr := os.ReadDir(workDir)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

func TestRestore_UsesGivenDatabase(t *testing.T) {
	executor := &mockExecutor{}
	target := testEndpoint()
	target.Host = "standby"
	target.Database = "ignored"

	svc := NewWithExecutor(testLogger(), t.TempDir(), executor, nil)
	_, err := svc.Restore(context.Background(), target, "testdb", "/tmp/in.sql")

	require.NoError(t, err)
	require.Len(t, executor.calls, 1)

	cmd := executor.calls[0]
	assert.Equal(t, "psql", cmd.Name)
	assert.Equal(t, []string{
		"-h", "standby",
		"-p", "5432",
		"-U", "postgres",
		"-d", "testdb",
		"-f", "/tmp/in.sql",
	}, cmd.Args)
	assert.NotEmpty(t, envValue(cmd.Env, "PGPASSFILE"))
}

func TestRestore_WorkDirUnwritable(t *testing.T) {
	executor := &mockExecutor{}
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	svc := NewWithExecutor(testLogger(), filepath.Join(blocker, "sub"), executor, nil)
	_, err := svc.Restore(context.Background(), testEndpoint(), "testdb", "/tmp/in.sql")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "pgpass")
	assert.Empty(t, executor.calls)
}

func TestVerify_UsesParsedConfig(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectClose()

	var captured *pgx.ConnConfig
	open := func(cfg *pgx.ConnConfig) (*sql.DB, error) {
		captured = cfg
		return db, nil
	}

	svc := NewWithExecutor(testLogger(), t.TempDir(), &mockExecutor{}, open)
	handle, err := svc.Verify(context.Background(), "origin", testEndpoint())

	require.NoError(t, err)
	require.NotNil(t, captured)
	assert.Equal(t, "localhost", captured.Host)
	assert.Equal(t, uint16(5432), captured.Port)
	assert.Equal(t, "postgres", captured.User)
	assert.Equal(t, "secret", captured.Password)
	assert.Equal(t, "testdb", captured.Database)

	require.NoError(t, handle.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVerify_Unreachable(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	mock.ExpectPing().WillReturnError(errors.New("dial tcp: connection refused"))
	mock.ExpectClose()

	svc := NewWithExecutor(testLogger(), t.TempDir(), &mockExecutor{}, func(*pgx.ConnConfig) (*sql.DB, error) {
		return db, nil
	})
	handle, err := svc.Verify(context.Background(), "target", testEndpoint())

	require.Error(t, err)
	assert.Nil(t, handle)

	var cerr *models.ConnectError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, models.Unreachable, cerr.Kind)
}

func TestConnString_EscapesCredentials(t *testing.T) {
	ep := testEndpoint()
	ep.Password = "p@ss:w/rd"

	cfg, err := pgx.ParseConfig(ConnString(ep))

	require.NoError(t, err)
	assert.Equal(t, "p@ss:w/rd", cfg.Password)
	assert.Equal(t, "testdb", cfg.Database)
}

func TestEscapePassField(t *testing.T) {
	assert.Equal(t, `a\:b\\c`, escapePassField(`a:b\c`))
}

func TestKind(t *testing.T) {
	assert.Equal(t, "postgres", New(testLogger(), t.TempDir()).Kind())
}
