// Package process runs the external dump and restore tools.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/fgeck/dbreplicate/internal/models"
)

const redacted = "********"

// Executor allows mocking exec.Command in tests.
type Executor interface {
	Run(ctx context.Context, cmd models.Command) (*models.RunOutput, error)
}

// DefaultExecutor is the default executor using os/exec.
type DefaultExecutor struct{}

// Run starts the command, waits for it and captures stdout and stderr.
// The returned output is non-nil whenever the process was started, even on error.
func (e *DefaultExecutor) Run(ctx context.Context, c models.Command) (*models.RunOutput, error) {
	path, err := exec.LookPath(c.Name)
	if err != nil {
		return nil, &models.ProcessError{Tool: c.Name, Kind: models.SpawnFailed, Err: err}
	}

	cmd := exec.CommandContext(ctx, path, c.Args...)
	cmd.Env = append(os.Environ(), c.Env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &models.ProcessError{Tool: c.Name, Kind: models.SpawnFailed, Err: err}
	}
	waitErr := cmd.Wait()

	out := &models.RunOutput{
		Tool:     c.Name,
		Stdout:   Redact(stdout.String(), c.Secrets),
		Stderr:   Redact(stderr.String(), c.Secrets),
		ExitCode: cmd.ProcessState.ExitCode(),
		Duration: time.Since(start),
	}

	if waitErr == nil {
		return out, nil
	}

	perr := &models.ProcessError{
		Tool:   c.Name,
		Kind:   models.NonZeroExit,
		Code:   out.ExitCode,
		Stderr: out.Stderr,
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		perr.Err = ctxErr
	}
	var exitErr *exec.ExitError
	if !errors.As(waitErr, &exitErr) && perr.Err == nil {
		perr.Err = waitErr
	}
	return out, perr
}

// Redact replaces every non-empty secret in s.
func Redact(s string, secrets []string) string {
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		s = strings.ReplaceAll(s, secret, redacted)
	}
	return s
}

// WriteSecretFile stores contents in a new file readable only by the current user
// and returns its path. The caller removes the file.
func WriteSecretFile(dir, pattern, contents string) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create directory for credentials file: %w", err)
	}

	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", fmt.Errorf("failed to create credentials file: %w", err)
	}

	if err := f.Chmod(0o600); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to restrict credentials file: %w", err)
	}

	if _, err := f.WriteString(contents); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to write credentials file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to close credentials file: %w", err)
	}

	return f.Name(), nil
}
