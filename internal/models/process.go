package models

import (
	"fmt"
	"time"
)

// Command describes one invocation of an external tool.
type Command struct {
	Name    string
	Args    []string
	Env     []string // appended to the current environment
	Secrets []string // redacted from captured output
}

// RunOutput holds what an external tool produced.
type RunOutput struct {
	Tool     string
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// ProcessErrorKind classifies a ProcessError.
type ProcessErrorKind int

// Process error kinds.
const (
	SpawnFailed ProcessErrorKind = iota
	NonZeroExit
)

func (k ProcessErrorKind) String() string {
	if k == SpawnFailed {
		return "spawn failed"
	}
	return "non-zero exit"
}

// ProcessError is returned when an external tool cannot be launched or fails.
type ProcessError struct {
	Tool   string
	Kind   ProcessErrorKind
	Code   int
	Stderr string
	Err    error
}

func (e *ProcessError) Error() string {
	if e.Kind == SpawnFailed {
		return fmt.Sprintf("%s: %s: %v", e.Tool, e.Kind, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: exited with code %d: %v", e.Tool, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: exited with code %d", e.Tool, e.Code)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}
