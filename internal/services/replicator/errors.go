package replicator

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by Replicate when Connect has not succeeded.
var ErrNotConnected = errors.New("not connected")

// Step names used in StepError.
const (
	StepDump    = "dump"
	StepRestore = "restore"
)

// StepError is returned when the dump or restore tool fails. The dump artifact is kept.
type StepError struct {
	Step     string
	Artifact string
	Err      error
}

func (e *StepError) Error() string {
	if e.Artifact == "" {
		return fmt.Sprintf("%s failed: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("%s failed (artifact kept at %s): %v", e.Step, e.Artifact, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// NotifyError is returned when the data was replicated but the report could not be delivered.
type NotifyError struct {
	Err error
}

func (e *NotifyError) Error() string {
	return fmt.Sprintf("replication succeeded; notification failed: %v", e.Err)
}

func (e *NotifyError) Unwrap() error {
	return e.Err
}
