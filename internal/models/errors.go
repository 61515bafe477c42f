package models

import "fmt"

// ConnectErrorKind classifies a ConnectError.
type ConnectErrorKind int

// Connect error kinds.
const (
	Unreachable ConnectErrorKind = iota
	PingFailed
)

func (k ConnectErrorKind) String() string {
	if k == PingFailed {
		return "ping failed"
	}
	return "unreachable"
}

// ConnectError is returned when a database endpoint cannot be verified.
type ConnectError struct {
	Endpoint string // "origin" or "target"
	Address  string
	Kind     ConnectErrorKind
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("%s database %s: %s: %v", e.Endpoint, e.Address, e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}
