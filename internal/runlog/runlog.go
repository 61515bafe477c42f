// Package runlog accumulates the textual record of one replication run.
package runlog

import (
	"strings"

	"github.com/rs/zerolog"
)

// Log is an append-only, ordered record of a run. Every record is also written to the
// logger so operators see it live. A Log is not safe for concurrent use.
type Log struct {
	logger  zerolog.Logger
	records []string
}

// New creates an empty run log writing through logger.
func New(logger zerolog.Logger) *Log {
	return &Log{logger: logger}
}

// Info appends msg and logs it at info level.
func (l *Log) Info(msg string) {
	l.logger.Info().Msg(msg)
	l.records = append(l.records, msg)
}

// Warn appends msg and logs it at warn level.
func (l *Log) Warn(msg string) {
	l.logger.Warn().Msg(msg)
	l.records = append(l.records, msg)
}

// Output appends captured tool output. Empty streams are skipped; stdout is logged at
// info level and stderr at warn level.
func (l *Log) Output(tool, stdout, stderr string) {
	if stdout != "" {
		l.Info(tool + " stdout:\n" + stdout)
	}
	if stderr != "" {
		l.Warn(tool + " stderr:\n" + stderr)
	}
}

// Records returns a copy of the records in append order.
func (l *Log) Records() []string {
	out := make([]string, len(l.records))
	copy(out, l.records)
	return out
}

// String joins all records, one per line.
func (l *Log) String() string {
	return strings.Join(l.records, "\n")
}
