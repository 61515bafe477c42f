package models

import (
	"fmt"
	"strings"
)

// Backend kinds.
const (
	KindPostgres = "postgres"
	KindMySQL    = "mysql"
)

// BackupMode selects what the dump contains.
type BackupMode int

// Backup modes.
const (
	BackupFull BackupMode = iota
	BackupSchema
)

func (m BackupMode) String() string {
	if m == BackupSchema {
		return "Schema"
	}
	return "Full"
}

// ParseBackupMode parses a backup_type value. Empty means Full.
func ParseBackupMode(s string) (BackupMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "full":
		return BackupFull, nil
	case "schema", "schemaonly", "schema_only":
		return BackupSchema, nil
	default:
		return BackupFull, fmt.Errorf("unknown backup type %q", s)
	}
}

// Endpoint holds the connection parameters of one database server.
type Endpoint struct {
	Host     string
	User     string
	Password string
	Port     int
	Database string
}

// Address returns host:port.
func (e Endpoint) Address() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// BackendConfig holds the replication configuration of one backend kind.
type BackendConfig struct {
	Kind               string
	Enabled            bool
	Origin             Endpoint
	Target             Endpoint
	BackupMode         BackupMode
	NotifyOnCompletion bool
}
