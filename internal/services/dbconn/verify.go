// Package dbconn verifies that a database endpoint is reachable and responsive.
package dbconn

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fgeck/dbreplicate/internal/models"
)

const livenessQuery = "SELECT 1"

// Opener returns a database handle for one endpoint. It must not require a live server.
type Opener func() (*sql.DB, error)

// Handle is a verified connection to one endpoint.
type Handle struct {
	db *sql.DB
}

// DB returns the underlying pool.
func (h *Handle) DB() *sql.DB {
	return h.db
}

// Close releases the connection. Closing a nil or closed handle is a no-op.
func (h *Handle) Close() error {
	if h == nil || h.db == nil {
		return nil
	}
	db := h.db
	h.db = nil
	return db.Close()
}

// Verify opens a connection to the endpoint and issues a trivial query to confirm the
// server answers. name is "origin" or "target" and only used in errors.
func Verify(ctx context.Context, name string, ep models.Endpoint, open Opener) (*Handle, error) {
	db, err := open()
	if err != nil {
		return nil, &models.ConnectError{Endpoint: name, Address: ep.Address(), Kind: models.Unreachable, Err: err}
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &models.ConnectError{Endpoint: name, Address: ep.Address(), Kind: models.Unreachable, Err: err}
	}

	var one int
	if err := db.QueryRowContext(ctx, livenessQuery).Scan(&one); err != nil {
		_ = db.Close()
		return nil, &models.ConnectError{
			Endpoint: name,
			Address:  ep.Address(),
			Kind:     models.PingFailed,
			Err:      fmt.Errorf("liveness query: %w", err),
		}
	}

	return &Handle{db: db}, nil
}
