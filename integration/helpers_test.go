//go:build integration

package integration

import (
	"io"
	"os"
	"strconv"
	"testing"

	"github.com/fgeck/dbreplicate/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// endpointFromEnv reads <prefix>_HOST, _PORT, _USER, _PASSWORD and _DB. The test is
// skipped when the host or database is missing.
func endpointFromEnv(t *testing.T, prefix string, defaultPort int, defaultUser string) models.Endpoint {
	t.Helper()

	host := os.Getenv(prefix + "_HOST")
	if host == "" {
		t.Skip(prefix + "_HOST not set")
	}
	database := os.Getenv(prefix + "_DB")
	if database == "" {
		t.Skip(prefix + "_DB not set")
	}

	port := defaultPort
	if raw := os.Getenv(prefix + "_PORT"); raw != "" {
		var err error
		port, err = strconv.Atoi(raw)
		require.NoError(t, err)
	}

	user := os.Getenv(prefix + "_USER")
	if user == "" {
		user = defaultUser
	}

	return models.Endpoint{
		Host:     host,
		Port:     port,
		User:     user,
		Password: os.Getenv(prefix + "_PASSWORD"),
		Database: database,
	}
}

// targetFromEnv falls back to the origin when no separate target server is configured.
func targetFromEnv(t *testing.T, prefix string, origin models.Endpoint, defaultPort int) models.Endpoint {
	t.Helper()

	if os.Getenv(prefix+"_HOST") == "" {
		return origin
	}
	target := endpointFromEnv(t, prefix, defaultPort, origin.User)
	return target
}
