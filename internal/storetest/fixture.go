// Package storetest provides a database-backed test fixture for
// internal/store, grounded on the teacher's internal/sinktest/all
// fixture: a thin wrapper that opens a real connection pool and skips
// the calling test when no live database is configured, rather than
// mocking the database layer.
package storetest

import (
	"context"
	"os"
	"testing"

	"github.com/magellium/hrwsi/internal/store"
	"github.com/magellium/hrwsi/internal/util/stopper"
)

// connStringEnvVar names the environment variable that points at a
// scratch Postgres instance with the HRWSI schema already applied.
// Tests that need a live database are skipped when it is unset, so
// `go test ./...` stays usable without infrastructure.
const connStringEnvVar = "HRWSI_TEST_DATABASE_URL"

// Fixture wraps a connection pool opened against a live, migrated test
// database.
type Fixture struct {
	*store.Pool
}

// NewFixture opens a pool against HRWSI_TEST_DATABASE_URL, skipping t
// if the variable is unset. The returned cleanup closes the pool; call
// it via t.Cleanup in the caller.
func NewFixture(t *testing.T) (*Fixture, func()) {
	t.Helper()

	connString, ok := os.LookupEnv(connStringEnvVar)
	if !ok || connString == "" {
		t.Skipf("%s is not set, skipping database-backed test", connStringEnvVar)
	}

	ctx := stopper.WithContext(context.Background())
	pool, cleanup, err := store.Open(ctx, connString)
	if err != nil {
		t.Fatalf("could not open test database pool: %v", err)
	}
	return &Fixture{Pool: pool}, cleanup
}
