// Package util hosts the shared PostgreSQL fixture for integration tests.
// One database instance serves the whole test binary; isolation comes from
// per-test schemas, not per-test containers.
package util

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/arbor-coach/arbor/pkg/database"
)

var (
	sharedDSN  string
	sharedErr  error
	sharedOnce sync.Once
)

// ProvisionSchema returns a pooled connection scoped to a fresh schema with
// migrations applied. The schema is dropped on test cleanup. With
// TEST_DATABASE_URL set the fixture targets that server (CI service
// containers); otherwise a testcontainer is started once per binary.
func ProvisionSchema(t *testing.T) *sql.DB {
	ctx := context.Background()
	dsn := BaseDSN(t)
	schema := UniqueSchema(t)

	bootstrap, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	_, err = bootstrap.ExecContext(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)
	require.NoError(t, bootstrap.Close())

	// search_path has to ride in the DSN so every pooled connection lands
	// in the test schema, not just the one that sets it.
	db, err := sql.Open("pgx", WithSearchPath(dsn, schema))
	require.NoError(t, err)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	require.NoError(t, database.RunMigrations(db, "test"))

	t.Cleanup(func() {
		if _, err := db.ExecContext(context.Background(), "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); err != nil {
			t.Logf("dropping schema %s: %v", schema, err)
		}
		_ = db.Close()
	})
	return db
}

// BaseDSN returns the server-level DSN without any search_path. Tests that
// need dedicated connections outside the pool, like the NOTIFY listener's
// pgx.Conn, build on this directly.
func BaseDSN(t *testing.T) string {
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		return dsn
	}

	sharedOnce.Do(func() {
		ctx := context.Background()
		ready := wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(30 * time.Second)
		container, err := postgres.Run(ctx,
			"postgres:17-alpine",
			postgres.WithDatabase("arbor_test"),
			postgres.WithUsername("arbor"),
			postgres.WithPassword("arbor"),
			testcontainers.WithWaitStrategy(ready),
		)
		if err != nil {
			sharedErr = fmt.Errorf("starting postgres container: %w", err)
			return
		}
		sharedDSN, sharedErr = container.ConnectionString(ctx, "sslmode=disable")
	})
	require.NoError(t, sharedErr, "shared postgres fixture unavailable")
	return sharedDSN
}

// UniqueSchema derives a schema identifier from the test name plus a
// random suffix, trimmed to stay inside PostgreSQL's 63-byte identifier
// limit even for deeply nested subtests.
func UniqueSchema(t *testing.T) string {
	var b strings.Builder
	b.WriteString("test_")
	for _, r := range strings.ToLower(t.Name()) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
		if b.Len() >= 45 {
			break
		}
	}

	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		t.Fatalf("generating schema suffix: %v", err)
	}
	return b.String() + "_" + hex.EncodeToString(suffix)
}

// WithSearchPath appends a search_path parameter to a DSN.
func WithSearchPath(dsn, schema string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "search_path=" + schema
}
