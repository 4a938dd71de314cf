package database

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arbor-coach/arbor/pkg/database"
	"github.com/arbor-coach/arbor/test/util"
)

// SharedSchema is one migrated schema that several replicas connect to at
// once. Cross-replica tests (job claiming, NOTIFY fan-out between pods)
// need every pool pointed at the same tables, which the per-test isolation
// of ProvisionSchema deliberately prevents.
type SharedSchema struct {
	schemaDSN string
}

// NewSharedSchema creates the schema, migrates it once, and schedules its
// drop for after the test. Each replica then calls Open for its own pool.
func NewSharedSchema(t *testing.T) *SharedSchema {
	t.Helper()

	baseDSN := util.BaseDSN(t)
	schema := util.UniqueSchema(t)

	execOnce(t, baseDSN, fmt.Sprintf("CREATE SCHEMA %s", schema))
	t.Logf("SharedSchema: created schema %s", schema)

	schemaDSN := util.WithSearchPath(baseDSN, schema)
	mdb, err := sql.Open("pgx", schemaDSN)
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(mdb, "test"))
	_ = mdb.Close()

	// Replica pools close before this runs (t.Cleanup is LIFO).
	t.Cleanup(func() {
		db, err := sql.Open("pgx", baseDSN)
		if err != nil {
			t.Logf("SharedSchema: cannot drop schema %s: %v", schema, err)
			return
		}
		defer func() { _ = db.Close() }()
		if _, err := db.ExecContext(context.Background(), fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema)); err != nil {
			t.Logf("SharedSchema: failed to drop schema %s: %v", schema, err)
		}
	})

	return &SharedSchema{schemaDSN: schemaDSN}
}

// Open gives a replica its own pool onto the shared schema, closed via
// t.Cleanup. Separate pools let replicas shut down on their own schedule.
func (s *SharedSchema) Open(t *testing.T) *database.Client {
	t.Helper()

	db, err := sql.Open("pgx", s.schemaDSN)
	require.NoError(t, err)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	client := database.NewClientFromDB(db)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// execOnce opens a throwaway connection, runs one statement, and closes.
func execOnce(t *testing.T, dsn, stmt string) {
	t.Helper()
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	_, err = db.ExecContext(context.Background(), stmt)
	require.NoError(t, err)
}
