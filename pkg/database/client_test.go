package database

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// bootClient connects to PostgreSQL for package-level tests: an external
// database when TEST_DATABASE_URL is set (CI service container), otherwise a
// throwaway testcontainer.
func bootClient(t *testing.T) *Client {
	t.Helper()
	ctx := context.Background()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Log("TEST_DATABASE_URL not set; starting a postgres testcontainer")
		ready := wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(30 * time.Second)
		ctr, err := postgres.Run(ctx,
			"postgres:17-alpine",
			postgres.WithDatabase("arbor_test"),
			postgres.WithUsername("arbor"),
			postgres.WithPassword("arbor"),
			testcontainers.WithWaitStrategy(ready),
		)
		require.NoError(t, err)
		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(ctr); err != nil {
				t.Logf("container teardown: %v", err)
			}
		})

		dsn, err = ctr.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	require.NoError(t, RunMigrations(db, "test"))

	client := NewClientFromDB(db)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestClient_PoolHealth(t *testing.T) {
	client := bootClient(t)
	ctx := context.Background()

	require.NoError(t, client.DB().PingContext(ctx))

	status, err := client.Health(ctx)
	require.NoError(t, err)
	assert.True(t, status.Healthy)
	assert.Greater(t, status.MaxOpenConns, 0)
	assert.GreaterOrEqual(t, status.PingMS, int64(0))
}

func TestMigrations_Schema(t *testing.T) {
	client := bootClient(t)
	ctx := context.Background()

	// All core tables exist after migration.
	for _, table := range []string{"jobs", "sessions", "tier_configs", "templates", "events"} {
		var exists bool
		err := client.DB().QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`,
			table,
		).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "table %s should exist", table)
	}

	// Running migrations again is a no-op.
	require.NoError(t, RunMigrations(client.DB(), "test"))

	// The partial unique index admits one active session per
	// (tenant, user, topic) and ignores non-active rows.
	now := time.Now()
	_, err := client.DB().ExecContext(ctx, `
		INSERT INTO sessions (session_id, tenant_id, user_id, topic_id, status, created_at, last_activity_at)
		VALUES ('s-1', 't1', 'u1', 'topic-a', 'active', $1, $1)`, now)
	require.NoError(t, err)

	_, err = client.DB().ExecContext(ctx, `
		INSERT INTO sessions (session_id, tenant_id, user_id, topic_id, status, created_at, last_activity_at)
		VALUES ('s-2', 't1', 'u1', 'topic-a', 'active', $1, $1)`, now)
	require.Error(t, err, "second active session for the same triple should collide")

	_, err = client.DB().ExecContext(ctx, `
		INSERT INTO sessions (session_id, tenant_id, user_id, topic_id, status, created_at, last_activity_at)
		VALUES ('s-3', 't1', 'u1', 'topic-a', 'paused', $1, $1)`, now)
	require.NoError(t, err)
}

// clearDBEnv unsets every DB_* variable for this test, restoring prior
// values afterwards.
func clearDBEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSLMODE",
		"DB_MAX_OPEN_CONNS", "DB_MAX_IDLE_CONNS",
	} {
		if v, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { os.Setenv(key, v) })
			os.Unsetenv(key)
		}
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		clearDBEnv(t)
		t.Setenv("DB_PASSWORD", "test")

		cfg, err := ConfigFromEnv()
		require.NoError(t, err)
		assert.Equal(t, "localhost", cfg.Host)
		assert.Equal(t, 5432, cfg.Port)
		assert.Equal(t, "arbor", cfg.User)
		assert.Equal(t, "arbor", cfg.Database)
		assert.Equal(t, "disable", cfg.SSLMode)
		assert.Equal(t, 10, cfg.MaxOpenConns)
		assert.Equal(t, 5, cfg.MaxIdleConns)
		assert.Contains(t, cfg.DSN(), "host=localhost")
	})

	t.Run("explicit values", func(t *testing.T) {
		clearDBEnv(t)
		t.Setenv("DB_HOST", "db.example.com")
		t.Setenv("DB_PORT", "5433")
		t.Setenv("DB_USER", "admin")
		t.Setenv("DB_PASSWORD", "secret")
		t.Setenv("DB_NAME", "production")
		t.Setenv("DB_SSLMODE", "require")
		t.Setenv("DB_MAX_OPEN_CONNS", "50")
		t.Setenv("DB_MAX_IDLE_CONNS", "20")

		cfg, err := ConfigFromEnv()
		require.NoError(t, err)
		assert.Equal(t, "db.example.com", cfg.Host)
		assert.Equal(t, 5433, cfg.Port)
		assert.Equal(t, "require", cfg.SSLMode)
		assert.Equal(t, 50, cfg.MaxOpenConns)
		assert.Equal(t, 20, cfg.MaxIdleConns)
	})

	t.Run("invalid DB_PORT refuses to load", func(t *testing.T) {
		clearDBEnv(t)
		t.Setenv("DB_PORT", "not-a-number")

		_, err := ConfigFromEnv()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid DB_PORT")
	})

	t.Run("garbage pool sizes fall back to defaults", func(t *testing.T) {
		clearDBEnv(t)
		t.Setenv("DB_PASSWORD", "test")
		t.Setenv("DB_MAX_OPEN_CONNS", "lots")

		cfg, err := ConfigFromEnv()
		require.NoError(t, err)
		assert.Equal(t, 10, cfg.MaxOpenConns)
	})
}
