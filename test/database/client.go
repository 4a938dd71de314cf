// Package database provides per-test database clients for integration tests.
package database

import (
	"testing"

	"github.com/arbor-coach/arbor/pkg/database"
	"github.com/arbor-coach/arbor/test/util"
)

// Open returns a client onto an isolated, migrated schema: an external
// database when TEST_DATABASE_URL is set, a shared testcontainer
// otherwise. Schema drop and pool close are registered on t.
func Open(t *testing.T) *database.Client {
	return database.NewClientFromDB(util.ProvisionSchema(t))
}
