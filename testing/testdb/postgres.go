// Package testdb runs the greenmarket schema in a throwaway Postgres
// container for integration tests.
package testdb

import (
	"context"
	"fmt"
	"testing"

	"greenmarket/internal/db"
	"greenmarket/internal/storage/relational"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
)

// Tables in truncation order.
var Tables = []string{"transactions", "students", "admins", "market_sessions"}

type Postgres struct {
	DB  *bun.DB
	DSN string
}

// Start launches Postgres, applies the schema and stops the container when
// the test finishes. Skipped under -short since it needs a Docker daemon.
//
// Subtests sharing one container must not run in parallel; call Reset at the
// start of each.
func Start(t *testing.T) *Postgres {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container tests are skipped in -short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("greenmarket"),
		postgres.WithUsername("greenmarket"),
		postgres.WithPassword("greenmarket"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminate postgres: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	bdb, err := db.NewWithDSN(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { bdb.Close() })

	require.NoError(t, relational.Migrate(ctx, bdb))
	return &Postgres{DB: bdb, DSN: dsn}
}

// Reset empties every table and restarts the id sequences.
func (p *Postgres) Reset(t *testing.T) {
	t.Helper()
	for _, table := range Tables {
		_, err := p.DB.ExecContext(context.Background(), fmt.Sprintf("TRUNCATE %s RESTART IDENTITY CASCADE", table))
		require.NoError(t, err, "truncate %s", table)
	}
}
