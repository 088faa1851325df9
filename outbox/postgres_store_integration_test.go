//go:build integration
// +build integration

package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/lib/pq"
)

// setupTestDB creates a PostgreSQL container with the outbox schema applied
func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "outbox_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithStartupTimeout(60 * time.Second),
	}

	postgresContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "Failed to start PostgreSQL container")

	host, err := postgresContainer.Host(ctx)
	require.NoError(t, err, "Failed to get container host")

	port, err := postgresContainer.MappedPort(ctx, "5432")
	require.NoError(t, err, "Failed to get container port")

	connStr := fmt.Sprintf("host=%s port=%s user=test password=test dbname=outbox_test sslmode=disable", host, port.Port())

	var db *sql.DB
	for i := 0; i < 30; i++ {
		db, err = sql.Open("postgres", connStr)
		if err == nil {
			err = db.Ping()
			if err == nil {
				break
			}
		}
		time.Sleep(time.Second)
	}
	require.NoError(t, err, "Failed to connect to database")

	migrationSQL, err := os.ReadFile(filepath.Join("..", "migrations", "000001_create_outbox_entries.up.sql"))
	require.NoError(t, err, "Failed to read migration file")
	_, err = db.Exec(string(migrationSQL))
	require.NoError(t, err, "Failed to run migrations")

	cleanup := func() {
		db.Close()
		postgresContainer.Terminate(ctx)
	}

	return db, cleanup
}

func newEntry(rule string, createdAt time.Time) *Entry {
	return &Entry{
		ID:          uuid.NewString(),
		RuleName:    rule,
		ActionType:  "contract_call",
		Action:      []byte(`{"type":"contract_call","contract":"voting","method":"finalize"}`),
		ContentHash: fmt.Sprintf("%064d", createdAt.Unix()),
		TriggeredAt: createdAt,
		CreatedAt:   createdAt,
	}
}

func TestPostgresStore(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storeContract(t, NewPostgresStore(db))
}

func TestPostgresStore_OrdersByCreatedAt(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPostgresStore(db)
	base := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

	first := newEntry("auto_finalize_election", base)
	second := newEntry("auto_close_feedback_threshold", base.Add(time.Second))
	require.NoError(t, store.Enqueue(ctx, second, first))

	pending, err := store.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, second.ID, pending[1].ID)
	assert.Equal(t, "auto_finalize_election", pending[0].RuleName)
}
