// Package testcontainers starts a throwaway Postgres for integration tests.
// Tests using it are skipped unless EXPORTS_INTEGRATION=1, since they need a
// running Docker daemon.
package testcontainers

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"example.com/userexports/internal/storage/postgres"
	"example.com/userexports/migrations"
)

const (
	defaultPostgresPort = "5432"
	defaultUser         = "test"
	defaultPassword     = "test"
	defaultDatabase     = "exports"
)

// PostgresContainer represents a PostgreSQL container for testing
type PostgresContainer struct {
	testcontainers.Container
	Host string
	Port int
}

// NewPostgresContainer creates a new PostgreSQL container
func NewPostgresContainer(ctx context.Context) (*PostgresContainer, error) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{defaultPostgresPort + "/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     defaultUser,
			"POSTGRES_PASSWORD": defaultPassword,
			"POSTGRES_DB":       defaultDatabase,
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForExposedPort(),
		),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	mappedPort, err := container.MappedPort(ctx, defaultPostgresPort)
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	port, err := strconv.Atoi(mappedPort.Port())
	if err != nil {
		return nil, fmt.Errorf("failed to parse port: %w", err)
	}

	return &PostgresContainer{Container: container, Host: host, Port: port}, nil
}

// GetDSN returns the PostgreSQL connection string
func (c *PostgresContainer) GetDSN() string {
	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s?sslmode=disable",
		defaultUser, defaultPassword, c.Host, c.Port, defaultDatabase)
}

// NewDB starts a container, applies the schema and returns a connected DB.
// Everything is torn down through t.Cleanup.
func NewDB(t *testing.T) *postgres.DB {
	t.Helper()
	if os.Getenv("EXPORTS_INTEGRATION") != "1" {
		t.Skip("Skipping Postgres integration test: EXPORTS_INTEGRATION not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	c, err := NewPostgresContainer(ctx)
	if err != nil {
		t.Fatalf("postgres container: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	db, err := postgres.Connect(ctx, c.GetDSN())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(db.Close)

	if err := db.RunMigration(ctx, migrations.FS, migrations.Init); err != nil {
		t.Fatalf("migration: %v", err)
	}
	return db
}

// InsertUser seeds one users row and returns its id.
func InsertUser(t *testing.T, db *postgres.DB, name, email string, createdAt, updatedAt time.Time, deleted bool) int64 {
	t.Helper()
	var id int64
	err := db.Pool.QueryRow(context.Background(),
		`INSERT INTO users (name, email, created_at, updated_at, is_deleted) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		name, email, createdAt, updatedAt, deleted).Scan(&id)
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
	return id
}
