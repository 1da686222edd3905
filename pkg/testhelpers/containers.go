// Package testhelpers provides utilities for testing chronicle-engine components.
package testhelpers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql (migrations)
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/chronicle-ai/chronicle-engine/pkg/database"
)

// PostgresTestImage is the PostgreSQL image integration tests run against.
const PostgresTestImage = "postgres:16-alpine"

// TestDB holds a shared test database container and a raw connection pool.
// The chronicle_test database carries no schema; tests that need prepared
// graph tables use GetEngineDB or NewStoreDB instead.
type TestDB struct {
	Container testcontainers.Container
	Pool      *pgxpool.Pool
	ConnStr   string
}

var (
	sharedTestDB     *TestDB
	sharedTestDBOnce sync.Once
	sharedTestDBErr  error
)

// GetTestDB returns a shared PostgreSQL container for integration tests.
// The container is created once and reused across all tests in the run.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedTestDBOnce.Do(func() {
		sharedTestDB, sharedTestDBErr = setupTestDB()
	})

	if sharedTestDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedTestDBErr)
	}

	return sharedTestDB
}

func setupTestDB() (*TestDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        PostgresTestImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "chronicle_test",
			"POSTGRES_USER":     "chronicle",
			"POSTGRES_PASSWORD": "test_password",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	connStr, err := containerConnStr(ctx, container, "chronicle_test")
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection with retry
	for i := 0; i < 10; i++ {
		if err := pool.Ping(ctx); err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}

	return &TestDB{
		Container: container,
		Pool:      pool,
		ConnStr:   connStr,
	}, nil
}

// EngineDB holds the engine's local store with migrations applied. Use this
// for testing handlers, services, and repositories against a real database.
type EngineDB struct {
	DB      *database.DB
	ConnStr string
}

// Scope returns a store scope bound to the engine test database, ready to
// place in a context with database.SetStoreScope.
func (e *EngineDB) Scope() *database.StoreScope {
	return &database.StoreScope{Pool: e.DB.Pool}
}

var (
	sharedEngineDB     *EngineDB
	sharedEngineDBOnce sync.Once
	sharedEngineDBErr  error
)

// GetEngineDB returns a shared engine database for integration tests. The
// database has migrations applied and is reused across all tests.
func GetEngineDB(t *testing.T) *EngineDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	// Ensure the test container is running first
	testDB := GetTestDB(t)

	sharedEngineDBOnce.Do(func() {
		sharedEngineDB, sharedEngineDBErr = setupEngineDB(testDB)
	})

	if sharedEngineDBErr != nil {
		t.Fatalf("Failed to setup engine database: %v", sharedEngineDBErr)
	}

	return sharedEngineDB
}

func setupEngineDB(testDB *TestDB) (*EngineDB, error) {
	connStr, err := createStoreDB(testDB, "chronicle_engine_test")
	if err != nil {
		return nil, err
	}

	db, err := database.NewConnection(context.Background(), &database.Config{
		URL:            connStr,
		MaxConnections: 5,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to engine database: %w", err)
	}

	return &EngineDB{
		DB:      db,
		ConnStr: connStr,
	}, nil
}

// NewStoreDB creates a fresh migrated database inside the shared container
// and returns a scope for it. Tests that exercise multi-store behavior (the
// scheduler's tenant mirroring, the store registry) use these as tenant
// stores.
func NewStoreDB(t *testing.T, name string) (*database.StoreScope, string) {
	t.Helper()

	testDB := GetTestDB(t)

	connStr, err := createStoreDB(testDB, name)
	if err != nil {
		t.Fatalf("Failed to create store database %q: %v", name, err)
	}

	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		t.Fatalf("Failed to connect to store database %q: %v", name, err)
	}
	t.Cleanup(pool.Close)

	return &database.StoreScope{Pool: pool, URI: connStr}, connStr
}

// createStoreDB creates the named database if missing and applies
// migrations to it.
func createStoreDB(testDB *TestDB, name string) (string, error) {
	ctx := context.Background()

	_, err := testDB.Pool.Exec(ctx, "CREATE DATABASE "+name)
	if err != nil && !isDuplicateDatabase(err) {
		return "", fmt.Errorf("failed to create database %q: %w", name, err)
	}

	connStr, err := containerConnStr(ctx, testDB.Container, name)
	if err != nil {
		return "", err
	}

	sqlDB, err := sql.Open("pgx", connStr)
	if err != nil {
		return "", fmt.Errorf("failed to open sql connection: %w", err)
	}
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB, migrationsDir(), zap.NewNop()); err != nil {
		return "", fmt.Errorf("failed to run migrations: %w", err)
	}

	return connStr, nil
}

func containerConnStr(ctx context.Context, container testcontainers.Container, dbName string) (string, error) {
	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return "", fmt.Errorf("failed to get container port: %w", err)
	}

	return fmt.Sprintf("postgres://chronicle:test_password@%s:%s/%s?sslmode=disable",
		host, port.Port(), dbName), nil
}

func isDuplicateDatabase(err error) bool {
	var pgErr *pgconn.PgError
	// PostgreSQL error 42P04: database already exists
	return errors.As(err, &pgErr) && pgErr.Code == "42P04"
}

// migrationsDir resolves the repository's migrations directory regardless of
// which package the test runs from.
func migrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}
