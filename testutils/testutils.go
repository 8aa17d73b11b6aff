package testutils

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"

	"athena/config"
	"athena/core"
	"athena/db"
)

// LoadTestConfig loads configuration for tests from environment variables
func LoadTestConfig() (*config.AppConfig, error) {
	_ = godotenv.Load("../.env.test")
	_ = godotenv.Load("../../.env.test")
	_ = godotenv.Load(".env.test")

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	return &config.AppConfig{
		DatabaseURL:    databaseURL,
		DatabaseSchema: "athena_test_" + strings.ToLower(core.NewID("s")[2:12]),
	}, nil
}

// SetupTestDatabase connects to the test database and creates an isolated schema
// that is dropped when the test finishes. Tests are skipped when no database is configured.
func SetupTestDatabase(t *testing.T) (*sqlx.DB, string) {
	t.Helper()

	cfg, err := LoadTestConfig()
	if err != nil {
		t.Skipf("skipping database test: %v", err)
	}

	ctx := context.Background()
	dbConn, err := db.NewConnection(ctx, cfg.DatabaseURL)
	require.NoError(t, err, "Failed to create database connection")

	require.NoError(t, db.EnsureSchema(ctx, dbConn, cfg.DatabaseSchema))

	t.Cleanup(func() {
		_, _ = dbConn.ExecContext(context.Background(), "DROP SCHEMA IF EXISTS "+cfg.DatabaseSchema+" CASCADE")
		dbConn.Close()
	})

	return dbConn, cfg.DatabaseSchema
}
