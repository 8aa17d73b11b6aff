package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS %[1]s.scoped_records (
		id          TEXT PRIMARY KEY,
		scope_kind  TEXT NOT NULL,
		scope_id    TEXT NOT NULL,
		key         TEXT NOT NULL,
		payload     JSONB NOT NULL,
		version     BIGINT NOT NULL DEFAULT 1,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (scope_kind, scope_id, key)
	)`,
	`CREATE INDEX IF NOT EXISTS scoped_records_key_idx ON %[1]s.scoped_records (key text_pattern_ops)`,
	`CREATE TABLE IF NOT EXISTS %[1]s.processed_interactions (
		id              TEXT PRIMARY KEY,
		interaction_id  TEXT NOT NULL,
		scope_kind      TEXT NOT NULL,
		scope_id        TEXT NOT NULL,
		key             TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (interaction_id, scope_kind, scope_id, key)
	)`,
}

// EnsureSchema creates the tables the bot needs if they do not exist yet.
func EnsureSchema(ctx context.Context, db *sqlx.DB, schema string) error {
	log.Info().Str("schema", schema).Msg("📋 Starting to ensure database schema")

	quoted := pq.QuoteIdentifier(schema)
	if _, err := db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+quoted); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", schema, err)
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, fmt.Sprintf(stmt, quoted)); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}

	log.Info().Str("schema", schema).Msg("📋 Completed successfully - database schema ready")
	return nil
}
