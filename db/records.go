package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/samber/mo"

	"athena/core"
	dbtx "athena/db/tx"
	"athena/models"
)

type PostgresRecordsRepository struct {
	db     *sqlx.DB
	schema string
}

// Column names for scoped_records table
var recordsColumns = []string{
	"id",
	"scope_kind",
	"scope_id",
	"key",
	"payload",
	"version",
	"created_at",
	"updated_at",
}

func NewPostgresRecordsRepository(db *sqlx.DB, schema string) *PostgresRecordsRepository {
	return &PostgresRecordsRepository{db: db, schema: pq.QuoteIdentifier(schema)}
}

func (r *PostgresRecordsRepository) GetRecord(
	ctx context.Context,
	scope models.ScopeKey,
	key string,
) (mo.Option[*models.Record], error) {
	db := dbtx.For(ctx, r.db)
	columnsStr := strings.Join(recordsColumns, ", ")
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.scoped_records
		WHERE scope_kind = $1 AND scope_id = $2 AND key = $3`,
		columnsStr, r.schema)

	var record models.Record
	err := db.GetContext(ctx, &record, query, string(scope.Kind), scope.ID(), key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return mo.None[*models.Record](), nil
		}
		return mo.None[*models.Record](), fmt.Errorf("failed to get record %s %s: %w", scope, key, err)
	}

	return mo.Some(&record), nil
}

// UpsertRecord inserts the record or replaces the payload of the existing one,
// bumping its version.
func (r *PostgresRecordsRepository) UpsertRecord(ctx context.Context, record *models.Record) (*models.Record, error) {
	db := dbtx.For(ctx, r.db)
	returningStr := strings.Join(recordsColumns, ", ")

	query := fmt.Sprintf(`
		INSERT INTO %s.scoped_records (id, scope_kind, scope_id, key, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (scope_kind, scope_id, key)
		DO UPDATE SET
			payload = EXCLUDED.payload,
			version = scoped_records.version + 1,
			updated_at = NOW()
		RETURNING %s`,
		r.schema, returningStr)

	var stored models.Record
	err := db.QueryRowxContext(
		ctx,
		query,
		record.ID,
		string(record.ScopeKind),
		record.ScopeID,
		record.Key,
		record.Payload,
	).StructScan(&stored)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert record %s/%s %s: %w", record.ScopeKind, record.ScopeID, record.Key, err)
	}

	return &stored, nil
}

// DeleteRecord removes a record. Deleting a missing record returns core.ErrNotFound.
func (r *PostgresRecordsRepository) DeleteRecord(ctx context.Context, scope models.ScopeKey, key string) error {
	db := dbtx.For(ctx, r.db)
	query := fmt.Sprintf(`
		DELETE FROM %s.scoped_records
		WHERE scope_kind = $1 AND scope_id = $2 AND key = $3`,
		r.schema)

	result, err := db.ExecContext(ctx, query, string(scope.Kind), scope.ID(), key)
	if err != nil {
		return fmt.Errorf("failed to delete record %s %s: %w", scope, key, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("record %s %s: %w", scope, key, core.ErrNotFound)
	}

	return nil
}

// ListRecordsByKeyPrefix returns every record whose key starts with prefix, oldest first.
func (r *PostgresRecordsRepository) ListRecordsByKeyPrefix(ctx context.Context, prefix string) ([]*models.Record, error) {
	db := dbtx.For(ctx, r.db)
	columnsStr := strings.Join(recordsColumns, ", ")
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.scoped_records
		WHERE key LIKE $1 ESCAPE '\'
		ORDER BY created_at ASC`,
		columnsStr, r.schema)

	var records []models.Record
	if err := db.SelectContext(ctx, &records, query, escapeLike(prefix)+"%"); err != nil {
		return nil, fmt.Errorf("failed to list records with prefix %s: %w", prefix, err)
	}

	result := make([]*models.Record, len(records))
	for i := range records {
		result[i] = &records[i]
	}

	return result, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
