package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"athena/core"
	dbtx "athena/db/tx"
	"athena/models"
)

const uniqueViolation = "23505"

type PostgresProcessedInteractionsRepository struct {
	schema string
}

func NewPostgresProcessedInteractionsRepository(schema string) *PostgresProcessedInteractionsRepository {
	return &PostgresProcessedInteractionsRepository{schema: pq.QuoteIdentifier(schema)}
}

// CreateProcessedInteraction records that an interaction mutated a record. It must
// run inside the transaction that applies the mutation.
// A second insert for the same (interaction, scope, key) fails with core.ErrDuplicateInteraction.
func (r *PostgresProcessedInteractionsRepository) CreateProcessedInteraction(
	ctx context.Context,
	processed *models.ProcessedInteraction,
) error {
	tx, err := dbtx.Required(ctx)
	if err != nil {
		return fmt.Errorf("failed to record interaction %s: %w", processed.InteractionID, err)
	}
	insertColumns := []string{
		"id",
		"interaction_id",
		"scope_kind",
		"scope_id",
		"key",
	}

	placeholders := make([]string, len(insertColumns))
	for i := range insertColumns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s.processed_interactions (%s, created_at)
		VALUES (%s, NOW())`,
		r.schema,
		strings.Join(insertColumns, ", "),
		strings.Join(placeholders, ", "))

	_, err = tx.ExecContext(
		ctx,
		query,
		processed.ID,
		processed.InteractionID,
		string(processed.ScopeKind),
		processed.ScopeID,
		processed.Key,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("interaction %s on %s: %w", processed.InteractionID, processed.Key, core.ErrDuplicateInteraction)
		}
		return fmt.Errorf("failed to create processed interaction: %w", err)
	}

	return nil
}
