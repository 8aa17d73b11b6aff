package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/samber/mo"

	"athena/core"
	"athena/models"
	"athena/services"
)

type StateService struct {
	recordsRepo   services.RecordsRepository
	processedRepo services.ProcessedInteractionsRepository
	txManager     services.TransactionManager
}

func NewStateService(
	recordsRepo services.RecordsRepository,
	processedRepo services.ProcessedInteractionsRepository,
	txManager services.TransactionManager,
) *StateService {
	return &StateService{
		recordsRepo:   recordsRepo,
		processedRepo: processedRepo,
		txManager:     txManager,
	}
}

// mutationError marks failures produced by the caller's mutation so they are not
// mistaken for store failures.
type mutationError struct {
	err error
}

func (e *mutationError) Error() string { return e.err.Error() }
func (e *mutationError) Unwrap() error { return e.err }

func (s *StateService) ReadScoped(
	ctx context.Context,
	scope models.ScopeKey,
	key string,
) (mo.Option[*models.Record], error) {
	var result mo.Option[*models.Record]
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		record, err := s.recordsRepo.GetRecord(ctx, scope, key)
		if err != nil {
			return err
		}
		result = record
		return nil
	})
	if err != nil {
		return mo.None[*models.Record](), s.classify(ctx, err)
	}
	return result, nil
}

// WriteScoped applies mutate to the record at (scope, key) in one transaction.
// The interaction is recorded against the record first; an interaction that
// already mutated this record fails with core.ErrDuplicateInteraction and the
// mutation is not applied again.
func (s *StateService) WriteScoped(
	ctx context.Context,
	interactionID string,
	scope models.ScopeKey,
	key string,
	mutate services.Mutation,
) (*models.Record, error) {
	log.Debug().Str("interaction_id", interactionID).Stringer("scope", scope).Str("key", key).
		Msg("📋 Starting to write scoped record")

	var stored *models.Record
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.markProcessed(ctx, interactionID, scope, key); err != nil {
			return err
		}

		current, err := s.recordsRepo.GetRecord(ctx, scope, key)
		if err != nil {
			return err
		}

		payload, err := mutate(current)
		if err != nil {
			return &mutationError{err: err}
		}

		record := &models.Record{
			ID:        core.NewID("rec"),
			ScopeKind: scope.Kind,
			ScopeID:   scope.ID(),
			Key:       key,
			Payload:   payload,
		}
		if existing, ok := current.Get(); ok {
			record.ID = existing.ID
		}

		stored, err = s.recordsRepo.UpsertRecord(ctx, record)
		return err
	})
	if err != nil {
		return nil, s.classify(ctx, err)
	}

	log.Debug().Str("key", key).Int64("version", stored.Version).Msg("📋 Completed successfully - wrote scoped record")
	return stored, nil
}

// DeleteScoped removes a record. Only administrative commands delete records.
func (s *StateService) DeleteScoped(ctx context.Context, interactionID string, scope models.ScopeKey, key string) error {
	log.Info().Str("interaction_id", interactionID).Stringer("scope", scope).Str("key", key).
		Msg("📋 Starting to delete scoped record")

	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.markProcessed(ctx, interactionID, scope, key); err != nil {
			return err
		}
		return s.recordsRepo.DeleteRecord(ctx, scope, key)
	})
	if err != nil {
		return s.classify(ctx, err)
	}

	log.Info().Str("key", key).Msg("📋 Completed successfully - deleted scoped record")
	return nil
}

// ListByKeyPrefix returns records across all scopes whose key starts with prefix.
// It reads without scope locks and is meant for startup recovery only.
func (s *StateService) ListByKeyPrefix(ctx context.Context, prefix string) ([]*models.Record, error) {
	records, err := s.recordsRepo.ListRecordsByKeyPrefix(ctx, prefix)
	if err != nil {
		return nil, s.classify(ctx, err)
	}
	return records, nil
}

// Atomically joins every read and write made with the ctx passed to fn into one
// transaction. Errors returned by fn are passed through unchanged.
func (s *StateService) Atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return &mutationError{err: err}
		}
		return nil
	})
	if err != nil {
		return s.classify(ctx, err)
	}
	return nil
}

func (s *StateService) markProcessed(ctx context.Context, interactionID string, scope models.ScopeKey, key string) error {
	return s.processedRepo.CreateProcessedInteraction(ctx, &models.ProcessedInteraction{
		ID:            core.NewID("pi"),
		InteractionID: interactionID,
		ScopeKind:     scope.Kind,
		ScopeID:       scope.ID(),
		Key:           key,
	})
}

// classify maps failures onto the dispatch error taxonomy. Anything that is not a
// known domain outcome is treated as the store being unavailable.
func (s *StateService) classify(ctx context.Context, err error) error {
	var mutErr *mutationError
	switch {
	case errors.As(err, &mutErr):
		return mutErr.err
	case errors.Is(err, core.ErrDuplicateInteraction),
		errors.Is(err, core.ErrNotFound):
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		log.Error().Err(err).Msg("❌ State store operation failed")
		return fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
}
