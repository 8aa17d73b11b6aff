package state

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/samber/mo"

	"athena/core"
	"athena/models"
	"athena/services"
)

// ScopedStore binds the state service to one interaction and the scope keys it holds.
type ScopedStore struct {
	service       services.StateService
	interactionID string
	held          []models.ScopeKey
}

func NewScopedStore(service services.StateService, interactionID string, held []models.ScopeKey) *ScopedStore {
	return &ScopedStore{
		service:       service,
		interactionID: interactionID,
		held:          held,
	}
}

func (s *ScopedStore) check(ctx context.Context, scope models.ScopeKey) error {
	// A cancelled invocation has lost its locks and must not touch the store
	if err := ctx.Err(); err != nil {
		return err
	}
	if !models.ScopeSetCovers(s.held, scope) {
		return fmt.Errorf("%w: %s", core.ErrScopeNotHeld, scope)
	}
	return nil
}

func (s *ScopedStore) Read(ctx context.Context, scope models.ScopeKey, key string) (mo.Option[*models.Record], error) {
	if err := s.check(ctx, scope); err != nil {
		return mo.None[*models.Record](), err
	}
	return s.service.ReadScoped(ctx, scope, key)
}

func (s *ScopedStore) Write(
	ctx context.Context,
	scope models.ScopeKey,
	key string,
	mutate services.Mutation,
) (*models.Record, error) {
	if err := s.check(ctx, scope); err != nil {
		return nil, err
	}
	return s.service.WriteScoped(ctx, s.interactionID, scope, key, mutate)
}

func (s *ScopedStore) Delete(ctx context.Context, scope models.ScopeKey, key string) error {
	if err := s.check(ctx, scope); err != nil {
		return err
	}
	return s.service.DeleteScoped(ctx, s.interactionID, scope, key)
}

// Atomically groups several writes of this invocation so they commit together.
func (s *ScopedStore) Atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.service.Atomically(ctx, fn)
}

// ReadJSON reads a record and decodes its payload into T.
func ReadJSON[T any](ctx context.Context, store services.ScopedStore, scope models.ScopeKey, key string) (mo.Option[T], error) {
	maybeRecord, err := store.Read(ctx, scope, key)
	if err != nil {
		return mo.None[T](), err
	}
	record, ok := maybeRecord.Get()
	if !ok {
		return mo.None[T](), nil
	}

	var value T
	if err := json.Unmarshal(record.Payload, &value); err != nil {
		return mo.None[T](), fmt.Errorf("failed to decode %s record %s: %w", scope, key, err)
	}
	return mo.Some(value), nil
}

// UpdateJSON decodes the record at (scope, key), or starts from the zero T when it
// does not exist yet, applies update and writes the result back.
func UpdateJSON[T any](
	ctx context.Context,
	store services.ScopedStore,
	scope models.ScopeKey,
	key string,
	update func(value *T) error,
) (T, error) {
	var value T
	_, err := store.Write(ctx, scope, key, func(current mo.Option[*models.Record]) ([]byte, error) {
		value = *new(T)
		if record, ok := current.Get(); ok {
			if err := json.Unmarshal(record.Payload, &value); err != nil {
				return nil, fmt.Errorf("failed to decode %s record %s: %w", scope, key, err)
			}
		}
		if err := update(&value); err != nil {
			return nil, err
		}
		return json.Marshal(value)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return value, nil
}
