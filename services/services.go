package services

import (
	"context"

	"github.com/samber/mo"

	"athena/models"
)

// TransactionManager handles database transactions via context
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// RecordsRepository persists scoped records
type RecordsRepository interface {
	GetRecord(ctx context.Context, scope models.ScopeKey, key string) (mo.Option[*models.Record], error)
	UpsertRecord(ctx context.Context, record *models.Record) (*models.Record, error)
	DeleteRecord(ctx context.Context, scope models.ScopeKey, key string) error
	ListRecordsByKeyPrefix(ctx context.Context, prefix string) ([]*models.Record, error)
}

// ProcessedInteractionsRepository remembers which interactions already mutated which records
type ProcessedInteractionsRepository interface {
	CreateProcessedInteraction(ctx context.Context, processed *models.ProcessedInteraction) error
}

// Mutation computes the next payload of a record from its current state
type Mutation func(current mo.Option[*models.Record]) ([]byte, error)

// StateService is transactional access to durable per-scope records. Callers must
// hold the scope lock for every record they touch.
type StateService interface {
	ReadScoped(ctx context.Context, scope models.ScopeKey, key string) (mo.Option[*models.Record], error)
	WriteScoped(
		ctx context.Context,
		interactionID string,
		scope models.ScopeKey,
		key string,
		mutate Mutation,
	) (*models.Record, error)
	DeleteScoped(ctx context.Context, interactionID string, scope models.ScopeKey, key string) error
	ListByKeyPrefix(ctx context.Context, prefix string) ([]*models.Record, error)
	// Atomically runs fn in one transaction; writes made through ctx inside fn
	// commit or roll back together.
	Atomically(ctx context.Context, fn func(ctx context.Context) error) error
}

// ScopedStore is the State Repository handle given to a single command invocation.
// It only allows access to records covered by the scope locks the invocation holds.
type ScopedStore interface {
	Read(ctx context.Context, scope models.ScopeKey, key string) (mo.Option[*models.Record], error)
	Write(ctx context.Context, scope models.ScopeKey, key string, mutate Mutation) (*models.Record, error)
	Delete(ctx context.Context, scope models.ScopeKey, key string) error
	Atomically(ctx context.Context, fn func(ctx context.Context) error) error
}

// ReminderScheduler arranges delivery of stored reminders
type ReminderScheduler interface {
	Schedule(reminder *models.Reminder)
}
