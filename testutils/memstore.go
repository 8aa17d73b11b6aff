package testutils

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/mo"

	"athena/core"
	"athena/models"
)

// MemoryDatabase is an in-memory stand-in for the Postgres repositories. Writes
// made inside MemoryTransactionManager.WithTransaction are undone when the
// transaction function fails.
type MemoryDatabase struct {
	mu        sync.Mutex
	records   map[string]*models.Record
	processed map[string]bool

	// Fail, when set, is consulted before every operation; a non-nil result is returned as the operation's error
	Fail func(op string) error
	// Calls counts operations by name
	Calls map[string]int
}

func NewMemoryDatabase() *MemoryDatabase {
	return &MemoryDatabase{
		records:   make(map[string]*models.Record),
		processed: make(map[string]bool),
		Calls:     make(map[string]int),
	}
}

type memTxKey struct{}

type memTx struct {
	undo []func()
}

func recordKey(kind models.ScopeKeyKind, scopeID, key string) string {
	return string(kind) + "|" + scopeID + "|" + key
}

func (m *MemoryDatabase) begin(ctx context.Context, op string) error {
	m.Calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.Fail != nil {
		return m.Fail(op)
	}
	return nil
}

func (m *MemoryDatabase) onRollback(ctx context.Context, undo func()) {
	if tx, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		tx.undo = append(tx.undo, undo)
	}
}

// CallCount returns how many times op was invoked
func (m *MemoryDatabase) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[op]
}

// TotalCalls returns the number of operations of any kind
func (m *MemoryDatabase) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, count := range m.Calls {
		total += count
	}
	return total
}

func (m *MemoryDatabase) GetRecord(
	ctx context.Context,
	scope models.ScopeKey,
	key string,
) (mo.Option[*models.Record], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "GetRecord"); err != nil {
		return mo.None[*models.Record](), err
	}

	record, ok := m.records[recordKey(scope.Kind, scope.ID(), key)]
	if !ok {
		return mo.None[*models.Record](), nil
	}
	copied := *record
	return mo.Some(&copied), nil
}

func (m *MemoryDatabase) UpsertRecord(ctx context.Context, record *models.Record) (*models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "UpsertRecord"); err != nil {
		return nil, err
	}

	k := recordKey(record.ScopeKind, record.ScopeID, record.Key)
	previous, existed := m.records[k]
	now := time.Now()

	stored := *record
	stored.Payload = append([]byte(nil), record.Payload...)
	if existed {
		stored.ID = previous.ID
		stored.Version = previous.Version + 1
		stored.CreatedAt = previous.CreatedAt
	} else {
		stored.Version = 1
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	m.records[k] = &stored

	m.onRollback(ctx, func() {
		if existed {
			m.records[k] = previous
		} else {
			delete(m.records, k)
		}
	})

	copied := stored
	return &copied, nil
}

func (m *MemoryDatabase) DeleteRecord(ctx context.Context, scope models.ScopeKey, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "DeleteRecord"); err != nil {
		return err
	}

	k := recordKey(scope.Kind, scope.ID(), key)
	previous, ok := m.records[k]
	if !ok {
		return fmt.Errorf("record %s %s: %w", scope, key, core.ErrNotFound)
	}
	delete(m.records, k)
	m.onRollback(ctx, func() { m.records[k] = previous })
	return nil
}

func (m *MemoryDatabase) ListRecordsByKeyPrefix(ctx context.Context, prefix string) ([]*models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "ListRecordsByKeyPrefix"); err != nil {
		return nil, err
	}

	var result []*models.Record
	for _, record := range m.records {
		if strings.HasPrefix(record.Key, prefix) {
			copied := *record
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *MemoryDatabase) CreateProcessedInteraction(ctx context.Context, processed *models.ProcessedInteraction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "CreateProcessedInteraction"); err != nil {
		return err
	}

	k := processed.InteractionID + "|" + recordKey(processed.ScopeKind, processed.ScopeID, processed.Key)
	if m.processed[k] {
		return fmt.Errorf("interaction %s on %s: %w", processed.InteractionID, processed.Key, core.ErrDuplicateInteraction)
	}
	m.processed[k] = true
	m.onRollback(ctx, func() { delete(m.processed, k) })
	return nil
}

// PutRecord seeds a record directly, bypassing transactions
func (m *MemoryDatabase) PutRecord(record *models.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *record
	if stored.Version == 0 {
		stored.Version = 1
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	m.records[recordKey(stored.ScopeKind, stored.ScopeID, stored.Key)] = &stored
}

// MemoryTransactionManager runs transaction functions against a MemoryDatabase.
type MemoryTransactionManager struct {
	db *MemoryDatabase
}

func NewMemoryTransactionManager(db *MemoryDatabase) *MemoryTransactionManager {
	return &MemoryTransactionManager{db: db}
}

func (tm *MemoryTransactionManager) WithTransaction(ctx context.Context, fn func(context.Context) error) error {
	if _, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		return fn(ctx)
	}

	tx := &memTx{}
	err := fn(context.WithValue(ctx, memTxKey{}, tx))
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		tm.db.mu.Lock()
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		tm.db.mu.Unlock()
		return err
	}
	return nil
}
