package scopelock

import (
	"context"
	"slices"
	"sync"

	"athena/models"
)

// Manager provides FIFO mutual exclusion per key. Entries are created on first
// acquisition and removed once nobody holds or waits for them, so memory is
// bounded by the keys currently in use rather than every key ever seen.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	// refs counts the holder plus queued waiters
	refs    int
	held    bool
	waiters []chan struct{}
}

func NewManager() *Manager {
	return &Manager{entries: make(map[string]*entry)}
}

// Guard represents a set of held keys. Release is safe to call more than once.
type Guard struct {
	manager *Manager
	keys    []string
	scopes  []models.ScopeKey
	once    sync.Once
}

// Acquire locks every scope key in the global order. Either all keys are held
// when it returns, or none are.
func (m *Manager) Acquire(ctx context.Context, scopes []models.ScopeKey) (*Guard, error) {
	sorted := slices.Clone(scopes)
	models.SortScopeKeys(sorted)
	sorted = slices.Compact(sorted)

	keys := make([]string, len(sorted))
	for i, scope := range sorted {
		keys[i] = scope.String()
	}

	guard, err := m.AcquireKeys(ctx, keys...)
	if err != nil {
		return nil, err
	}
	guard.scopes = sorted
	return guard, nil
}

// AcquireKeys locks raw string keys in lexicographic order.
func (m *Manager) AcquireKeys(ctx context.Context, keys ...string) (*Guard, error) {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i, key := range sorted {
		if err := m.acquireOne(ctx, key); err != nil {
			for j := i - 1; j >= 0; j-- {
				m.releaseOne(sorted[j])
			}
			return nil, err
		}
	}

	return &Guard{manager: m, keys: sorted}, nil
}

func (m *Manager) acquireOne(ctx context.Context, key string) error {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	e.refs++
	if !e.held {
		e.held = true
		m.mu.Unlock()
		return nil
	}

	ready := make(chan struct{})
	e.waiters = append(e.waiters, ready)
	m.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
	}

	m.mu.Lock()
	select {
	case <-ready:
		// Ownership was handed over while we were giving up; pass it on
		m.mu.Unlock()
		m.releaseOne(key)
	default:
		e.waiters = slices.DeleteFunc(e.waiters, func(ch chan struct{}) bool { return ch == ready })
		e.refs--
		if e.refs == 0 {
			delete(m.entries, key)
		}
		m.mu.Unlock()
	}
	return ctx.Err()
}

func (m *Manager) releaseOne(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || !e.held {
		panic("scopelock: release of unheld key " + key)
	}

	e.refs--
	if len(e.waiters) > 0 {
		next := e.waiters[0]
		e.waiters = e.waiters[1:]
		close(next)
		return
	}

	e.held = false
	if e.refs == 0 {
		delete(m.entries, key)
	}
}

// Len returns the number of keys currently held or waited on.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Release unlocks the keys in reverse acquisition order
func (g *Guard) Release() {
	g.once.Do(func() {
		for i := len(g.keys) - 1; i >= 0; i-- {
			g.manager.releaseOne(g.keys[i])
		}
	})
}

// Scopes returns the scope keys held by the guard, in acquisition order.
func (g *Guard) Scopes() []models.ScopeKey {
	return slices.Clone(g.scopes)
}
