package history

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore provides an in-memory implementation for testing.
type MockStore struct {
	mu      sync.RWMutex
	actions []Action

	// FailWith, when set, makes LogAction return this error.
	FailWith error
}

// NewMockStore creates a mock history store.
func NewMockStore() *MockStore {
	return &MockStore{}
}

// LogAction records the action in memory.
func (m *MockStore) LogAction(action Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWith != nil {
		return m.FailWith
	}
	if action.ID == "" {
		action.ID = uuid.New().String()
	}
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now()
	}
	m.actions = append(m.actions, action)
	return nil
}

// QueryHistory returns recorded actions, newest first.
func (m *MockStore) QueryHistory(limit int) ([]Action, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.actions) {
		limit = len(m.actions)
	}

	out := make([]Action, 0, limit)
	for i := len(m.actions) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.actions[i])
	}
	return out, nil
}

// QueryStats aggregates the recorded actions.
func (m *MockStore) QueryStats() (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		ByOperation: make(map[string]int),
		ByCategory:  make(map[string]int),
	}
	for _, a := range m.actions {
		stats.TotalActions++
		stats.TotalTimeSaved += a.TimeSaved
		stats.ByOperation[a.Operation]++
		if a.Category != "" {
			stats.ByCategory[a.Category]++
		}
	}
	return stats, nil
}

// Close is a no-op.
func (m *MockStore) Close() error { return nil }
