package adstore

import "sync"

// Manager tracks the stores of concurrently live auction rounds by round
// id. Each round owns exactly one Store; clearing a round drops it.
type Manager struct {
	mu     sync.RWMutex
	rounds map[string]*Store
}

// NewManager creates an empty round manager.
func NewManager() *Manager {
	return &Manager{rounds: make(map[string]*Store)}
}

// GetOrCreate returns the store for a round, creating it on first use.
func (m *Manager) GetOrCreate(roundID string) *Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rounds[roundID]
	if !ok {
		s = New()
		m.rounds[roundID] = s
	}
	return s
}

// Get returns the store for a round, if the round exists.
func (m *Manager) Get(roundID string) (*Store, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.rounds[roundID]
	return s, ok
}

// Clear drops a round and its data.
func (m *Manager) Clear(roundID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rounds, roundID)
}
