// Package state records runs and keeps them in a Store for later listing and
// export.
package state

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PentesterFlow/APIFuzz/internal/output"
)

// Manager creates runs and persists them when they finish.
type Manager struct {
	mu    sync.Mutex
	store Store
	now   func() time.Time
}

// NewManager creates a manager. A nil store keeps runs in memory.
func NewManager(store Store) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Manager{store: store, now: time.Now}
}

// Store returns the backing store.
func (m *Manager) Store() Store {
	return m.store
}

// Start opens a new run with a fresh UUID.
func (m *Manager) Start(target, dialect, title string) *output.RunResult {
	return &output.RunResult{
		ID:        uuid.NewString(),
		Target:    target,
		Dialect:   dialect,
		Title:     title,
		StartedAt: m.now(),
	}
}

// Finish attaches results to run, computes its statistics and saves it.
func (m *Manager) Finish(run *output.RunResult, endpoints int, results []*output.ProbeResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run.CompletedAt = m.now()
	run.Endpoints = endpoints
	run.Results = results
	run.Stats = output.ComputeStats(results)
	run.Stats.Duration = run.CompletedAt.Sub(run.StartedAt)
	return m.store.Save(run)
}

// Lookup returns a stored run by ID. A unique ID prefix of at least eight
// characters is accepted as well.
func (m *Manager) Lookup(id string) (*output.RunResult, error) {
	run, err := m.store.Get(id)
	if err == nil || err != ErrNotFound || len(id) < 8 {
		return run, err
	}
	list, lerr := m.store.List()
	if lerr != nil {
		return nil, lerr
	}
	match := ""
	for _, rs := range list {
		if len(rs.ID) >= len(id) && rs.ID[:len(id)] == id {
			if match != "" {
				return nil, ErrNotFound
			}
			match = rs.ID
		}
	}
	if match == "" {
		return nil, ErrNotFound
	}
	return m.store.Get(match)
}

// Close closes the backing store.
func (m *Manager) Close() error {
	return m.store.Close()
}
