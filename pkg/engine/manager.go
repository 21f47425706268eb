package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/pullquiz/pullquiz/pkg/metrics"
	"github.com/pullquiz/pullquiz/pkg/statestore"
	"github.com/pullquiz/pullquiz/pkg/storage"
)

// ManagerStorage adds the ownership lease to the engine's storage needs.
type ManagerStorage interface {
	Storage
	AcquireLease(ctx context.Context, sessionID, owner string) error
	ReleaseLease(ctx context.Context, sessionID, owner string) error
}

// Manager maps session ids to live engines and enforces the single-owner
// rule: an engine only runs while this process holds the session lease.
type Manager struct {
	cfg    Config
	store  ManagerStorage
	states StateStore
	owner  string

	mu      sync.Mutex
	engines map[string]*Engine
	closed  bool
}

// NewManager creates an engine manager with a process-unique owner id
// for lease acquisition.
func NewManager(cfg Config, store ManagerStorage, states StateStore) *Manager {
	return &Manager{
		cfg:     cfg,
		store:   store,
		states:  states,
		owner:   uuid.New().String(),
		engines: make(map[string]*Engine),
	}
}

// Owner returns the lease owner id of this process.
func (m *Manager) Owner() string {
	return m.owner
}

// Get returns the live engine for a session, or nil.
func (m *Manager) Get(sessionID string) *Engine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engines[sessionID]
}

// CreateSession acquires the lease and starts a fresh engine for a
// session that has no persisted state yet. Init must follow.
func (m *Manager) CreateSession(ctx context.Context, sessionID string) (*Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrEngineStopped
	}
	if eng, ok := m.engines[sessionID]; ok {
		return eng, nil
	}
	if err := m.store.AcquireLease(ctx, sessionID, m.owner); err != nil {
		return nil, err
	}
	eng := m.startLocked(sessionID)
	return eng, nil
}

// GetOrLoad returns the live engine for a session, rehydrating it from
// the state store when hibernated. ErrSessionNotFound means no engine is
// running and no persisted state exists.
func (m *Manager) GetOrLoad(ctx context.Context, sessionID string) (*Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrEngineStopped
	}
	if eng, ok := m.engines[sessionID]; ok {
		return eng, nil
	}

	data, err := m.states.Get(sessionID)
	if errors.Is(err, statestore.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := m.store.AcquireLease(ctx, sessionID, m.owner); err != nil {
		return nil, err
	}

	eng := m.startLocked(sessionID)
	if err := eng.Rehydrate(data); err != nil {
		eng.Stop()
		delete(m.engines, sessionID)
		m.releaseLease(sessionID)
		return nil, err
	}
	metrics.EngineRehydrations.Inc()
	slog.Info("Session engine rehydrated", "session_id", sessionID)
	return eng, nil
}

// startLocked creates and registers an engine. Caller holds m.mu.
func (m *Manager) startLocked(sessionID string) *Engine {
	eng := New(sessionID, m.cfg, m.store, m.states)
	eng.onIdle = m.unloadIdle
	m.engines[sessionID] = eng
	metrics.LiveEngines.Set(float64(len(m.engines)))
	return eng
}

// unloadIdle hibernates a quiet engine: final persist via Stop, engine
// removed, lease released. State stays in the store for rehydration.
func (m *Manager) unloadIdle(sessionID string) {
	m.mu.Lock()
	eng, ok := m.engines[sessionID]
	if ok {
		delete(m.engines, sessionID)
	}
	metrics.LiveEngines.Set(float64(len(m.engines)))
	closed := m.closed
	m.mu.Unlock()
	if !ok || closed {
		return
	}

	eng.Stop()
	m.releaseLease(sessionID)
	slog.Info("Session engine hibernated", "session_id", sessionID)
}

// Remove stops and unregisters a session's engine, releasing its lease.
func (m *Manager) Remove(sessionID string) {
	m.mu.Lock()
	eng, ok := m.engines[sessionID]
	if ok {
		delete(m.engines, sessionID)
	}
	metrics.LiveEngines.Set(float64(len(m.engines)))
	m.mu.Unlock()
	if !ok {
		return
	}
	eng.Stop()
	m.releaseLease(sessionID)
}

// Count returns the number of live engines.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.engines)
}

// Shutdown stops every engine, persisting state and releasing leases.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	m.closed = true
	engines := make(map[string]*Engine, len(m.engines))
	for id, eng := range m.engines {
		engines[id] = eng
	}
	m.engines = make(map[string]*Engine)
	metrics.LiveEngines.Set(0)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for id, eng := range engines {
		wg.Add(1)
		go func(id string, eng *Engine) {
			defer wg.Done()
			eng.Stop()
			m.releaseLease(id)
		}(id, eng)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("Engine shutdown timed out", "remaining", len(engines))
	}
}

func (m *Manager) releaseLease(sessionID string) {
	if err := m.store.ReleaseLease(context.Background(), sessionID, m.owner); err != nil && !errors.Is(err, storage.ErrNotFound) {
		slog.Warn("Failed to release session lease", "session_id", sessionID, "error", err)
	}
}
