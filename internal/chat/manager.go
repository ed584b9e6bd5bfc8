package chat

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Manager is the registry of live sessions.
type Manager struct {
	engine *Engine

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(e *Engine) *Manager {
	return &Manager{engine: e, sessions: make(map[string]*Session)}
}

// Create starts and registers a session with a new random ID.
func (m *Manager) Create(origin string) *Session {
	s := m.engine.NewSession(uuid.New().String(), origin)
	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()
	return s
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Remove forgets a session. Its transcript is not affected.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// List returns live sessions, oldest first.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].createdAt.Before(out[j].createdAt) })
	return out
}
