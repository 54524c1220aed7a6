package pty

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned when no session has the given ID.
var ErrSessionNotFound = errors.New("session not found")

// ErrMaxSessionsReached is returned when the session limit has been reached.
var ErrMaxSessionsReached = errors.New("maximum number of sessions reached")

// DefaultMaxSessions bounds concurrent PTYs.
const DefaultMaxSessions = 20

// SessionInfo is a snapshot of a session for listing.
type SessionInfo struct {
	ID        string
	Name      string
	Command   string
	Running   bool
	CreatedAt time.Time
}

// Manager owns a set of sessions and remembers their creation order, which
// is the order terminals are presented in.
type Manager struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	order       []string
	maxSessions int
}

// NewManager creates a Manager. maxSessions <= 0 means DefaultMaxSessions.
func NewManager(maxSessions int) *Manager {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &Manager{
		sessions:    make(map[string]*Session),
		maxSessions: maxSessions,
	}
}

// Create allocates a session with a random ID. The caller starts it; if
// Start fails the caller should Close it.
func (m *Manager) Create(cfg SessionConfig) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= m.maxSessions {
		return nil, ErrMaxSessionsReached
	}

	cfg.ID = uuid.NewString()
	session := NewSession(cfg)
	m.sessions[cfg.ID] = session
	m.order = append(m.order, cfg.ID)
	return session, nil
}

// Sessions returns all sessions in creation order.
func (m *Manager) Sessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Session, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.sessions[id])
	}
	return out
}

// List returns a snapshot of all sessions in creation order.
func (m *Manager) List() []SessionInfo {
	sessions := m.Sessions()
	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, SessionInfo{
			ID:        s.ID,
			Name:      s.GetName(),
			Command:   s.GetCommand(),
			Running:   s.IsRunning(),
			CreatedAt: s.GetCreatedAt(),
		})
	}
	return infos
}

// Close stops a session, waits for it to exit, and forgets it.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	session, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	m.removeLocked(id)
	m.mu.Unlock()

	if session.IsRunning() {
		if err := session.Stop(); err != nil {
			return err
		}
		<-session.Done()
	}
	return nil
}

func (m *Manager) removeLocked(id string) {
	delete(m.sessions, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

// CloseAll stops every session concurrently and empties the manager.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.order = nil
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, session := range sessions {
		if !session.IsRunning() {
			continue
		}
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			_ = s.Stop()
			<-s.Done()
		}(session)
	}
	wg.Wait()
}

// Count returns the number of sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
