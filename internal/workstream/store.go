package workstream

import (
	"context"
	"sync"

	"github.com/dylanbstorey/arawn/pkg/models"
)

// Manager is the persistence contract the session cache depends on. Any store
// honoring these semantics (SQLite-backed, file-backed, in-memory) is a valid
// collaborator.
type Manager interface {
	// LoadSession returns the persisted session, or nil when unknown.
	LoadSession(ctx context.Context, id models.SessionID) (*models.Session, error)

	// SaveSession persists the session under its workstream.
	SaveSession(ctx context.Context, id models.SessionID, session *models.Session) error

	// EndSession marks the session ended in storage. The persisted contents
	// outlive the cached copy.
	EndSession(ctx context.Context, id models.SessionID) error

	// WorkstreamID returns the workstream a session belongs to, or "" when
	// unknown.
	WorkstreamID(ctx context.Context, sessionID models.SessionID) (string, error)
}

// MemoryManager is an in-memory Manager for tests and local runs.
type MemoryManager struct {
	mu       sync.RWMutex
	sessions map[models.SessionID]*models.Session
	ended    map[models.SessionID]bool
}

// NewMemoryManager creates an empty in-memory manager.
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{
		sessions: make(map[models.SessionID]*models.Session),
		ended:    make(map[models.SessionID]bool),
	}
}

func (m *MemoryManager) LoadSession(ctx context.Context, id models.SessionID) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	clone := *session
	return &clone, nil
}

func (m *MemoryManager) SaveSession(ctx context.Context, id models.SessionID, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *session
	m.sessions[id] = &clone
	return nil
}

func (m *MemoryManager) EndSession(ctx context.Context, id models.SessionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ended[id] = true
	return nil
}

func (m *MemoryManager) WorkstreamID(ctx context.Context, sessionID models.SessionID) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if session, ok := m.sessions[sessionID]; ok {
		return session.WorkstreamID, nil
	}
	return "", nil
}

// Ended reports whether EndSession was called for the id. Test helper.
func (m *MemoryManager) Ended(id models.SessionID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ended[id]
}
