package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dylanbstorey/arawn/pkg/models"
)

// ConnectionID identifies one WebSocket connection.
type ConnectionID = string

// PendingReconnect reserves a session's ownership across a connection drop,
// protected by a single-use token.
type PendingReconnect struct {
	Token     string
	ExpiresAt time.Time
}

// Expired reports whether the grace period has lapsed.
func (p PendingReconnect) Expired() bool {
	return time.Now().After(p.ExpiresAt)
}

// OwnershipManager enforces single-writer discipline: at most one connection
// may drive a session, and a disconnected owner holds a reservation for the
// grace period.
//
// Lock ordering: pendingMu before ownersMu, matching the process-wide order
// pending_reconnects < session_owners < session_cache < tasks. Neither lock
// is ever held across I/O.
//
// Invariant: a session id appears in owners XOR pending (non-expired) — never
// both.
type OwnershipManager struct {
	pendingMu sync.Mutex
	pending   map[models.SessionID]PendingReconnect

	ownersMu sync.Mutex
	owners   map[models.SessionID]ConnectionID

	gracePeriod time.Duration
}

// NewOwnershipManager creates a manager with the given reconnect grace period.
func NewOwnershipManager(gracePeriod time.Duration) *OwnershipManager {
	return &OwnershipManager{
		pending:     make(map[models.SessionID]PendingReconnect),
		owners:      make(map[models.SessionID]ConnectionID),
		gracePeriod: gracePeriod,
	}
}

// TryClaim attempts to make conn the owner of session.
//
// Denied when a non-expired pending reconnect reserves the session, or when a
// different connection owns it. Claiming an unowned session, or one already
// owned by conn, succeeds.
func (m *OwnershipManager) TryClaim(session models.SessionID, conn ConnectionID) bool {
	m.pendingMu.Lock()
	if entry, ok := m.pending[session]; ok {
		if !entry.Expired() {
			m.pendingMu.Unlock()
			slog.Debug("ownership claim rejected: pending reconnect exists", "session_id", session)
			return false
		}
		delete(m.pending, session)
	}
	m.pendingMu.Unlock()

	m.ownersMu.Lock()
	defer m.ownersMu.Unlock()
	existing, ok := m.owners[session]
	switch {
	case !ok:
		m.owners[session] = conn
		slog.Debug("session ownership claimed", "session_id", session, "connection_id", conn)
		return true
	case existing == conn:
		return true
	default:
		return false
	}
}

// IsOwner reports whether conn currently owns session.
func (m *OwnershipManager) IsOwner(session models.SessionID, conn ConnectionID) bool {
	m.ownersMu.Lock()
	defer m.ownersMu.Unlock()
	return m.owners[session] == conn
}

// Release removes ownership if conn holds it.
func (m *OwnershipManager) Release(session models.SessionID, conn ConnectionID) bool {
	m.ownersMu.Lock()
	defer m.ownersMu.Unlock()
	if m.owners[session] == conn {
		delete(m.owners, session)
		return true
	}
	return false
}

// ReleaseAll walks the ownership table on disconnect. For every session owned
// by conn the owner entry is removed; a pending reconnect is installed when
// the server had issued a token for that session on subscribe.
func (m *OwnershipManager) ReleaseAll(conn ConnectionID, reconnectTokens map[models.SessionID]string) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	m.ownersMu.Lock()
	defer m.ownersMu.Unlock()

	released, pendingCount := 0, 0
	for session, owner := range m.owners {
		if owner != conn {
			continue
		}
		delete(m.owners, session)
		released++
		if token, ok := reconnectTokens[session]; ok {
			m.pending[session] = PendingReconnect{
				Token:     token,
				ExpiresAt: time.Now().Add(m.gracePeriod),
			}
			pendingCount++
		}
	}
	if released > 0 {
		slog.Debug("released session ownerships on disconnect",
			"connection_id", conn,
			"released", released,
			"pending_reconnects", pendingCount,
			"grace_period_secs", int(m.gracePeriod.Seconds()),
		)
	}
}

// Reclaim attempts to restore ownership via a reconnect token.
//
// The pending entry must exist, not be expired, and carry exactly the token
// presented. On success the entry is removed, newConn becomes owner, and a
// fresh token is issued for the next reconnect (tokens are single-use).
// Returns the new token, or "" on denial.
func (m *OwnershipManager) Reclaim(session models.SessionID, token string, newConn ConnectionID) string {
	m.pendingMu.Lock()
	entry, ok := m.pending[session]
	if !ok {
		m.pendingMu.Unlock()
		return ""
	}
	if entry.Expired() {
		delete(m.pending, session)
		m.pendingMu.Unlock()
		slog.Debug("reconnect token expired", "session_id", session)
		return ""
	}
	if entry.Token != token {
		m.pendingMu.Unlock()
		slog.Debug("reconnect token mismatch", "session_id", session)
		return ""
	}
	delete(m.pending, session)
	m.pendingMu.Unlock()

	m.ownersMu.Lock()
	defer m.ownersMu.Unlock()
	// Double-check no other connection claimed it while the pending lock was
	// released.
	if _, taken := m.owners[session]; taken {
		slog.Debug("session already claimed by another connection", "session_id", session)
		return ""
	}
	m.owners[session] = newConn

	newToken := uuid.NewString()
	slog.Debug("session ownership reclaimed via token", "session_id", session, "connection_id", newConn)
	return newToken
}

// CleanupExpired lazily removes expired pending entries; called during
// subscribe and claim paths. Returns how many were removed.
func (m *OwnershipManager) CleanupExpired() int {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	removed := 0
	for session, entry := range m.pending {
		if entry.Expired() {
			delete(m.pending, session)
			removed++
		}
	}
	return removed
}

// HasPending reports whether a non-expired pending reconnect exists. Test
// helper.
func (m *OwnershipManager) HasPending(session models.SessionID) bool {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	entry, ok := m.pending[session]
	return ok && !entry.Expired()
}
