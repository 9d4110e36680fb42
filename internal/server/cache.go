package server

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dylanbstorey/arawn/internal/workstream"
	"github.com/dylanbstorey/arawn/pkg/models"
)

// defaultMaxSessions bounds the cache when config does not.
const defaultMaxSessions = 128

// SessionCache keeps hot sessions in memory, loads cold ones from workstream
// storage, writes back on mutation, and evicts least-recently-used entries at
// the size bound.
type SessionCache struct {
	mu      sync.Mutex
	entries map[models.SessionID]*cacheEntry
	lru     *list.List // front = most recent; values are models.SessionID

	store       workstream.Manager
	maxSessions int
}

type cacheEntry struct {
	session *models.Session
	elem    *list.Element
	// mu serializes mutation of this one session.
	mu sync.Mutex
}

// NewSessionCache creates a cache over the given store. A nil store keeps
// sessions purely in memory.
func NewSessionCache(store workstream.Manager, maxSessions int) *SessionCache {
	if maxSessions <= 0 {
		maxSessions = defaultMaxSessions
	}
	return &SessionCache{
		entries:     make(map[models.SessionID]*cacheEntry),
		lru:         list.New(),
		store:       store,
		maxSessions: maxSessions,
	}
}

// GetOrCreate returns the session for id, loading it from storage on a cache
// miss and creating it when unknown. A nil id always creates. Returns the id,
// the session, and whether it was newly created.
func (c *SessionCache) GetOrCreate(ctx context.Context, id *models.SessionID, workstreamID string) (models.SessionID, *models.Session, bool, error) {
	if workstreamID == "" {
		workstreamID = workstream.ScratchWorkstream
	}

	if id != nil {
		c.mu.Lock()
		if entry, ok := c.entries[*id]; ok {
			c.lru.MoveToFront(entry.elem)
			session := entry.session
			c.mu.Unlock()
			return *id, session, false, nil
		}
		c.mu.Unlock()

		// Cache miss: consult storage outside the lock.
		if c.store != nil {
			session, err := c.store.LoadSession(ctx, *id)
			if err != nil {
				return "", nil, false, fmt.Errorf("session load failed: %w", err)
			}
			if session != nil {
				c.install(ctx, session)
				return session.ID, session, false, nil
			}
		}

		// Unknown id: create under that id rather than erroring.
		session := models.NewSession(workstreamID)
		session.ID = *id
		c.install(ctx, session)
		c.persist(ctx, session)
		return session.ID, session, true, nil
	}

	session := models.NewSession(workstreamID)
	c.install(ctx, session)
	c.persist(ctx, session)
	return session.ID, session, true, nil
}

// install adds a session to the cache, evicting the LRU entry if needed.
func (c *SessionCache) install(ctx context.Context, session *models.Session) {
	c.mu.Lock()
	var evicted *models.Session
	if len(c.entries) >= c.maxSessions {
		if back := c.lru.Back(); back != nil {
			evictID := back.Value.(models.SessionID)
			if entry, ok := c.entries[evictID]; ok {
				evicted = entry.session
				delete(c.entries, evictID)
				c.lru.Remove(back)
			}
		}
	}
	entry := &cacheEntry{session: session}
	entry.elem = c.lru.PushFront(session.ID)
	c.entries[session.ID] = entry
	c.mu.Unlock()

	// Persist the evictee after dropping the lock.
	if evicted != nil {
		c.persist(ctx, evicted)
		slog.Debug("session evicted from cache", "session_id", evicted.ID)
	}
}

// Remove evicts a session from the cache and returns it, persisting first.
func (c *SessionCache) Remove(ctx context.Context, id models.SessionID) *models.Session {
	c.mu.Lock()
	entry, ok := c.entries[id]
	if ok {
		delete(c.entries, id)
		c.lru.Remove(entry.elem)
	}
	c.mu.Unlock()

	if !ok {
		return nil
	}
	c.persist(ctx, entry.session)
	return entry.session
}

// Invalidate drops the cached copy without persisting. Used after workstream
// reassignment so every cached copy is refreshed from storage.
func (c *SessionCache) Invalidate(id models.SessionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[id]; ok {
		delete(c.entries, id)
		c.lru.Remove(entry.elem)
	}
}

// Contains reports whether the session is cached.
func (c *SessionCache) Contains(id models.SessionID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[id]
	return ok
}

// Len returns the number of cached sessions.
func (c *SessionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// WithSessionMut runs fn with exclusive access to one session, then persists
// the result. Mutations within a single session are serialized; no ordering
// is guaranteed across sessions.
func (c *SessionCache) WithSessionMut(ctx context.Context, id models.SessionID, fn func(*models.Session) error) error {
	c.mu.Lock()
	entry, ok := c.entries[id]
	if ok {
		c.lru.MoveToFront(entry.elem)
	}
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %s not in cache", id)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if err := fn(entry.session); err != nil {
		return err
	}
	c.persist(ctx, entry.session)
	return nil
}

// WorkstreamIDOf returns the workstream of a cached session, falling back to
// storage for cold sessions.
func (c *SessionCache) WorkstreamIDOf(ctx context.Context, id models.SessionID) string {
	c.mu.Lock()
	if entry, ok := c.entries[id]; ok {
		wsID := entry.session.WorkstreamID
		c.mu.Unlock()
		return wsID
	}
	c.mu.Unlock()

	if c.store != nil {
		if wsID, err := c.store.WorkstreamID(ctx, id); err == nil {
			return wsID
		}
	}
	return ""
}

func (c *SessionCache) persist(ctx context.Context, session *models.Session) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveSession(ctx, session.ID, session); err != nil {
		slog.Warn("session persist failed", "session_id", session.ID, "error", err)
	}
}

// StartCleanup runs periodic cache maintenance until ctx is done: entries
// beyond the bound are persisted and dropped oldest-first.
func (c *SessionCache) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.cleanup(ctx)
			}
		}
	}()
}

func (c *SessionCache) cleanup(ctx context.Context) {
	var evicted []*models.Session
	c.mu.Lock()
	for len(c.entries) > c.maxSessions {
		back := c.lru.Back()
		if back == nil {
			break
		}
		id := back.Value.(models.SessionID)
		if entry, ok := c.entries[id]; ok {
			evicted = append(evicted, entry.session)
			delete(c.entries, id)
		}
		c.lru.Remove(back)
	}
	c.mu.Unlock()

	for _, session := range evicted {
		c.persist(ctx, session)
	}
	if len(evicted) > 0 {
		slog.Debug("session cache cleanup", "evicted", len(evicted))
	}
}
