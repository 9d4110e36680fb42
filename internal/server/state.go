// Package server hosts the WebSocket transport and the runtime's shared
// state: the session cache, ownership manager, connection tracker, and task
// store.
//
// Lock ordering, process-wide: pending_reconnects < session_owners <
// session_cache < tasks. The connection tracker's lock is independent and
// never nests inside the others. No lock is held across I/O or a spawned
// task's await.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/dylanbstorey/arawn/internal/agent"
	"github.com/dylanbstorey/arawn/internal/config"
	"github.com/dylanbstorey/arawn/internal/hooks"
	"github.com/dylanbstorey/arawn/internal/indexer"
	"github.com/dylanbstorey/arawn/internal/subagent"
	"github.com/dylanbstorey/arawn/internal/workstream"
	"github.com/dylanbstorey/arawn/pkg/models"
)

// SharedServices is immutable after startup and freely shared across
// connections.
type SharedServices struct {
	Engine     *agent.Engine
	Config     *config.Config
	Dirs       *workstream.DirectoryManager
	Store      workstream.Manager
	Indexer    *indexer.SessionIndexer
	Hooks      *hooks.Dispatcher
	Spawner    *subagent.Spawner
	// Compressor, when set, summarizes closed sessions into their workstream.
	// Runs independently of the indexer: both start on close and neither
	// depends on the other.
	Compressor Compressor
}

// Compressor condenses a closed session's transcript into its workstream.
type Compressor interface {
	Compress(ctx context.Context, session *models.Session) error
}

// RuntimeState carries the mutable substructures in the declared lock order.
type RuntimeState struct {
	Ownership *OwnershipManager
	Cache     *SessionCache
	Tracker   *ConnectionTracker
	Tasks     *TaskStore
}

// AppState bundles services and runtime state for the transport layer.
type AppState struct {
	Services *SharedServices
	Runtime  *RuntimeState
}

// NewAppState wires runtime state from config.
func NewAppState(services *SharedServices) *AppState {
	cfg := services.Config
	grace := time.Duration(cfg.Server.ReconnectGraceSecs) * time.Second
	if grace <= 0 {
		grace = 60 * time.Second
	}
	return &AppState{
		Services: services,
		Runtime: &RuntimeState{
			Ownership: NewOwnershipManager(grace),
			Cache:     NewSessionCache(services.Store, cfg.Session.MaxSessions),
			Tracker:   NewConnectionTracker(),
			Tasks:     NewTaskStore(),
		},
	}
}

// GetOrCreateSession resolves (or creates) a session in a workstream. On
// first creation of a scratch session the isolated work directory is created,
// and the SessionStart hook fires for any new session.
func (s *AppState) GetOrCreateSession(ctx context.Context, id *models.SessionID, workstreamID string) (models.SessionID, error) {
	if workstreamID == "" {
		workstreamID = workstream.ScratchWorkstream
	}
	sessionID, _, isNew, err := s.Runtime.Cache.GetOrCreate(ctx, id, workstreamID)
	if err != nil {
		return "", err
	}

	if isNew {
		if workstreamID == workstream.ScratchWorkstream && s.Services.Dirs != nil {
			if _, err := s.Services.Dirs.CreateScratchSession(sessionID); err != nil {
				slog.Warn("failed to create scratch session directory", "session_id", sessionID, "error", err)
			}
		}
		if s.Services.Hooks != nil {
			s.Services.Hooks.SessionStart(ctx, sessionID)
		}
	}
	return sessionID, nil
}

// CloseSession removes the session from the cache and dispatches background
// indexing and compression. The close always succeeds once the cache has
// removed the session; indexer and compressor failures are confined to their
// tasks. Returns false when the session was not cached.
func (s *AppState) CloseSession(ctx context.Context, sessionID models.SessionID) bool {
	session := s.Runtime.Cache.Remove(ctx, sessionID)
	if session == nil {
		return false
	}

	if s.Services.Store != nil {
		if err := s.Services.Store.EndSession(ctx, sessionID); err != nil {
			slog.Warn("failed to mark session ended", "session_id", sessionID, "error", err)
		}
	}

	if s.Services.Hooks != nil {
		s.Services.Hooks.SessionEnd(ctx, sessionID, session.TurnCount())
	}

	// Indexing and compression start independently; neither blocks the close
	// nor the other.
	if s.Services.Indexer != nil && !session.IsEmpty() {
		task := s.Runtime.Tasks.Create("index_session", sessionID)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("session indexing panicked",
						"session_id", sessionID,
						"panic", r,
						"stack", string(debug.Stack()),
					)
					s.Runtime.Tasks.Update(task.ID, func(t *models.TrackedTask) {
						t.Fail(fmt.Sprintf("panic: %v", r))
					})
				}
			}()
			task.Start()
			report := s.Services.Indexer.IndexSession(context.Background(), session)
			if report.HasErrors() {
				slog.Warn("session indexing completed with errors",
					"session_id", sessionID, "errors", report.Errors)
			}
			s.Runtime.Tasks.Update(task.ID, func(t *models.TrackedTask) {
				t.Complete(report.String())
			})
		}()
	}

	if s.Services.Compressor != nil && !session.IsEmpty() {
		task := s.Runtime.Tasks.Create("compress_session", sessionID)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("session compression panicked",
						"session_id", sessionID,
						"panic", r,
						"stack", string(debug.Stack()),
					)
					s.Runtime.Tasks.Update(task.ID, func(t *models.TrackedTask) {
						t.Fail(fmt.Sprintf("panic: %v", r))
					})
				}
			}()
			task.Start()
			err := s.Services.Compressor.Compress(context.Background(), session)
			s.Runtime.Tasks.Update(task.ID, func(t *models.TrackedTask) {
				if err != nil {
					t.Fail(err.Error())
				} else {
					t.Complete("")
				}
			})
		}()
	}

	return true
}

// ReassignWorkstream moves a session to another workstream: every cached copy
// is invalidated first, then the persisted record is rewritten.
func (s *AppState) ReassignWorkstream(ctx context.Context, sessionID models.SessionID, targetWorkstream string) error {
	s.Runtime.Cache.Invalidate(sessionID)

	if s.Services.Store == nil {
		return nil
	}
	session, err := s.Services.Store.LoadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return nil
	}
	session.WorkstreamID = targetWorkstream
	return s.Services.Store.SaveSession(ctx, sessionID, session)
}

// AllowedPaths resolves the filesystem roots for a session.
func (s *AppState) AllowedPaths(workstreamID, sessionID string) []string {
	if s.Services.Dirs == nil {
		return nil
	}
	return s.Services.Dirs.AllowedPaths(workstreamID, sessionID)
}
