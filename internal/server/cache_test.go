package server

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dylanbstorey/arawn/internal/workstream"
	"github.com/dylanbstorey/arawn/pkg/models"
)

func TestCacheGetOrCreateNew(t *testing.T) {
	store := workstream.NewMemoryManager()
	cache := NewSessionCache(store, 10)

	id, session, isNew, err := cache.GetOrCreate(context.Background(), nil, "proj")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if !isNew {
		t.Fatalf("expected new session")
	}
	if session.WorkstreamID != "proj" {
		t.Fatalf("expected workstream proj, got %q", session.WorkstreamID)
	}
	if !cache.Contains(id) {
		t.Fatalf("session should be cached")
	}

	// Persisted on create.
	persisted, err := store.LoadSession(context.Background(), id)
	if err != nil || persisted == nil {
		t.Fatalf("expected session persisted, err = %v", err)
	}
}

func TestCacheGetOrCreateUnknownIDCreates(t *testing.T) {
	cache := NewSessionCache(workstream.NewMemoryManager(), 10)

	unknown := models.SessionID("11111111-1111-1111-1111-111111111111")
	id, _, isNew, err := cache.GetOrCreate(context.Background(), &unknown, "")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if !isNew {
		t.Fatalf("unknown id must create, not error")
	}
	if id != unknown {
		t.Fatalf("expected requested id preserved, got %s", id)
	}
}

func TestCacheLoadsFromStore(t *testing.T) {
	store := workstream.NewMemoryManager()
	session := models.NewSession("proj")
	if err := store.SaveSession(context.Background(), session.ID, session); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}

	cache := NewSessionCache(store, 10)
	id, loaded, isNew, err := cache.GetOrCreate(context.Background(), &session.ID, "")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if isNew {
		t.Fatalf("expected cold load, not creation")
	}
	if id != session.ID || loaded.WorkstreamID != "proj" {
		t.Fatalf("loaded wrong session: %s / %s", id, loaded.WorkstreamID)
	}
}

func TestCacheLRUEvictionPersists(t *testing.T) {
	store := workstream.NewMemoryManager()
	cache := NewSessionCache(store, 2)

	id1, _, _, _ := cache.GetOrCreate(context.Background(), nil, "w")
	id2, _, _, _ := cache.GetOrCreate(context.Background(), nil, "w")
	id3, _, _, _ := cache.GetOrCreate(context.Background(), nil, "w")

	if cache.Contains(id1) {
		t.Fatalf("oldest session should have been evicted")
	}
	if !cache.Contains(id2) || !cache.Contains(id3) {
		t.Fatalf("newer sessions should remain cached")
	}
	if persisted, _ := store.LoadSession(context.Background(), id1); persisted == nil {
		t.Fatalf("evicted session must be persisted")
	}
}

func TestCacheWithSessionMutPersists(t *testing.T) {
	store := workstream.NewMemoryManager()
	cache := NewSessionCache(store, 10)
	id, _, _, _ := cache.GetOrCreate(context.Background(), nil, "w")

	err := cache.WithSessionMut(context.Background(), id, func(s *models.Session) error {
		turn := s.StartTurn("hello")
		turn.Complete("world")
		return nil
	})
	if err != nil {
		t.Fatalf("WithSessionMut() error = %v", err)
	}

	persisted, _ := store.LoadSession(context.Background(), id)
	if persisted == nil || persisted.TurnCount() != 1 {
		t.Fatalf("mutation was not persisted")
	}
}

func TestCacheInvalidateDropsWithoutPersist(t *testing.T) {
	store := workstream.NewMemoryManager()
	cache := NewSessionCache(store, 10)
	id, session, _, _ := cache.GetOrCreate(context.Background(), nil, "w")

	// Mutate the cached copy directly, bypassing WithSessionMut's persist.
	session.StartTurn("unsaved")
	cache.Invalidate(id)

	if cache.Contains(id) {
		t.Fatalf("invalidated session should not be cached")
	}
	if persisted, _ := store.LoadSession(context.Background(), id); persisted == nil || persisted.TurnCount() != 0 {
		t.Fatalf("invalidate must not persist the cached copy")
	}
}

func TestCacheRemoveReturnsSession(t *testing.T) {
	cache := NewSessionCache(workstream.NewMemoryManager(), 10)
	id, _, _, _ := cache.GetOrCreate(context.Background(), nil, "w")

	if removed := cache.Remove(context.Background(), id); removed == nil {
		t.Fatalf("expected removed session")
	}
	if removed := cache.Remove(context.Background(), id); removed != nil {
		t.Fatalf("second remove should return nil")
	}
}

type panickingCompressor struct{}

func (panickingCompressor) Compress(ctx context.Context, session *models.Session) error {
	panic("compressor exploded")
}

func TestCloseSessionSurvivesCompressorPanic(t *testing.T) {
	store := workstream.NewMemoryManager()
	state := NewAppState(&SharedServices{
		Config:     testConfig(),
		Store:      store,
		Compressor: panickingCompressor{},
	})

	id, err := state.GetOrCreateSession(context.Background(), nil, "")
	if err != nil {
		t.Fatalf("GetOrCreateSession() error = %v", err)
	}
	if err := state.Runtime.Cache.WithSessionMut(context.Background(), id, func(s *models.Session) error {
		turn := s.StartTurn("hello")
		turn.Complete("world")
		return nil
	}); err != nil {
		t.Fatalf("WithSessionMut() error = %v", err)
	}

	if !state.CloseSession(context.Background(), id) {
		t.Fatalf("close must succeed despite the compressor")
	}

	// The panic is confined to the background task, which lands in Failed.
	deadline := time.After(2 * time.Second)
	for {
		var task *models.TrackedTask
		for _, candidate := range state.Runtime.Tasks.List() {
			if candidate.TaskType == "compress_session" {
				task = candidate
			}
		}
		if task != nil && task.Status.IsTerminal() {
			if task.Status != models.TaskFailed {
				t.Fatalf("expected failed task, got %s", task.Status)
			}
			if !strings.Contains(task.Error, "panic") {
				t.Fatalf("expected panic recorded in task error, got %q", task.Error)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("compression task never reached a terminal state")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestCloseSessionEndsOnceInStorage(t *testing.T) {
	store := workstream.NewMemoryManager()
	state := NewAppState(&SharedServices{
		Config: testConfig(),
		Store:  store,
	})

	id, err := state.GetOrCreateSession(context.Background(), nil, "")
	if err != nil {
		t.Fatalf("GetOrCreateSession() error = %v", err)
	}

	if !state.CloseSession(context.Background(), id) {
		t.Fatalf("close of cached session must succeed")
	}
	if state.CloseSession(context.Background(), id) {
		t.Fatalf("second close must report false")
	}
	if !store.Ended(id) {
		t.Fatalf("close must mark the session ended in storage")
	}
}
