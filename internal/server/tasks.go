package server

import (
	"sync"

	"github.com/google/uuid"

	"github.com/dylanbstorey/arawn/pkg/models"
)

// TaskStore tracks background operations (delegations, indexing runs). Last
// in the process-wide lock order; it never holds its lock while calling out.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*models.TrackedTask
}

// NewTaskStore creates an empty store.
func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[string]*models.TrackedTask)}
}

// Create registers a new pending task and returns it.
func (s *TaskStore) Create(taskType, sessionID string) *models.TrackedTask {
	task := models.NewTrackedTask(uuid.NewString(), taskType).WithSession(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
	return task
}

// Get returns a copy of the task, or nil.
func (s *TaskStore) Get(id string) *models.TrackedTask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil
	}
	clone := *task
	return &clone
}

// Update applies fn to the task under the lock.
func (s *TaskStore) Update(id string, fn func(*models.TrackedTask)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return false
	}
	fn(task)
	return true
}

// List returns copies of every task.
func (s *TaskStore) List() []*models.TrackedTask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.TrackedTask, 0, len(s.tasks))
	for _, task := range s.tasks {
		clone := *task
		out = append(out, &clone)
	}
	return out
}

// PruneTerminal removes tasks in terminal states, returning how many.
func (s *TaskStore) PruneTerminal() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, task := range s.tasks {
		if task.Status.IsTerminal() {
			delete(s.tasks, id)
			removed++
		}
	}
	return removed
}
