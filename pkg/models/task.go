package models

import "time"

// TaskStatus is the lifecycle state of a tracked background operation.
type TaskStatus string

const (
	// TaskPending means the task is queued but not started.
	TaskPending TaskStatus = "pending"
	// TaskRunning means the task is executing.
	TaskRunning TaskStatus = "running"
	// TaskCompleted means the task finished successfully.
	TaskCompleted TaskStatus = "completed"
	// TaskFailed means the task finished with an error.
	TaskFailed TaskStatus = "failed"
	// TaskCancelled means the task was cancelled before completion.
	TaskCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether the status is a final state.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// TrackedTask records a background operation such as a subagent delegation or
// a session indexing run.
type TrackedTask struct {
	ID          string     `json:"id"`
	TaskType    string     `json:"task_type"`
	Status      TaskStatus `json:"status"`
	Progress    int        `json:"progress"` // 0-100
	SessionID   string     `json:"session_id,omitempty"`
	Message     string     `json:"message,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewTrackedTask creates a pending task of the given type.
func NewTrackedTask(id, taskType string) *TrackedTask {
	return &TrackedTask{
		ID:        id,
		TaskType:  taskType,
		Status:    TaskPending,
		CreatedAt: time.Now(),
	}
}

// WithSession associates the task with a session.
func (t *TrackedTask) WithSession(sessionID string) *TrackedTask {
	t.SessionID = sessionID
	return t
}

// Start marks the task running.
func (t *TrackedTask) Start() {
	now := time.Now()
	t.Status = TaskRunning
	t.StartedAt = &now
}

// UpdateProgress sets progress (clamped to 0-100) and an optional message.
func (t *TrackedTask) UpdateProgress(progress int, message string) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	t.Progress = progress
	if message != "" {
		t.Message = message
	}
}

// Complete marks the task finished.
func (t *TrackedTask) Complete(message string) {
	now := time.Now()
	t.Status = TaskCompleted
	t.Progress = 100
	t.CompletedAt = &now
	if message != "" {
		t.Message = message
	}
}

// Fail marks the task failed with the given error text.
func (t *TrackedTask) Fail(errText string) {
	now := time.Now()
	t.Status = TaskFailed
	t.CompletedAt = &now
	t.Error = errText
}

// Cancel marks the task cancelled.
func (t *TrackedTask) Cancel() {
	now := time.Now()
	t.Status = TaskCancelled
	t.CompletedAt = &now
}
