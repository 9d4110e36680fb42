// Package models defines the core data types shared across the arawn runtime.
package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionID is the 128-bit opaque identifier of a session, rendered as a UUID string.
type SessionID = string

// NewSessionID returns a fresh random session identifier.
func NewSessionID() SessionID {
	return uuid.NewString()
}

// Session is one conversation: an ordered list of turns belonging to a workstream.
//
// Invariants:
//   - At most one turn is in-flight (no assistant response yet).
//   - Turn ordering is total and monotonic.
//   - WorkstreamID is set at creation and only changes through an explicit
//     reassignment that first invalidates every cached copy.
type Session struct {
	ID           SessionID `json:"id"`
	WorkstreamID string    `json:"workstream_id"`
	Turns        []*Turn   `json:"turns"`

	// ContextPreamble is prepended to the system prompt when set. Used by
	// subagent delegation to pass parent context into a fresh session.
	ContextPreamble string `json:"context_preamble,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession creates an empty session in the given workstream.
func NewSession(workstreamID string) *Session {
	now := time.Now()
	return &Session{
		ID:           NewSessionID(),
		WorkstreamID: workstreamID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// StartTurn appends a new in-flight turn for the user message and returns it.
func (s *Session) StartTurn(userMessage string) *Turn {
	turn := &Turn{
		ID:          uuid.NewString(),
		UserMessage: userMessage,
		StartedAt:   time.Now(),
	}
	s.Turns = append(s.Turns, turn)
	s.UpdatedAt = turn.StartedAt
	return turn
}

// CurrentTurn returns the in-flight turn, or nil if every turn is complete.
func (s *Session) CurrentTurn() *Turn {
	if len(s.Turns) == 0 {
		return nil
	}
	last := s.Turns[len(s.Turns)-1]
	if last.Completed() {
		return nil
	}
	return last
}

// TurnCount returns the total number of turns.
func (s *Session) TurnCount() int {
	return len(s.Turns)
}

// CompletedTurnCount returns the number of turns with an assistant response.
func (s *Session) CompletedTurnCount() int {
	n := 0
	for _, t := range s.Turns {
		if t.Completed() {
			n++
		}
	}
	return n
}

// IsEmpty reports whether the session has no completed turns.
func (s *Session) IsEmpty() bool {
	return s.CompletedTurnCount() == 0
}

// Turn is one user message plus the assistant's eventual response and all
// intervening tool activity. Once AssistantResponse is set the turn is immutable.
type Turn struct {
	ID                string       `json:"id"`
	UserMessage       string       `json:"user_message"`
	AssistantResponse string       `json:"assistant_response,omitempty"`
	ToolCalls         []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults       []ToolResult `json:"tool_results,omitempty"`
	Iterations        int          `json:"iterations"`
	Truncated         bool         `json:"truncated"`
	StartedAt         time.Time    `json:"started_at"`
	CompletedAt       time.Time    `json:"completed_at,omitzero"`
}

// Complete sets the assistant response, finishing the turn.
func (t *Turn) Complete(text string) {
	if t.Completed() {
		return
	}
	t.AssistantResponse = text
	t.CompletedAt = time.Now()
}

// Completed reports whether the assistant response has been set.
func (t *Turn) Completed() bool {
	return t.AssistantResponse != "" || !t.CompletedAt.IsZero()
}
