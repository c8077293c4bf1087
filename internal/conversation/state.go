// Package conversation tracks the per-connection dialogue history that is fed
// back to the language model as context.
package conversation

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// DefaultMaxHistory is the number of turns retained per connection.
const DefaultMaxHistory = 10

// summaryTurns and summaryTruncate shape ContextSummary output.
const (
	summaryTurns    = 3
	summaryTruncate = 100
)

// Turn is one user/assistant exchange. Turns are never modified after they
// are appended.
type Turn struct {
	UserMessage      string    `json:"user_message"`
	AssistantMessage string    `json:"assistant_message"`
	UserEmotion      string    `json:"user_emotion,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// State is the bounded history of a single connection.
type State struct {
	mu             sync.RWMutex
	connectionID   string
	history        []Turn
	maxHistory     int
	createdAt      time.Time
	lastActivityAt time.Time
	now            func() time.Time
}

// NewState creates an empty history for connectionID. A non-positive
// maxHistory falls back to DefaultMaxHistory.
func NewState(connectionID string, maxHistory int) *State {
	return newState(connectionID, maxHistory, time.Now)
}

func newState(connectionID string, maxHistory int, now func() time.Time) *State {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	t := now()
	return &State{
		connectionID:   connectionID,
		history:        make([]Turn, 0, maxHistory),
		maxHistory:     maxHistory,
		createdAt:      t,
		lastActivityAt: t,
		now:            now,
	}
}

// ConnectionID returns the owning connection's id.
func (s *State) ConnectionID() string {
	return s.connectionID
}

// AddTurn appends an exchange, dropping the oldest turns beyond the limit.
func (s *State) AddTurn(userMessage, assistantMessage, emotion string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.now()
	s.history = append(s.history, Turn{
		UserMessage:      userMessage,
		AssistantMessage: assistantMessage,
		UserEmotion:      emotion,
		Timestamp:        t,
	})
	s.lastActivityAt = t

	if len(s.history) > s.maxHistory {
		s.history = append([]Turn(nil), s.history[len(s.history)-s.maxHistory:]...)
	}
}

// Recent returns a copy of the last n turns, oldest first.
func (s *State) Recent(n int) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || len(s.history) == 0 {
		return nil
	}
	start := max(len(s.history)-n, 0)

	out := make([]Turn, len(s.history)-start)
	copy(out, s.history[start:])
	return out
}

// History returns a copy of every retained turn.
func (s *State) History() []Turn {
	return s.Recent(s.maxHistory)
}

// Len returns the number of retained turns.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// ContextSummary renders the last few turns as plain text.
func (s *State) ContextSummary() string {
	recent := s.Recent(summaryTurns)
	if len(recent) == 0 {
		return "No previous conversation."
	}

	var sb strings.Builder
	for i, turn := range recent {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "User: %s\n", truncate(turn.UserMessage, summaryTruncate))
		fmt.Fprintf(&sb, "Assistant: %s", truncate(turn.AssistantMessage, summaryTruncate))
	}
	return sb.String()
}

// Clear removes all history.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = make([]Turn, 0, s.maxHistory)
}

// Touch records activity without adding a turn.
func (s *State) Touch() {
	s.mu.Lock()
	s.lastActivityAt = s.now()
	s.mu.Unlock()
}

// LastActivity returns the time of the most recent turn or touch.
func (s *State) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivityAt
}

// Snapshot is a read-only summary of a State.
type Snapshot struct {
	ConnectionID   string    `json:"connection_id"`
	HistoryLength  int       `json:"history_length"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity"`
}

// Snapshot returns the current summary.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		ConnectionID:   s.connectionID,
		HistoryLength:  len(s.history),
		CreatedAt:      s.createdAt,
		LastActivityAt: s.lastActivityAt,
	}
}

// truncate keeps at most n runes of s.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
