package conversation

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"
)

func TestNewState_DefaultMaxHistory(t *testing.T) {
	s := NewState("abc", 0)

	if s.maxHistory != DefaultMaxHistory {
		t.Errorf("expected maxHistory=%d, got %d", DefaultMaxHistory, s.maxHistory)
	}
	if s.Len() != 0 {
		t.Errorf("expected empty history, got %d", s.Len())
	}
	if s.ConnectionID() != "abc" {
		t.Errorf("expected connection id abc, got %q", s.ConnectionID())
	}
}

func TestState_AddTurn_KeepsMostRecent(t *testing.T) {
	s := NewState("c1", 10)

	for i := 1; i <= 11; i++ {
		s.AddTurn(fmt.Sprintf("u%d", i), fmt.Sprintf("a%d", i), "neutral")
	}

	history := s.History()
	if len(history) != 10 {
		t.Fatalf("expected 10 turns, got %d", len(history))
	}
	for i, turn := range history {
		want := fmt.Sprintf("u%d", i+2)
		if turn.UserMessage != want {
			t.Errorf("turn %d: expected %s, got %s", i, want, turn.UserMessage)
		}
	}
}

func TestState_AddTurn_UpdatesActivity(t *testing.T) {
	clock := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	s := newState("c1", 5, func() time.Time { return clock })

	clock = clock.Add(time.Minute)
	s.AddTurn("hi", "hello", "joy")

	if !s.LastActivity().Equal(clock) {
		t.Errorf("expected last activity %v, got %v", clock, s.LastActivity())
	}
	snap := s.Snapshot()
	if snap.CreatedAt.Equal(snap.LastActivityAt) {
		t.Error("expected created and last activity to differ")
	}
	if snap.HistoryLength != 1 {
		t.Errorf("expected history length 1, got %d", snap.HistoryLength)
	}
}

func TestState_Recent(t *testing.T) {
	s := NewState("c1", 10)
	if got := s.Recent(3); got != nil {
		t.Errorf("expected nil for empty history, got %v", got)
	}

	s.AddTurn("one", "1", "")
	s.AddTurn("two", "2", "")
	s.AddTurn("three", "3", "")
	s.AddTurn("four", "4", "")

	recent := s.Recent(3)
	if len(recent) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(recent))
	}
	if recent[0].UserMessage != "two" || recent[2].UserMessage != "four" {
		t.Errorf("unexpected order: %+v", recent)
	}

	recent[0].UserMessage = "mutated"
	if s.Recent(3)[0].UserMessage != "two" {
		t.Error("Recent must return a copy")
	}

	if got := len(s.Recent(100)); got != 4 {
		t.Errorf("expected 4 turns, got %d", got)
	}
}

func TestState_ContextSummary(t *testing.T) {
	s := NewState("c1", 10)

	if got := s.ContextSummary(); got != "No previous conversation." {
		t.Errorf("unexpected empty summary: %q", got)
	}

	long := strings.Repeat("z", 150)
	s.AddTurn("first", "skip me", "")
	s.AddTurn("second", long, "")
	s.AddTurn("third", "ok", "")
	s.AddTurn("fourth", "done", "")

	summary := s.ContextSummary()
	if strings.Contains(summary, "first") {
		t.Error("summary should only include the last 3 turns")
	}
	if !strings.Contains(summary, "User: second\nAssistant: "+strings.Repeat("z", 100)+"\n") {
		t.Errorf("expected truncated assistant message, got %q", summary)
	}
	if strings.Contains(summary, strings.Repeat("z", 101)) {
		t.Error("assistant message not truncated to 100 chars")
	}
	if !strings.HasSuffix(summary, "User: fourth\nAssistant: done") {
		t.Errorf("unexpected summary tail: %q", summary)
	}
}

func TestState_ContextSummaryKeepsRunesWhole(t *testing.T) {
	s := NewState("conn-utf8", 5)
	s.AddTurn(strings.Repeat("é", 150), strings.Repeat("日本", 80), "neutral")

	summary := s.ContextSummary()
	if !utf8.ValidString(summary) {
		t.Fatalf("summary is not valid UTF-8: %q", summary)
	}
	if want := "User: " + strings.Repeat("é", 100) + "\n"; !strings.HasPrefix(summary, want) {
		t.Errorf("user line not cut at 100 runes: %q", summary)
	}
	if want := "Assistant: " + strings.Repeat("日本", 50); !strings.HasSuffix(summary, want) {
		t.Errorf("assistant line not cut at 100 runes: %q", summary)
	}
}

func TestState_Clear(t *testing.T) {
	s := NewState("c1", 10)
	s.AddTurn("a", "b", "")
	s.Clear()

	if s.Len() != 0 {
		t.Errorf("expected empty history after clear, got %d", s.Len())
	}
}

func TestState_ConcurrentAddTurn(t *testing.T) {
	s := NewState("c1", 10)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.AddTurn(fmt.Sprintf("u%d", i), "a", "")
			_ = s.ContextSummary()
		}(i)
	}
	wg.Wait()

	if s.Len() != 10 {
		t.Errorf("expected 10 turns, got %d", s.Len())
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(4)

	a := r.GetOrCreate("b-conn")
	if r.GetOrCreate("b-conn") != a {
		t.Error("GetOrCreate should return the existing state")
	}
	r.GetOrCreate("a-conn")

	if r.Len() != 2 {
		t.Errorf("expected 2 states, got %d", r.Len())
	}

	snaps := r.Snapshots()
	if len(snaps) != 2 || snaps[0].ConnectionID != "a-conn" {
		t.Errorf("unexpected snapshots: %+v", snaps)
	}

	r.Remove("b-conn")
	if _, ok := r.Get("b-conn"); ok {
		t.Error("expected b-conn to be removed")
	}
	r.Remove("missing")
}
