package history

import (
	"testing"
	"time"
)

func TestLog_AppendAndRecent(t *testing.T) {
	l := NewLog(10, time.Second)

	if !l.Append(NewTurn(RoleUser, "hello")) {
		t.Fatal("Append rejected a fresh turn")
	}
	if !l.Append(NewTurn(RoleAssistant, "hi there")) {
		t.Fatal("Append rejected a fresh assistant turn")
	}

	turns := l.Recent(5)
	if len(turns) != 2 {
		t.Fatalf("Recent returned %d turns, want 2", len(turns))
	}
	if turns[0].Role != RoleUser || turns[1].Role != RoleAssistant {
		t.Errorf("turns out of chronological order: %v, %v", turns[0].Role, turns[1].Role)
	}
}

func TestLog_DuplicateWithinWindowRejected(t *testing.T) {
	l := NewLog(10, 3*time.Second)

	if !l.Append(NewTurn(RoleUser, "what is the balance")) {
		t.Fatal("first append rejected")
	}
	// Echo-induced repeat: same role, same text modulo casing and spacing.
	if l.Append(NewTurn(RoleUser, "  What is   the balance ")) {
		t.Fatal("duplicate within window accepted")
	}
	if l.Len() != 1 {
		t.Fatalf("Len = %d, want 1", l.Len())
	}
}

func TestLog_DuplicateDifferentRoleAccepted(t *testing.T) {
	l := NewLog(10, 3*time.Second)

	l.Append(NewTurn(RoleUser, "okay"))
	if !l.Append(NewTurn(RoleAssistant, "okay")) {
		t.Fatal("same text under a different role rejected")
	}
}

func TestLog_DuplicateOutsideWindowAccepted(t *testing.T) {
	l := NewLog(10, 50*time.Millisecond)

	old := NewTurn(RoleUser, "repeat me")
	old.Timestamp = time.Now().Add(-time.Second)
	l.Append(old)

	if !l.Append(NewTurn(RoleUser, "repeat me")) {
		t.Fatal("repeat outside the window rejected")
	}
	if l.Len() != 2 {
		t.Fatalf("Len = %d, want 2", l.Len())
	}
}

func TestLog_EvictsFromHead(t *testing.T) {
	l := NewLog(3, time.Millisecond)

	texts := []string{"one", "two", "three", "four", "five"}
	for _, text := range texts {
		l.Append(NewTurn(RoleUser, text))
	}

	turns := l.All()
	if len(turns) != 3 {
		t.Fatalf("Len = %d, want 3", len(turns))
	}
	want := []string{"three", "four", "five"}
	for i, turn := range turns {
		if turn.Text != want[i] {
			t.Errorf("turns[%d].Text = %q, want %q", i, turn.Text, want[i])
		}
	}
}

func TestLog_RemoveClearsPlaceholder(t *testing.T) {
	l := NewLog(10, time.Second)

	placeholder := NewTurn(RoleUser, "...")
	l.Append(placeholder)
	l.Append(NewTurn(RoleAssistant, "done"))

	if !l.Remove(placeholder.ID) {
		t.Fatal("Remove did not find the placeholder")
	}
	if l.Remove(placeholder.ID) {
		t.Fatal("Remove found an already-removed turn")
	}

	turns := l.All()
	if len(turns) != 1 || turns[0].Text != "done" {
		t.Fatalf("remaining turns = %v, want only the assistant turn", turns)
	}
}

func TestLog_Clear(t *testing.T) {
	l := NewLog(10, time.Second)
	l.Append(NewTurn(RoleUser, "hello"))
	l.Clear()
	if l.Len() != 0 {
		t.Fatalf("Len after Clear = %d, want 0", l.Len())
	}
	// A cleared log accepts previously seen text again.
	if !l.Append(NewTurn(RoleUser, "hello")) {
		t.Fatal("append after Clear rejected")
	}
}

func TestLog_RecentLimitsCount(t *testing.T) {
	l := NewLog(10, time.Millisecond)
	for _, text := range []string{"a", "b", "c", "d"} {
		l.Append(NewTurn(RoleUser, text))
	}
	turns := l.Recent(2)
	if len(turns) != 2 {
		t.Fatalf("Recent(2) returned %d turns", len(turns))
	}
	if turns[0].Text != "c" || turns[1].Text != "d" {
		t.Errorf("Recent(2) = [%q, %q], want [c, d]", turns[0].Text, turns[1].Text)
	}
}

func TestNewTurn_PopulatesIDAndTimestamp(t *testing.T) {
	turn := NewTurn(RoleUser, "hello")
	if turn.ID == "" {
		t.Error("NewTurn left ID empty")
	}
	if turn.Timestamp.IsZero() {
		t.Error("NewTurn left Timestamp zero")
	}
	if other := NewTurn(RoleUser, "hello"); other.ID == turn.ID {
		t.Error("NewTurn produced duplicate IDs")
	}
}
