package client

import (
	"reflect"
	"testing"
	"time"
)

func TestTypingSet(t *testing.T) {
	ts := NewTypingSet(DefaultTypingTTL)

	ts.Set("bob", true)
	ts.Set("alice", true)
	if got := ts.Active(); !reflect.DeepEqual(got, []string{"alice", "bob"}) {
		t.Fatalf("expected sorted [alice bob], got %v", got)
	}

	ts.Set("alice", false)
	if got := ts.Active(); !reflect.DeepEqual(got, []string{"bob"}) {
		t.Fatalf("expected [bob], got %v", got)
	}
}

func TestTypingSetRepeatedEvents(t *testing.T) {
	ts := NewTypingSet(DefaultTypingTTL)

	ts.Set("alice", true)
	ts.Set("alice", true)
	if got := ts.Active(); len(got) != 1 {
		t.Fatalf("repeated start should not duplicate, got %v", got)
	}

	ts.Set("alice", false)
	ts.Set("alice", false)
	if got := ts.Active(); len(got) != 0 {
		t.Fatalf("repeated stop should be a no-op, got %v", got)
	}
}

func TestTypingSetExpiresWithoutStopEvent(t *testing.T) {
	now := time.Now()
	ts := NewTypingSet(2 * time.Second)
	ts.now = func() time.Time { return now }

	ts.Set("alice", true)
	if got := ts.Active(); len(got) != 1 {
		t.Fatalf("expected alice typing, got %v", got)
	}

	// The stop event is lost; only the clock advances.
	now = now.Add(2*time.Second + time.Millisecond)
	if got := ts.Active(); len(got) != 0 {
		t.Fatalf("expected typing to expire, got %v", got)
	}
}

func TestTypingSetRepeatEventResetsExpiry(t *testing.T) {
	now := time.Now()
	ts := NewTypingSet(2 * time.Second)
	ts.now = func() time.Time { return now }

	ts.Set("alice", true)

	now = now.Add(1500 * time.Millisecond)
	ts.Set("alice", true)

	now = now.Add(1500 * time.Millisecond)
	if got := ts.Active(); !reflect.DeepEqual(got, []string{"alice"}) {
		t.Fatalf("rearmed indicator should still be active, got %v", got)
	}

	now = now.Add(time.Second)
	if got := ts.Active(); len(got) != 0 {
		t.Fatalf("expected expiry after the rearmed window, got %v", got)
	}
}

func TestTypingSetClear(t *testing.T) {
	ts := NewTypingSet(DefaultTypingTTL)
	ts.Set("alice", true)
	ts.Set("bob", true)

	ts.Clear()
	if got := ts.Active(); len(got) != 0 {
		t.Fatalf("expected empty set after clear, got %v", got)
	}
}
