package presence

import (
	"context"
	"fmt"
	"reflect"
	"testing"
)

func TestPushRegistry_DistinctJoins(t *testing.T) {
	reg := NewPushRegistry()
	ctx := context.Background()

	// N distinct-username joins without leaves yield exactly N entries.
	const n = 7
	for i := 0; i < n; i++ {
		reg.Add("tech", fmt.Sprintf("conn-%d", i), fmt.Sprintf("user-%d", i))
	}

	users, err := reg.UsersInRoom(ctx, "tech")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(users) != n {
		t.Fatalf("expected %d users, got %d: %v", n, len(users), users)
	}
}

func TestPushRegistry_AddRemove(t *testing.T) {
	reg := NewPushRegistry()
	ctx := context.Background()

	reg.Add("tech", "c1", "alice")
	reg.Add("tech", "c2", "bob")
	reg.Remove("tech", "c2")

	users, err := reg.UsersInRoom(ctx, "tech")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(users, []string{"alice"}) {
		t.Errorf("expected [alice], got %v", users)
	}
}

func TestPushRegistry_RemoveUnknownIsNoop(t *testing.T) {
	reg := NewPushRegistry()
	reg.Remove("tech", "never-joined")
	reg.Remove("no-such-room", "c1")
}

func TestPushRegistry_DuplicateUsernamesCollapse(t *testing.T) {
	reg := NewPushRegistry()
	ctx := context.Background()

	// Two connections may share a username; the member set has one entry.
	reg.Add("tech", "c1", "alice")
	reg.Add("tech", "c2", "alice")

	users, err := reg.UsersInRoom(ctx, "tech")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(users, []string{"alice"}) {
		t.Errorf("expected [alice], got %v", users)
	}
}

func TestPushRegistry_RoomsAreIsolated(t *testing.T) {
	reg := NewPushRegistry()
	ctx := context.Background()

	reg.Add("tech", "c1", "alice")
	reg.Add("random", "c2", "bob")

	tech, _ := reg.UsersInRoom(ctx, "tech")
	random, _ := reg.UsersInRoom(ctx, "random")

	if !reflect.DeepEqual(tech, []string{"alice"}) {
		t.Errorf("tech: expected [alice], got %v", tech)
	}
	if !reflect.DeepEqual(random, []string{"bob"}) {
		t.Errorf("random: expected [bob], got %v", random)
	}
}

func TestPushRegistry_EmptyRoom(t *testing.T) {
	reg := NewPushRegistry()

	users, err := reg.UsersInRoom(context.Background(), "empty")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(users) != 0 {
		t.Errorf("expected empty set, got %v", users)
	}
}
