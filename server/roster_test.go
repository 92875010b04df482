package server

import (
	"errors"
	"testing"

	"github.com/Zereker/chatsock"
)

func testHandles(t *testing.T, n int) []chatsock.Handle {
	t.Helper()

	table := chatsock.NewTable(0)
	handles := make([]chatsock.Handle, n)
	for i := range handles {
		h, err := table.Insert(&chatsock.Endpoint{})
		if err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		handles[i] = h
	}
	return handles
}

func TestRoster_JoinLeave(t *testing.T) {
	r := NewRoster()
	h := testHandles(t, 2)

	if err := r.Join(h[0], "Billy"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if err := r.Join(h[1], "Ann"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	if name, ok := r.Name(h[0]); !ok || name != "Billy" {
		t.Errorf("Name() = %q, %v", name, ok)
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}

	name, ok := r.Leave(h[0])
	if !ok || name != "Billy" {
		t.Errorf("Leave() = %q, %v", name, ok)
	}
	if _, ok := r.Leave(h[0]); ok {
		t.Error("second Leave reported a member")
	}
	if _, ok := r.Name(h[0]); ok {
		t.Error("left member still named")
	}
}

func TestRoster_JoinTwice(t *testing.T) {
	r := NewRoster()
	h := testHandles(t, 1)

	r.Join(h[0], "Billy")
	if err := r.Join(h[0], "Bob"); !errors.Is(err, ErrAlreadyJoined) {
		t.Errorf("Join error = %v, want ErrAlreadyJoined", err)
	}
	if name, _ := r.Name(h[0]); name != "Billy" {
		t.Errorf("Name() = %q, want Billy", name)
	}
}

func TestRoster_DuplicateNames(t *testing.T) {
	r := NewRoster()
	h := testHandles(t, 2)

	r.Join(h[0], "Billy")
	if err := r.Join(h[1], "Billy"); err != nil {
		t.Errorf("Join with a taken name failed: %v", err)
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
}

func TestRoster_Names(t *testing.T) {
	r := NewRoster()
	h := testHandles(t, 3)

	r.Join(h[0], "carol")
	r.Join(h[1], "alice")
	r.Join(h[2], "bob")

	got := r.Names()
	want := []string{"alice", "bob", "carol"}
	if len(got) != len(want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
