package sqlite

import (
	"context"
	"testing"

	relay "github.com/unca-chat/relay"
)

// openSeeded returns an in-memory store loaded with the fixture set: alice
// shares c1 with bob, has a self channel c2, and is not a member of c3.
func openSeeded(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	users := []relay.User{
		{ID: "alice", Username: "Alice", Sessions: []string{"tok-alice"}},
		{ID: "bob", Username: "Bob", Sessions: []string{"tok-bob"}},
		{ID: "carol", Username: "Carol", Sessions: []string{"tok-carol"}},
	}
	channels := []relay.Channel{
		{ID: "c1", Members: []string{"alice", "bob"}},
		{ID: "c2", IsSelf: true, Members: []string{"alice"}},
		{ID: "c3", Members: []string{"bob", "carol"}},
	}
	if err := store.Seed(context.Background(), users, channels); err != nil {
		t.Fatalf("failed to seed store: %v", err)
	}
	return store
}

func TestResolveSession(t *testing.T) {
	store := openSeeded(t)
	ctx := context.Background()

	t.Run("resolves a valid token and records a connection", func(t *testing.T) {
		user, connectionID, err := store.ResolveSession(ctx, "token=tok-alice")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if user == nil || user.ID != "alice" || user.Username != "Alice" {
			t.Fatalf("unexpected user %+v", user)
		}
		if connectionID == "" {
			t.Fatal("expected a connection id")
		}
		if err := store.Logout(ctx, "alice", connectionID); err != nil {
			t.Errorf("logout failed: %v", err)
		}
	})

	t.Run("yields nil for an unknown token", func(t *testing.T) {
		user, _, err := store.ResolveSession(ctx, "token=bogus")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if user != nil {
			t.Errorf("expected nil user, got %+v", user)
		}
	})

	t.Run("yields nil for a missing or empty token", func(t *testing.T) {
		for _, query := range []string{"", "token=", "token"} {
			user, _, err := store.ResolveSession(ctx, query)
			if err != nil {
				t.Fatalf("unexpected error for %q: %v", query, err)
			}
			if user != nil {
				t.Errorf("expected nil user for %q, got %+v", query, user)
			}
		}
	})
}

func TestChannelIfMember(t *testing.T) {
	store := openSeeded(t)
	ctx := context.Background()

	t.Run("returns the channel with members for a member", func(t *testing.T) {
		channel, err := store.ChannelIfMember(ctx, "alice", "c1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if channel == nil || channel.ID != "c1" {
			t.Fatalf("unexpected channel %+v", channel)
		}
		if len(channel.Members) != 2 || channel.Members[0] != "alice" || channel.Members[1] != "bob" {
			t.Errorf("unexpected members %v", channel.Members)
		}
	})

	t.Run("returns nil for a non-member", func(t *testing.T) {
		channel, err := store.ChannelIfMember(ctx, "alice", "c3")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if channel != nil {
			t.Errorf("expected nil channel, got %+v", channel)
		}
	})

	t.Run("returns nil for an unknown channel", func(t *testing.T) {
		channel, err := store.ChannelIfMember(ctx, "alice", "missing")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if channel != nil {
			t.Errorf("expected nil channel, got %+v", channel)
		}
	})
}

func TestEstablish(t *testing.T) {
	store := openSeeded(t)
	ctx := context.Background()

	reply := "m1"
	fixtures := []relay.Message{
		{ID: "m1", Author: "alice", Content: "hi", Channel: "c1"},
		{ID: "m2", Author: "bob", Content: "hello", Reply: &reply, Channel: "c1"},
		{ID: "m3", Author: "carol", Content: "private", Channel: "c3"},
	}
	for _, msg := range fixtures {
		if err := store.InsertMessage(ctx, msg); err != nil {
			t.Fatalf("failed to insert message %s: %v", msg.ID, err)
		}
	}

	channels, users, messages, err := store.Establish(ctx, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(channels) != 2 || channels[0].ID != "c1" || channels[1].ID != "c2" {
		t.Fatalf("unexpected channels %+v", channels)
	}
	if !channels[1].IsSelf {
		t.Error("expected c2 flagged as a self channel")
	}
	if len(channels[0].Members) != 2 {
		t.Errorf("unexpected members for c1: %v", channels[0].Members)
	}

	if len(users) != 2 || users[0].ID != "alice" || users[1].ID != "bob" {
		t.Errorf("expected co-members alice and bob only, got %+v", users)
	}

	if len(messages) != 2 || messages[0].ID != "m1" || messages[1].ID != "m2" {
		t.Fatalf("expected c1 history only, in order, got %+v", messages)
	}
	if messages[1].Reply == nil || *messages[1].Reply != "m1" {
		t.Errorf("expected reply reference preserved, got %v", messages[1].Reply)
	}
}

func TestDeleteAll(t *testing.T) {
	store := openSeeded(t)
	ctx := context.Background()

	if err := store.DeleteAll(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	user, _, err := store.ResolveSession(ctx, "token=tok-alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user != nil {
		t.Errorf("expected no users after wipe, got %+v", user)
	}
	channels, users, messages, err := store.Establish(ctx, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(channels) != 0 || len(users) != 0 || len(messages) != 0 {
		t.Error("expected an empty snapshot after wipe")
	}
}
