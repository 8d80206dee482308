package relay

import (
	"fmt"
	"sync"
	"testing"
)

func TestRegistry(t *testing.T) {
	t.Run("create read delete", func(t *testing.T) {
		r := newRegistry[int]()
		if err := r.Create("a", 1); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := r.Create("a", 2); err == nil {
			t.Error("expected duplicate create to fail")
		}
		value, err := r.Read("a")
		if err != nil || value != 1 {
			t.Errorf("expected 1, got %d (err %v)", value, err)
		}
		if err := r.Delete("a"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := r.Read("a"); err == nil {
			t.Error("expected read after delete to fail")
		}
		if err := r.Delete("a"); err == nil {
			t.Error("expected second delete to fail")
		}
	})

	t.Run("values and len", func(t *testing.T) {
		r := newRegistry[string]()
		_ = r.Create("x", "1")
		_ = r.Create("y", "2")
		if r.Len() != 2 {
			t.Errorf("expected 2 items, got %d", r.Len())
		}
		if len(r.Values()) != 2 {
			t.Errorf("expected 2 values, got %v", r.Values())
		}
	})

	t.Run("concurrent access", func(t *testing.T) {
		r := newRegistry[int]()
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				key := fmt.Sprintf("k%d", n)
				_ = r.Create(key, n)
				_, _ = r.Read(key)
				_ = r.Delete(key)
			}(i)
		}
		wg.Wait()
		if r.Len() != 0 {
			t.Errorf("expected empty registry, got %d items", r.Len())
		}
	})
}

func TestUserSafeProjection(t *testing.T) {
	u := User{ID: "alice", Username: "Alice", Sessions: []string{"secret"}, Connections: []string{"c1"}}
	safe := u.Safe()
	if safe.ID != "alice" || safe.Username != "Alice" {
		t.Errorf("unexpected projection %+v", safe)
	}
}
