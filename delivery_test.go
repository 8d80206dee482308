package relay

import (
	"context"
	"testing"
	"time"
)

func TestDeliveryLoop(t *testing.T) {
	t.Run("forwards drained payloads in order", func(t *testing.T) {
		state := NewState()
		state.MarkOnline("a")
		state.MarkOnline("b")
		sess, conn := newTestSession(&stubStore{}, state, "b")
		sess.options.PollInterval = 5 * time.Millisecond

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		done := make(chan struct{})
		go func() {
			defer close(done)
			sess.deliveryLoop(ctx)
		}()

		state.Enqueue("a", []string{"b"}, textEvent("first"))
		state.Enqueue("a", []string{"b"}, textEvent("second"))

		if ev := nextEvent(t, conn); ev.Content != "first" {
			t.Errorf("expected first payload, got %q", ev.Content)
		}
		if ev := nextEvent(t, conn); ev.Content != "second" {
			t.Errorf("expected second payload, got %q", ev.Content)
		}

		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for delivery loop to stop on cancellation")
		}
	})

	t.Run("stops when the user goes offline", func(t *testing.T) {
		state := NewState()
		state.MarkOnline("b")
		sess, _ := newTestSession(&stubStore{}, state, "b")
		sess.options.PollInterval = 5 * time.Millisecond

		done := make(chan struct{})
		go func() {
			defer close(done)
			sess.deliveryLoop(context.Background())
		}()

		state.MarkOffline("b")
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for delivery loop to observe offline")
		}
	})

	t.Run("stops when the connection closes", func(t *testing.T) {
		state := NewState()
		state.MarkOnline("b")
		sess, conn := newTestSession(&stubStore{}, state, "b")
		sess.options.PollInterval = 5 * time.Millisecond

		done := make(chan struct{})
		go func() {
			defer close(done)
			sess.deliveryLoop(context.Background())
		}()

		conn.Close()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for delivery loop to observe close")
		}
	})
}
