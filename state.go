// This file contains the volatile State: the presence registry, the pending
// event queue, and the typing-status table. Data lives in memory only and is
// shared by every connection session for the lifetime of the process.
package relay

import "sync"

// pendingEvent is one buffered fan-out: the authoring user, the set of user
// ids still owed delivery, and the payload to forward. Targets shrink in
// place as recipients are served or go offline; an event with no targets left
// is dead and is reclaimed by the next gc pass.
type pendingEvent struct {
	author  string
	targets *orderedSet[string]
	payload Event
}

// State owns the three volatile structures and exposes the only sanctioned
// entry points for mutating them. A single reader/writer lock guards all
// three: presence checks may run concurrently, mutations are exclusive for
// the duration of one operation.
type State struct {
	mu      sync.RWMutex
	online  *orderedSet[string]
	pending []*pendingEvent
	typing  map[string]string
}

// NewState returns an empty State. One instance is constructed at startup
// and passed by handle to every connection session; nothing else in the
// process holds mutable shared data.
func NewState() *State {
	return &State{
		online: newOrderedSet[string](),
		typing: make(map[string]string),
	}
}

// MarkOnline registers a user as online. It returns false if the user
// already has a live session, in which case the caller must reject the new
// connection rather than multiplex it. Dead events are collected first so
// memory does not accumulate from already-serviced fan-outs. The gc pass is
// a separate critical section from the insertion; gc is conservative and
// idempotent, so the gap is harmless.
func (s *State) MarkOnline(user string) bool {
	s.gc()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online.add(user)
}

// MarkOffline deregisters a user, removes them from every pending event's
// target set (a disconnected user can no longer receive anything queued for
// them), reclaims dead events, and drops their typing-status entry.
func (s *State) MarkOffline(user string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.online.remove(user)
	for _, ev := range s.pending {
		ev.targets.remove(user)
	}
	s.collectDead()
	delete(s.typing, user)
}

// IsOnline reports whether the user currently has a live session.
func (s *State) IsOnline(user string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online.has(user)
}

// Enqueue buffers a fan-out of payload from author to targets. Targets that
// are offline at enqueue time are dropped immediately; the engine never
// persists fan-out for offline recipients. If no target survives the filter
// the event is discarded without ever entering the queue.
func (s *State) Enqueue(author string, targets []string, payload Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	filtered := newOrderedSet[string]()
	for _, target := range targets {
		if s.online.has(target) {
			filtered.add(target)
		}
	}
	if filtered.len() == 0 {
		return
	}
	s.pending = append(s.pending, &pendingEvent{
		author:  author,
		targets: filtered,
		payload: payload,
	})
}

// DrainFor collects every pending payload addressed to user, in enqueue
// order, removing the user from each matched event's target set so nothing
// is double-sent. Events left without targets are reclaimed before the call
// returns. A nil result means nothing was owed.
//
// Calling DrainFor for a user that is not online is a violation of the
// delivery protocol: the caller is required to check presence first. It
// panics rather than silently no-oping so bugs in the calling loop surface.
func (s *State) DrainFor(user string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.online.has(user) {
		panic("relay: DrainFor called for offline user " + user)
	}
	return s.drainLocked(user)
}

// DrainIfOnline is the delivery loop's drain: presence check and drain in a
// single critical section, so a concurrent MarkOffline can never slip between
// them. It reports false once the user is offline.
func (s *State) DrainIfOnline(user string) ([]Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.online.has(user) {
		return nil, false
	}
	return s.drainLocked(user), true
}

// drainLocked assumes the write lock is held and the user is online.
func (s *State) drainLocked(user string) []Event {
	var out []Event
	for _, ev := range s.pending {
		if ev.targets.remove(user) {
			out = append(out, ev.payload)
		}
	}
	if out != nil {
		s.collectDead()
	}
	return out
}

// RecordTyping overwrites the channel the user was last reported typing in,
// returning the previous entry. The table is a plain overwrite; whether a
// repeated report should be suppressed is the dispatcher's policy.
func (s *State) RecordTyping(user, channel string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.typing[user]
	s.typing[user] = channel
	return prev, ok
}

// gc reclaims every pending event whose target set has emptied.
func (s *State) gc() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collectDead()
}

// collectDead assumes the write lock is held.
func (s *State) collectDead() {
	live := s.pending[:0]
	for _, ev := range s.pending {
		if ev.targets.len() > 0 {
			live = append(live, ev)
		}
	}
	for i := len(live); i < len(s.pending); i++ {
		s.pending[i] = nil
	}
	s.pending = live
}

// pendingLen reports the queue depth, for logging and tests.
func (s *State) pendingLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending)
}
