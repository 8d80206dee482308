// This file contains the Session struct: the per-connection state machine
// that takes an upgraded socket through authentication, presence
// registration, the Establish handshake, the concurrent dispatch and
// delivery loops, and teardown.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Session struct {
	conn         *Conn
	state        *State
	store        Store
	options      *Options
	rawQuery     string
	user         User
	connectionID string
	log          zerolog.Logger
}

func newSession(conn *Conn, state *State, store Store, options *Options, rawQuery string) *Session {
	return &Session{
		conn:     conn,
		state:    state,
		store:    store,
		options:  options,
		rawQuery: rawQuery,
		log:      options.Logger.With().Str("connection", conn.ID).Logger(),
	}
}

// run drives the session through its lifecycle and blocks until teardown:
// Authenticating -> Online -> Active(dispatch, delivery) -> Offline -> Closed.
// Any failure before Active sends one diagnostic event and closes; no error
// past this point is fatal to the process.
func (s *Session) run(ctx context.Context) {
	defer s.conn.Close()

	user, connectionID, err := s.authenticate(ctx)

	if err != nil {
		return
	}

	// The connection id recorded at authentication must be released on
	// every exit past this point, refusals included.
	s.user = *user
	s.connectionID = connectionID

	if !s.state.MarkOnline(user.ID) {
		s.log.Info().Str("user", user.ID).Msg("rejecting duplicate session")

		s.refuse("already connected elsewhere")

		s.logout()

		return
	}
	s.log = s.log.With().Str("user", user.ID).Logger()

	if err := s.establish(ctx); err != nil {
		s.log.Error().Err(err).Msg("establish handshake failed")

		s.state.MarkOffline(s.user.ID)

		s.logout()

		return
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()

		s.dispatchLoop(ctx)
	}()

	go func() {
		defer wg.Done()

		s.deliveryLoop(ctx)
	}()

	wg.Wait()

	s.logout()

	s.log.Debug().Msg("session closed")
}

// authenticate resolves the upgrade request's raw query to a user via the
// durable store. On failure the peer gets a single diagnostic event before
// the connection is closed.
func (s *Session) authenticate(ctx context.Context) (*User, string, error) {
	user, connectionID, err := s.store.ResolveSession(ctx, s.rawQuery)

	if err != nil {
		s.log.Error().Err(err).Msg("session resolution failed")

		s.refuse("authentication failed")

		return nil, "", wrap(err, "failed to resolve session")
	}
	if user == nil {
		s.log.Info().Msg("rejecting unresolvable session credential")

		s.refuse("invalid session credential")

		return nil, "", unauthorized("", "invalid session credential")
	}
	return user, connectionID, nil
}

// establish sends the one-time server-initiated handshake payload: the
// user's accessible channels, the public projections of their co-members,
// the message history, and the protocol version.
func (s *Session) establish(ctx context.Context) error {
	channels, users, messages, err := s.store.Establish(ctx, s.user.ID)

	if err != nil {
		return wrapF(err, "failed to load establish snapshot for %s", s.user.ID)
	}
	return s.conn.SendEvent(establishEvent(channels, users, messages, s.user.ID))
}

// refuse queues one diagnostic event and gives the write pump a moment to
// flush it before the caller closes the connection.
func (s *Session) refuse(message string) {
	if err := s.conn.SendEvent(diagnosticEvent(message)); err != nil {
		return
	}
	deadline := time.Now().Add(s.options.WriteWait)

	for len(s.conn.send) > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
}

// logout releases the connection id recorded at authentication. The session
// context may already be cancelled during shutdown, so this uses its own
// bounded context. Best effort; the connections list is advisory state.
func (s *Session) logout() {
	if s.connectionID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

	defer cancel()

	if err := s.store.Logout(ctx, s.user.ID, s.connectionID); err != nil {
		s.log.Warn().Err(err).Msg("failed to release connection id")
	}
}
