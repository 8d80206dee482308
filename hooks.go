// This file defines the extensibility hooks the server consults around the
// connection lifecycle: rate limiting at upgrade time and connect/disconnect
// callbacks for external bookkeeping.
package relay

import "context"

// RateLimiter decides whether an operation identified by key should be
// allowed. The key typically identifies a client address or user id.
type RateLimiter interface {
	// Allow returns true if the operation is within limits.
	Allow(ctx context.Context, key string) (allowed bool, err error)

	// Reset clears the rate limit state for the given key.
	Reset(key string)
}

// Hooks are optional callbacks wired into the server. A nil Hooks (or any
// nil field) disables that hook.
type Hooks struct {
	// RateLimiter gates connection upgrades, keyed by client address.
	RateLimiter RateLimiter

	// OnConnect runs after a socket is upgraded, before the session starts.
	// A non-nil error closes the connection.
	OnConnect func(conn *Conn) error

	// OnDisconnect runs after a session has fully torn down.
	OnDisconnect func(conn *Conn)
}
