// This file defines the durable-store boundary: the document models persisted
// outside the process and the Store interface the engine consumes. The engine
// never caches store reads; membership is queried at dispatch time.
package relay

import "context"

// User is a durable user record. Sessions are the credentials that resolve
// to this user; Connections tracks ids of live sockets. The engine only ever
// keys its in-memory structures by User.ID; the rest belongs to the store.
type User struct {
	ID          string   `json:"_id"`
	Username    string   `json:"username"`
	Sessions    []string `json:"sessions,omitempty"`
	Connections []string `json:"connections,omitempty"`
}

// UserSafe is the public projection of a User, safe to hand to co-members.
type UserSafe struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
}

// Safe returns the public projection of the user.
func (u User) Safe() UserSafe {
	return UserSafe{ID: u.ID, Username: u.Username}
}

// Channel is a durable chat channel with its member user ids.
type Channel struct {
	ID      string   `json:"_id"`
	IsSelf  bool     `json:"is_self,omitempty"`
	Members []string `json:"members,omitempty"`
}

// Message is a durable chat message.
type Message struct {
	ID      string  `json:"_id"`
	Author  string  `json:"author"`
	Content string  `json:"content"`
	Reply   *string `json:"reply,omitempty"`
	Channel string  `json:"channel"`
}

// Store is the durable-store collaborator. All calls are treated as fallible
// remote operations; the engine does not retry them. A nil result with a nil
// error means "not found / not authorized" rather than failure.
type Store interface {
	// ResolveSession resolves the raw query string of the upgrade request to
	// a user. Credential extraction belongs to the store, not the engine.
	// On success it records a fresh connection id on the user and returns it.
	ResolveSession(ctx context.Context, rawQuery string) (*User, string, error)

	// ChannelIfMember returns the channel only if the user is a member.
	ChannelIfMember(ctx context.Context, userID, channelID string) (*Channel, error)

	// InsertMessage persists a message.
	InsertMessage(ctx context.Context, msg Message) error

	// Establish returns the snapshot a freshly connected client needs to
	// render: accessible channels, public projections of their members, and
	// the message history of those channels.
	Establish(ctx context.Context, userID string) ([]Channel, []UserSafe, []Message, error)

	// Logout removes a previously recorded connection id from the user.
	Logout(ctx context.Context, userID, connectionID string) error
}
