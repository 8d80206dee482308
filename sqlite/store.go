// Package sqlite provides the SQLite-backed durable store consumed by the
// relay engine.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	relay "github.com/unca-chat/relay"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
  id       TEXT PRIMARY KEY,
  username TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS sessions (
  token   TEXT PRIMARY KEY,
  user_id TEXT NOT NULL REFERENCES users(id)
);
CREATE TABLE IF NOT EXISTS connections (
  connection_id TEXT PRIMARY KEY,
  user_id       TEXT NOT NULL REFERENCES users(id)
);
CREATE TABLE IF NOT EXISTS channels (
  id      TEXT PRIMARY KEY,
  is_self INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS channel_members (
  channel_id TEXT NOT NULL REFERENCES channels(id),
  user_id    TEXT NOT NULL REFERENCES users(id),
  PRIMARY KEY (channel_id, user_id)
);
CREATE TABLE IF NOT EXISTS messages (
  id         TEXT PRIMARY KEY,
  author     TEXT NOT NULL,
  content    TEXT NOT NULL,
  reply      TEXT,
  channel    TEXT NOT NULL REFERENCES channels(id),
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel, created_at);
CREATE INDEX IF NOT EXISTS idx_channel_members_user ON channel_members(user_id);
`

// Store persists users, sessions, channels, and messages in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens the store at path and ensures the schema exists. ":memory:" is
// accepted for tests; the pool is pinned to one connection so the in-memory
// database is shared.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ResolveSession extracts the session token from the raw upgrade query
// ("token=<session>"), resolves it to a user, and records a fresh connection
// id for that user. A missing or unknown token yields a nil user, not an
// error.
func (s *Store) ResolveSession(ctx context.Context, rawQuery string) (*relay.User, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	parts := strings.SplitN(rawQuery, "=", 2)
	if len(parts) < 2 || strings.TrimSpace(parts[1]) == "" {
		return nil, "", nil
	}
	token := parts[1]

	var user relay.User
	err := s.db.QueryRowContext(ctx,
		`SELECT u.id, u.username FROM users u JOIN sessions se ON se.user_id = u.id WHERE se.token = ?`,
		token,
	).Scan(&user.ID, &user.Username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("resolve session: %w", err)
	}

	connectionID := uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO connections (connection_id, user_id) VALUES (?, ?)`,
		connectionID, user.ID,
	); err != nil {
		return nil, "", fmt.Errorf("record connection: %w", err)
	}
	return &user, connectionID, nil
}

// Logout removes a previously recorded connection id.
func (s *Store) Logout(ctx context.Context, userID, connectionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM connections WHERE user_id = ? AND connection_id = ?`,
		userID, connectionID,
	); err != nil {
		return fmt.Errorf("remove connection: %w", err)
	}
	return nil
}

// ChannelIfMember returns the channel with its members only if userID is a
// member; nil otherwise.
func (s *Store) ChannelIfMember(ctx context.Context, userID, channelID string) (*relay.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var channel relay.Channel
	var isSelf int
	err := s.db.QueryRowContext(ctx,
		`SELECT c.id, c.is_self FROM channels c
		   JOIN channel_members m ON m.channel_id = c.id
		  WHERE c.id = ? AND m.user_id = ?`,
		channelID, userID,
	).Scan(&channel.ID, &isSelf)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup channel %s: %w", channelID, err)
	}
	channel.IsSelf = isSelf != 0
	channel.Members, err = s.channelMembers(ctx, channel.ID)
	if err != nil {
		return nil, err
	}
	return &channel, nil
}

// InsertMessage persists one message.
func (s *Store) InsertMessage(ctx context.Context, msg relay.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, author, content, reply, channel, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.Author, msg.Content, msg.Reply, msg.Channel, time.Now().UTC().UnixMilli(),
	); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// Establish loads the handshake snapshot for a user: every channel they are
// a member of, the public projections of those channels' members, and the
// history of those channels.
func (s *Store) Establish(ctx context.Context, userID string) ([]relay.Channel, []relay.UserSafe, []relay.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.is_self FROM channels c
		   JOIN channel_members m ON m.channel_id = c.id
		  WHERE m.user_id = ? ORDER BY c.rowid`,
		userID,
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var channels []relay.Channel
	for rows.Next() {
		var channel relay.Channel
		var isSelf int
		if err := rows.Scan(&channel.ID, &isSelf); err != nil {
			return nil, nil, nil, fmt.Errorf("scan channel: %w", err)
		}
		channel.IsSelf = isSelf != 0
		channels = append(channels, channel)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("list channels: %w", err)
	}

	memberIDs := make([]string, 0)
	seen := make(map[string]bool)
	for i := range channels {
		members, err := s.channelMembers(ctx, channels[i].ID)
		if err != nil {
			return nil, nil, nil, err
		}
		channels[i].Members = members
		for _, member := range members {
			if !seen[member] {
				seen[member] = true
				memberIDs = append(memberIDs, member)
			}
		}
	}

	users := make([]relay.UserSafe, 0, len(memberIDs))
	for _, id := range memberIDs {
		var user relay.UserSafe
		err := s.db.QueryRowContext(ctx, `SELECT id, username FROM users WHERE id = ?`, id).Scan(&user.ID, &user.Username)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, nil, nil, fmt.Errorf("lookup user %s: %w", id, err)
		}
		users = append(users, user)
	}

	var messages []relay.Message
	for _, channel := range channels {
		history, err := s.channelMessages(ctx, channel.ID)
		if err != nil {
			return nil, nil, nil, err
		}
		messages = append(messages, history...)
	}
	return channels, users, messages, nil
}

func (s *Store) channelMembers(ctx context.Context, channelID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM channel_members WHERE channel_id = ? ORDER BY rowid`, channelID)
	if err != nil {
		return nil, fmt.Errorf("list members of %s: %w", channelID, err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var member string
		if err := rows.Scan(&member); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list members of %s: %w", channelID, err)
	}
	return members, nil
}

func (s *Store) channelMessages(ctx context.Context, channelID string) ([]relay.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, author, content, reply, channel FROM messages WHERE channel = ? ORDER BY created_at, rowid`,
		channelID)
	if err != nil {
		return nil, fmt.Errorf("list messages of %s: %w", channelID, err)
	}
	defer rows.Close()

	var messages []relay.Message
	for rows.Next() {
		var msg relay.Message
		var reply sql.NullString
		if err := rows.Scan(&msg.ID, &msg.Author, &msg.Content, &reply, &msg.Channel); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if reply.Valid {
			msg.Reply = &reply.String
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages of %s: %w", channelID, err)
	}
	return messages, nil
}
