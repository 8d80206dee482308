package sqlite

import (
	"context"
	"fmt"

	relay "github.com/unca-chat/relay"
)

// Seed inserts users (with their session tokens) and channels (with their
// memberships). Development and test helper; existing rows with the same ids
// cause an error.
func (s *Store) Seed(ctx context.Context, users []relay.User, channels []relay.Channel) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, user := range users {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO users (id, username) VALUES (?, ?)`, user.ID, user.Username); err != nil {
			return fmt.Errorf("seed user %s: %w", user.ID, err)
		}
		for _, token := range user.Sessions {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO sessions (token, user_id) VALUES (?, ?)`, token, user.ID); err != nil {
				return fmt.Errorf("seed session for %s: %w", user.ID, err)
			}
		}
	}
	for _, channel := range channels {
		isSelf := 0
		if channel.IsSelf {
			isSelf = 1
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO channels (id, is_self) VALUES (?, ?)`, channel.ID, isSelf); err != nil {
			return fmt.Errorf("seed channel %s: %w", channel.ID, err)
		}
		for _, member := range channel.Members {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO channel_members (channel_id, user_id) VALUES (?, ?)`, channel.ID, member); err != nil {
				return fmt.Errorf("seed member %s of %s: %w", member, channel.ID, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed: %w", err)
	}
	return nil
}

// DeleteAll clears every table. Development and test helper.
func (s *Store) DeleteAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, table := range []string{"messages", "channel_members", "channels", "connections", "sessions", "users"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}
