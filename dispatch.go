// This file contains the action dispatcher: the inbound half of an Active
// session. It reads one client action at a time, validates it against the
// authenticated identity and channel membership, and produces direct
// replies, durable writes, and pending-queue fan-outs.
package relay

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// dispatchLoop consumes inbound frames until the transport closes, the
// delivery side closes the connection, or the server shuts down. Observing
// end-of-stream is the Active -> Offline transition: the user is marked
// offline here, which is also what stops the delivery loop.
func (s *Session) dispatchLoop(ctx context.Context) {
	defer func() {
		s.state.MarkOffline(s.user.ID)

		s.conn.Close()
	}()

	for {
		select {
		case raw, ok := <-s.conn.receive:
			if !ok {
				return
			}
			s.dispatch(ctx, raw)
		case <-ctx.Done():
			return
		case <-s.conn.closeChan:
			return
		}
	}
}

// dispatch interprets one inbound frame. Malformed payloads and unknown
// variants are logged and dropped; they never close the connection.
func (s *Session) dispatch(ctx context.Context, raw []byte) {
	var act Action
	if err := json.Unmarshal(raw, &act); err != nil {
		s.log.Debug().Err(err).Msg("dropping undecodable action")

		return
	}
	switch act.Action {
	case ActionPing:
		// Direct reply to the sender alone; bypasses the pending queue.
		if err := s.conn.SendEvent(pongEvent(act.Data)); err != nil {
			s.log.Debug().Err(err).Msg("failed to send pong")
		}
	case ActionMessageSend:
		s.handleMessageSend(ctx, act)
	case ActionTypingStatus:
		s.handleTypingStatus(ctx, act)
	case ActionEstablish:
		// The handshake is server-initiated only.
	default:
		s.log.Debug().Str("action", act.Action).Msg("dropping unknown action")
	}
}

// handleMessageSend persists a chat message and fans it out to the channel's
// members minus the sender. Authorization failures and blank content drop
// the action silently; collaborator failures drop it with a log line.
func (s *Session) handleMessageSend(ctx context.Context, act Action) {
	if strings.TrimSpace(act.Content) == "" {
		return
	}
	channel, err := s.store.ChannelIfMember(ctx, s.user.ID, act.Channel)

	if err != nil {
		s.log.Error().Err(err).Str("channel", act.Channel).Msg("membership lookup failed, dropping message")

		return
	}
	if channel == nil {
		return
	}
	msg := Message{
		ID:      uuid.NewString(),
		Author:  s.user.ID,
		Content: act.Content,
		Reply:   act.Reply,
		Channel: channel.ID,
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		s.log.Error().Err(err).Str("channel", channel.ID).Msg("message insert failed, dropping message")

		return
	}
	s.state.Enqueue(s.user.ID, withoutMember(channel.Members, s.user.ID), messageSendEvent(msg))
}

// handleTypingStatus fans a typing indicator out to the channel's members
// minus the sender. A repeated "still typing" report for the same channel is
// suppressed using the typing-status table; a stop report clears the entry
// so the next start is delivered again. Nothing is persisted.
func (s *Session) handleTypingStatus(ctx context.Context, act Action) {
	channel, err := s.store.ChannelIfMember(ctx, s.user.ID, act.Channel)

	if err != nil {
		s.log.Error().Err(err).Str("channel", act.Channel).Msg("membership lookup failed, dropping typing status")

		return
	}
	if channel == nil {
		return
	}

	typing := act.Typing != nil && *act.Typing

	recorded := ""
	if typing {
		recorded = channel.ID
	}
	prev, ok := s.state.RecordTyping(s.user.ID, recorded)

	if typing && ok && prev == channel.ID {
		return
	}
	s.state.Enqueue(s.user.ID, withoutMember(channel.Members, s.user.ID), typingStatusEvent(act.Typing, channel.ID, s.user.ID))
}

// withoutMember returns members minus the given user id, preserving order.
func withoutMember(members []string, userID string) []string {
	out := make([]string, 0, len(members))

	for _, member := range members {
		if member != userID {
			out = append(out, member)
		}
	}
	return out
}
