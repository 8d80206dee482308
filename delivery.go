// This file contains the delivery loop: the outbound half of an Active
// session. It polls the pending event queue at a fixed interval and forwards
// everything owed to this session's user, in enqueue order, at most once.
package relay

import (
	"context"
	"time"
)

// deliveryLoop wakes every PollInterval, drains the pending queue for the
// session's user, and writes the drained payloads to the socket in order.
// The loop exits when the user is no longer online (the dispatch loop marks
// them offline on transport close), when a write fails, or on shutdown.
// Cancellation is cooperative: the loop only observes its exit condition on
// its next wake-up, so teardown latency is bounded by the poll interval.
func (s *Session) deliveryLoop(ctx context.Context) {
	ticker := time.NewTicker(s.options.PollInterval)

	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			events, online := s.state.DrainIfOnline(s.user.ID)
			if !online {
				return
			}
			for _, ev := range events {
				if err := s.conn.SendEvent(ev); err != nil {
					s.log.Debug().Err(err).Msg("delivery write failed, closing connection")

					s.conn.Close()

					return
				}
			}
		case <-ctx.Done():
			return
		case <-s.conn.closeChan:
			return
		}
	}
}
