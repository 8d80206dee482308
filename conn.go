// This file contains the Conn struct wrapping one client WebSocket. It owns
// the low-level transport: the read pump feeding inbound frames to the
// session, the write pump serializing every outbound frame through a single
// goroutine, ping/pong keepalive, and idempotent teardown.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type Conn struct {
	ID        string
	conn      *websocket.Conn
	send      chan []byte
	receive   chan []byte
	closeChan chan struct{}
	readDone  chan struct{}
	closeOnce sync.Once
	mutex     sync.RWMutex
	isClosing bool
	options   *Options
	log       zerolog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

func newConn(parent context.Context, wsConn *websocket.Conn, id string, options *Options) (*Conn, error) {
	ctx, cancel := context.WithCancel(parent)

	c := &Conn{
		ID:        id,
		conn:      wsConn,
		ctx:       ctx,
		cancel:    cancel,
		closeChan: make(chan struct{}),
		readDone:  make(chan struct{}),
		send:      make(chan []byte, options.SendChannelBuffer),
		receive:   make(chan []byte, options.ReceiveChannelBuffer),
		options:   options,
		log:       options.Logger.With().Str("connection", id).Logger(),
	}

	wsConn.SetReadLimit(options.MaxMessageSize)
	if err := wsConn.SetReadDeadline(time.Now().Add(options.PongWait)); err != nil {
		cancel()

		return nil, wrapF(err, "failed to set initial read deadline for connection %s", id)
	}

	wsConn.SetPongHandler(func(string) error {
		return wsConn.SetReadDeadline(time.Now().Add(options.PongWait))
	})

	wsConn.SetCloseHandler(func(code int, text string) error {
		c.Close()

		return nil
	})

	go c.readPump()

	go c.writePump()

	return c, nil
}

// readPump reads inbound frames and hands them to the receive channel until
// the transport errors or closes. The receive channel is closed on exit; the
// session's dispatch loop treats that as end-of-stream.
func (c *Conn) readPump() {
	defer func() {
		close(c.receive)

		close(c.readDone)

		c.close(true)
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			if err := c.conn.SetReadDeadline(time.Now().Add(c.options.PongWait)); err != nil {
				return
			}
			messageType, message, err := c.conn.ReadMessage()

			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) && !errors.Is(err, context.Canceled) {
					c.log.Debug().Err(err).Msg("read pump stopped")
				}
				return
			}

			if messageType != websocket.TextMessage {
				c.log.Debug().Msg("dropping non-text frame")

				_ = c.SendJSON(errorEvent(badRequest("", "unsupported frame type, text expected")))

				continue
			}
			select {
			case c.receive <- message:
			case <-c.ctx.Done():
				return
			case <-time.After(c.options.WriteWait):
				c.log.Warn().Msg("timed out delivering inbound frame to session")

				return
			}
		}
	}
}

// writePump is the sole writer to the socket; every outbound frame and every
// keepalive ping flows through it, so interleaving is well-defined without a
// separate write lock.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.options.PingInterval)

	defer func() {
		ticker.Stop()

		c.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})

				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.options.WriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if !c.IsActive() {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.options.WriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		case <-c.closeChan:
			return
		}
	}
}

// SendEvent marshals and queues one protocol event for the write pump.
func (c *Conn) SendEvent(ev Event) error {
	return c.SendJSON(ev)
}

// SendJSON marshals v and queues it for the write pump. It fails when the
// connection is closing or the send buffer stays full past the configured
// send timeout, in which case the connection is torn down.
func (c *Conn) SendJSON(v interface{}) (err error) {
	if !c.IsActive() {
		return unavailable("", "connection "+c.ID+" is closing")
	}
	data, err := json.Marshal(v)

	if err != nil {
		return wrapF(err, "failed to marshal JSON for connection %s", c.ID)
	}

	defer func() {
		if r := recover(); r != nil {
			err = unavailable("", "connection "+c.ID+" is closing")
		}
	}()

	select {
	case <-c.closeChan:
		return unavailable("", "connection "+c.ID+" is closing")

	case <-c.ctx.Done():
		return unavailable("", "connection "+c.ID+" is closing due to context cancellation")

	case c.send <- data:
		return nil
	case <-time.After(c.options.SendTimeout):
		go c.Close()

		return timeout("", "send timeout, connection "+c.ID+" is closing")
	}
}

// IsActive returns true while the connection can still send and receive.
func (c *Conn) IsActive() bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}
	c.mutex.RLock()

	defer c.mutex.RUnlock()

	return !c.isClosing
}

// Close tears the connection down: cancels the context, closes the socket,
// and waits for the read pump to drain. Idempotent.
func (c *Conn) Close() {
	c.close(false)
}

func (c *Conn) close(fromReader bool) {
	c.closeOnce.Do(func() {
		c.mutex.Lock()

		c.isClosing = true

		c.mutex.Unlock()

		if c.cancel != nil {
			c.cancel()
		}
		close(c.closeChan)

		conn := c.conn

		if !fromReader && conn != nil {
			_ = conn.Close()
		}

		if !fromReader && c.readDone != nil {
			<-c.readDone
		}

		if fromReader && conn != nil {
			_ = conn.Close()
		}
	})
}
