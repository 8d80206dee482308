// This file contains the wire types for the relay protocol: the tagged action
// union clients send, the tagged event union the server fans out, and the
// configuration options shared by the server and its connections.
package relay

import (
	"crypto/tls"
	"regexp"
	"time"

	"github.com/rs/zerolog"
)

// Version is the protocol version reported in the Establish handshake.
const Version = "0.1.1"

// Action discriminator values. The same tags are used in both directions
// where a request has a mirrored event (Establish, MessageSend, TypingStatus).
const (
	ActionEstablish    = "Establish"
	ActionPing         = "Ping"
	ActionPong         = "Pong"
	ActionMessageSend  = "MessageSend"
	ActionTypingStatus = "TypingStatus"
	ActionError        = "Error"
)

// Action is an inbound client message, discriminated on the "action" field.
// Only the fields belonging to the tagged variant are populated; decoding is
// tolerant of extras so unknown variants can be dropped without closing the
// connection.
type Action struct {
	Action  string  `json:"action"`
	Data    *int    `json:"data,omitempty"`
	Content string  `json:"content,omitempty"`
	Reply   *string `json:"reply,omitempty"`
	Channel string  `json:"channel,omitempty"`
	Typing  *bool   `json:"typing,omitempty"`
}

// Event is an outbound server message, discriminated on the "action" field.
// It is the payload buffered by the pending event queue; fields not used by
// the tagged variant are omitted from the encoding.
type Event struct {
	Action   string     `json:"action"`
	Channels []Channel  `json:"channels,omitempty"`
	Users    []UserSafe `json:"users,omitempty"`
	Messages []Message  `json:"messages,omitempty"`
	You      string     `json:"you,omitempty"`
	Version  string     `json:"version,omitempty"`
	ID       string     `json:"id,omitempty"`
	Author   string     `json:"author,omitempty"`
	Content  string     `json:"content,omitempty"`
	Channel  string     `json:"channel,omitempty"`
	User     string     `json:"user,omitempty"`
	Typing   *bool      `json:"typing,omitempty"`
	Data     *int       `json:"data,omitempty"`
	Message  string     `json:"message,omitempty"`
}

func establishEvent(channels []Channel, users []UserSafe, messages []Message, you string) Event {
	return Event{
		Action:   ActionEstablish,
		Channels: channels,
		Users:    users,
		Messages: messages,
		You:      you,
		Version:  Version,
	}
}

func messageSendEvent(msg Message) Event {
	return Event{
		Action:  ActionMessageSend,
		ID:      msg.ID,
		Author:  msg.Author,
		Content: msg.Content,
		Channel: msg.Channel,
	}
}

func typingStatusEvent(typing *bool, channel, user string) Event {
	return Event{
		Action:  ActionTypingStatus,
		Typing:  typing,
		Channel: channel,
		User:    user,
	}
}

func pongEvent(data *int) Event {
	return Event{Action: ActionPong, Data: data}
}

func diagnosticEvent(message string) Event {
	return Event{Action: ActionError, Message: message}
}

func errorEvent(err *Error) Event {
	return Event{Action: ActionError, Message: err.Message}
}

// Options configures connection and delivery behavior.
// PollInterval is the fixed sleep between pending-queue scans in the
// per-connection delivery loop; teardown latency is bounded by it.
type Options struct {
	CheckOrigin          bool
	AllowedOrigins       []string
	AllowedOriginRegexps []*regexp.Regexp
	ReadBufferSize       int
	WriteBufferSize      int
	MaxMessageSize       int64
	PingInterval         time.Duration
	PongWait             time.Duration
	WriteWait            time.Duration
	SendTimeout          time.Duration
	PollInterval         time.Duration
	SendChannelBuffer    int
	ReceiveChannelBuffer int
	Logger               zerolog.Logger
	Hooks                *Hooks
}

// DefaultOptions returns Options with sensible defaults:
// - No origin checking (accepts all origins)
// - 1KB read/write buffers, 512KB max message size
// - 30s ping interval, 60s pong wait
// - 50ms delivery poll interval
// - 256 buffer size for send/receive channels
func DefaultOptions() *Options {
	return &Options{
		CheckOrigin:          false,
		ReadBufferSize:       1024,
		WriteBufferSize:      1024,
		MaxMessageSize:       512 * 1024,
		PingInterval:         30 * time.Second,
		PongWait:             60 * time.Second,
		WriteWait:            10 * time.Second,
		SendTimeout:          5 * time.Second,
		PollInterval:         50 * time.Millisecond,
		SendChannelBuffer:    256,
		ReceiveChannelBuffer: 256,
		Logger:               zerolog.Nop(),
	}
}

// ServerOptions configures the HTTP server hosting the upgrade and liveness
// endpoints.
type ServerOptions struct {
	Options            *Options
	Store              Store
	ServerAddr         string
	SocketPath         string
	HealthPath         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	ServerIdleTimeout  time.Duration
	ServerTLSConfig    *tls.Config
}
