package relay

import (
	"errors"
	"fmt"
)

const (
	StatusBadRequest          = 400
	StatusUnauthorized        = 401
	StatusNotFound            = 404
	StatusConflict            = 409
	StatusInternalServerError = 500
	StatusServiceUnavailable  = 503
	StatusGatewayTimeout      = 504
	StatusTooManyRequests     = 429
)

// Error represents an error in the relay engine. It carries the chat channel
// it relates to (if any), an HTTP-like status code, and whether the condition
// is temporary (retryable by the peer).
type Error struct {
	Channel   string `json:"channel,omitempty"`
	Message   string `json:"message"`
	Code      int    `json:"code"`
	Temporary bool   `json:"temporary"`
	cause     error
}

func (e *Error) Error() string {
	if e.Channel != "" {
		return fmt.Sprintf("error in channel %s: %s (code: %d)", e.Channel, e.Message, e.Code)
	}
	return fmt.Sprintf("%s (code: %d)", e.Message, e.Code)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func wrap(err error, message string) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return &Error{
			Channel:   e.Channel,
			Message:   fmt.Sprintf("%s: %s", message, e.Message),
			Code:      e.Code,
			Temporary: e.Temporary,
			cause:     e.cause,
		}
	}
	return &Error{
		Message: fmt.Sprintf("%s: %s", message, err),
		Code:    StatusInternalServerError,
		cause:   err,
	}
}

func wrapF(err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return wrap(err, fmt.Sprintf(format, args...))
}

func badRequest(channel, message string) *Error {
	return &Error{
		Message: message,
		Code:    StatusBadRequest,
		Channel: channel,
	}
}

func notFound(channel, message string) *Error {
	return &Error{
		Message: message,
		Code:    StatusNotFound,
		Channel: channel,
	}
}

func conflict(channel, message string) *Error {
	return &Error{
		Message: message,
		Code:    StatusConflict,
		Channel: channel,
	}
}

func unauthorized(channel, message string) *Error {
	return &Error{
		Message: message,
		Code:    StatusUnauthorized,
		Channel: channel,
	}
}

func internal(channel, message string) *Error {
	return &Error{
		Message: message,
		Code:    StatusInternalServerError,
		Channel: channel,
	}
}

func unavailable(channel, message string) *Error {
	return &Error{
		Message:   message,
		Code:      StatusServiceUnavailable,
		Channel:   channel,
		Temporary: true,
	}
}

func timeout(channel, message string) *Error {
	return &Error{
		Message:   message,
		Code:      StatusGatewayTimeout,
		Channel:   channel,
		Temporary: true,
	}
}

