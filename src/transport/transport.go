// Package transport abstracts the persistent push connection so the
// realtime channel can be driven by a fake in tests.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// Close codes used by the channel. Values match RFC 6455.
const (
	CloseNormalClosure    = 1000
	CloseNoStatusReceived = 1005
	CloseAbnormalClosure  = 1006
	CloseTLSHandshake     = 1015
)

// Sendable reports whether code may appear in a close frame on the wire.
// 1005, 1006 and 1015 are reserved for local reporting.
func Sendable(code int) bool {
	switch code {
	case CloseNoStatusReceived, CloseAbnormalClosure, CloseTLSHandshake:
		return false
	}
	return true
}

// ErrClosed is returned when writing to a connection that was already closed.
var ErrClosed = errors.New("connection closed")

// Conn is one open connection to the push endpoint.
type Conn interface {
	// ReadMessage blocks until the next text frame arrives. When the peer
	// closes the connection it returns a *CloseError.
	ReadMessage() ([]byte, error)

	// WriteJSON encodes v and writes it as a single text frame.
	WriteJSON(v any) error

	// Close sends a close frame with the given code and releases the
	// connection. Codes that are not Sendable skip the close frame.
	Close(code int, reason string) error
}

// Dialer opens new connections.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// CloseError reports the close code received from the peer.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("connection closed: %d", e.Code)
	}
	return fmt.Sprintf("connection closed: %d %s", e.Code, e.Reason)
}

// CloseCode extracts the close code from a read error. Errors without a
// close frame count as an abnormal closure.
func CloseCode(err error) (int, bool) {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code, true
	}
	return CloseAbnormalClosure, false
}

// WithToken returns endpoint with the bearer token appended as the
// "token" query parameter. An empty token leaves the endpoint unchanged.
func WithToken(endpoint, token string) (string, error) {
	if token == "" {
		return endpoint, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Redact strips the token query parameter so endpoints can be logged.
func Redact(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
