// Package transport defines the chat-session boundary. The concrete chat
// client lives outside this repository; the bot orchestrator only depends
// on these interfaces.
package transport

import (
	"context"
	"errors"
	"time"
)

// ErrUnauthorized is returned by Connect when the stored credentials are
// not accepted by the chat service.
var ErrUnauthorized = errors.New("transport: session not authorized")

// Photo is one incoming photo event on a session.
type Photo struct {
	ID         string
	SenderID   int64
	SenderName string
	// ReplyTo identifies where the graded result should be sent.
	ReplyTo int64
	// Data is the raw image payload.
	Data []byte
}

// SendOptions controls reply delivery.
type SendOptions struct {
	// Schedule, when set, asks the transport to deliver the message at
	// that time instead of immediately.
	Schedule time.Time
}

// Session is one tenant's live chat connection.
type Session interface {
	// Connect authorizes the session. Returns ErrUnauthorized when the
	// credentials are rejected.
	Connect(ctx context.Context) error
	// OnPhoto registers the incoming-photo callback. The callback runs on
	// the session's dispatch path and must return quickly.
	OnPhoto(fn func(Photo))
	// Send delivers an artifact with a caption to a target chat.
	Send(ctx context.Context, target int64, artifactPath, caption string, opts SendOptions) error
	// Close disconnects the session. Safe to call more than once.
	Close() error
}

// Dialer builds sessions from per-tenant credentials.
type Dialer interface {
	Dial(ctx context.Context, credentials string) (Session, error)
}
