package transport

import (
	"context"
	"errors"
	"sync"
)

// MemoryHub is an in-process Dialer. It backs tests and local runs where
// no real chat service is available: photos are injected with Push and
// replies are captured for inspection.
type MemoryHub struct {
	mu       sync.Mutex
	sessions map[string]*MemorySession
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{sessions: make(map[string]*MemorySession)}
}

// Dial returns the session for the given credentials, creating it on
// first use. A closed session is replaced so a stopped tenant can be
// started again.
func (h *MemoryHub) Dial(_ context.Context, credentials string) (Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[credentials]; ok && !s.isClosed() {
		return s, nil
	}
	s := &MemorySession{credentials: credentials}
	h.sessions[credentials] = s
	return s, nil
}

// Push delivers an incoming photo to the session dialed with the given
// credentials. It reports whether a connected session consumed the event.
func (h *MemoryHub) Push(credentials string, p Photo) bool {
	h.mu.Lock()
	s := h.sessions[credentials]
	h.mu.Unlock()
	if s == nil {
		return false
	}
	return s.deliver(p)
}

// Sent returns the messages sent so far on the session dialed with the
// given credentials.
func (h *MemoryHub) Sent(credentials string) []SentMessage {
	h.mu.Lock()
	s := h.sessions[credentials]
	h.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.SentMessages()
}

// SentMessage is one reply captured by a MemorySession.
type SentMessage struct {
	Target       int64
	ArtifactPath string
	Caption      string
	Options      SendOptions
}

// MemorySession is the Session implementation behind MemoryHub.
type MemorySession struct {
	credentials string

	mu        sync.Mutex
	connected bool
	closed    bool
	handler   func(Photo)
	sent      []SentMessage
	sendErr   error
	attempts  int
}

// SetSendErr injects a failure for every subsequent Send; nil clears it.
func (s *MemorySession) SetSendErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = err
}

// Connect marks the session authorized. Empty credentials are rejected,
// mirroring a revoked or missing chat login.
func (s *MemorySession) Connect(_ context.Context) error {
	if s.credentials == "" {
		return ErrUnauthorized
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("transport: session closed")
	}
	s.connected = true
	return nil
}

func (s *MemorySession) OnPhoto(fn func(Photo)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = fn
}

func (s *MemorySession) Send(ctx context.Context, target int64, artifactPath, caption string, opts SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.sendErr != nil {
		return s.sendErr
	}
	if !s.connected || s.closed {
		return errors.New("transport: session not connected")
	}
	s.sent = append(s.sent, SentMessage{Target: target, ArtifactPath: artifactPath, Caption: caption, Options: opts})
	return nil
}

func (s *MemorySession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *MemorySession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.closed = true
	return nil
}

// SendAttempts counts Send calls, including failed ones.
func (s *MemorySession) SendAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// SentMessages returns a copy of the captured replies.
func (s *MemorySession) SentMessages() []SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SentMessage, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *MemorySession) deliver(p Photo) bool {
	s.mu.Lock()
	fn := s.handler
	connected := s.connected && !s.closed
	s.mu.Unlock()
	if fn == nil || !connected {
		return false
	}
	fn(p)
	return true
}
