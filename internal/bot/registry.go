package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/snapgrade/snapgrade/internal/transport"
)

// ErrNotRunning is returned when an operation targets a tenant with no
// live session.
var ErrNotRunning = errors.New("bot: tenant session not running")

type session struct {
	tenantID  int64
	transport transport.Session

	mu       sync.RWMutex
	quizPath string
}

func (s *session) activeQuiz() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.quizPath
}

func (s *session) setQuiz(path string) {
	s.mu.Lock()
	s.quizPath = path
	s.mu.Unlock()
}

// Registry owns the lifecycle of one transport session per tenant. It is
// the only component that creates, mutates or closes sessions.
type Registry struct {
	dialer transport.Dialer

	mu       sync.Mutex
	sessions map[int64]*session
}

// NewRegistry creates an empty registry over the given dialer.
func NewRegistry(dialer transport.Dialer) *Registry {
	return &Registry{
		dialer:   dialer,
		sessions: make(map[int64]*session),
	}
}

// Start brings up the session for a tenant and registers the
// incoming-photo callback. Starting an already-running tenant is
// idempotent and succeeds without creating a second session.
func (r *Registry) Start(ctx context.Context, tenantID int64, credentials, quizPath string, onPhoto func(tenantID int64, p transport.Photo)) error {
	r.mu.Lock()
	if _, ok := r.sessions[tenantID]; ok {
		r.mu.Unlock()
		slog.Warn("tenant session already running", "tenant", tenantID)
		return nil
	}
	r.mu.Unlock()

	ts, err := r.dialer.Dial(ctx, credentials)
	if err != nil {
		return fmt.Errorf("dial transport for tenant %d: %w", tenantID, err)
	}
	if err := ts.Connect(ctx); err != nil {
		_ = ts.Close()
		if errors.Is(err, transport.ErrUnauthorized) {
			return fmt.Errorf("tenant %d: %w", tenantID, err)
		}
		return fmt.Errorf("connect tenant %d: %w", tenantID, err)
	}

	sess := &session{tenantID: tenantID, transport: ts, quizPath: quizPath}
	ts.OnPhoto(func(p transport.Photo) {
		onPhoto(tenantID, p)
	})

	r.mu.Lock()
	if _, ok := r.sessions[tenantID]; ok {
		// Lost the race against a concurrent Start for the same tenant;
		// the first session wins.
		r.mu.Unlock()
		_ = ts.Close()
		return nil
	}
	r.sessions[tenantID] = sess
	r.mu.Unlock()

	slog.Info("started tenant session", "tenant", tenantID, "quiz", quizPath)
	return nil
}

// Stop closes a tenant's session. Returns ErrNotRunning if the tenant has
// no live session.
func (r *Registry) Stop(tenantID int64) error {
	r.mu.Lock()
	sess, ok := r.sessions[tenantID]
	delete(r.sessions, tenantID)
	r.mu.Unlock()
	if !ok {
		return ErrNotRunning
	}
	if err := sess.transport.Close(); err != nil {
		slog.Warn("error closing tenant session", "tenant", tenantID, "error", err)
	}
	slog.Info("stopped tenant session", "tenant", tenantID)
	return nil
}

// StopAll closes every session. Safe to call when some or all sessions
// are already stopped.
func (r *Registry) StopAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[int64]*session)
	r.mu.Unlock()

	for tenantID, sess := range sessions {
		if err := sess.transport.Close(); err != nil {
			slog.Warn("error closing tenant session", "tenant", tenantID, "error", err)
		}
	}
	if len(sessions) > 0 {
		slog.Info("stopped all tenant sessions", "count", len(sessions))
	}
}

// UpdateQuiz points a running session at a new quiz image. No-op when the
// tenant is not running.
func (r *Registry) UpdateQuiz(tenantID int64, quizPath string) {
	r.mu.Lock()
	sess, ok := r.sessions[tenantID]
	r.mu.Unlock()
	if !ok {
		return
	}
	sess.setQuiz(quizPath)
	slog.Info("updated quiz for tenant", "tenant", tenantID, "quiz", quizPath)
}

// ActiveQuiz returns the running session's quiz path. ok is false when
// the tenant is not running.
func (r *Registry) ActiveQuiz(tenantID int64) (path string, ok bool) {
	r.mu.Lock()
	sess, exists := r.sessions[tenantID]
	r.mu.Unlock()
	if !exists {
		return "", false
	}
	return sess.activeQuiz(), true
}

// Session returns the live transport session for a tenant.
func (r *Registry) Session(tenantID int64) (transport.Session, bool) {
	r.mu.Lock()
	sess, ok := r.sessions[tenantID]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	return sess.transport, true
}

// Running reports the number of live sessions.
func (r *Registry) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
