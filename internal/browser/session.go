package browser

import (
	"log/slog"
	"sync"
	"time"

	"ontimecar-scraper/internal/config"

	"github.com/google/uuid"
)

// State is the login state of a Session.
type State string

const (
	StateIdle           State = "idle"
	StateAuthenticating State = "authenticating"
	StateAuthenticated  State = "authenticated"
	// StateFailed is terminal: the manager replaces the session on the next acquire.
	StateFailed State = "failed"
)

// SessionInfo is the public view of a Session.
type SessionInfo struct {
	ID              string     `json:"id"`
	State           State      `json:"state"`
	RetryCount      int        `json:"retryCount"`
	LastFailure     string     `json:"lastFailure,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	AuthenticatedAt *time.Time `json:"authenticatedAt,omitempty"`
}

// loginSettings are the knobs EnsureAuthenticated needs, resolved from config once.
type loginSettings struct {
	cfg         config.SessionConfig
	navTimeout  time.Duration
	formTimeout time.Duration
	poll        time.Duration
}

// Session is one authenticated browsing context shared by all requests.
type Session struct {
	id        string
	createdAt time.Time
	bc        *BrowsingContext
	login     loginSettings
	logger    *slog.Logger
	emit      func(predicate string, args ...interface{})

	mu              sync.Mutex
	state           State
	retryCount      int
	lastFailure     string
	authenticatedAt time.Time
	closed          bool
}

func newSession(bc *BrowsingContext, login loginSettings, logger *slog.Logger, emit func(string, ...interface{})) *Session {
	id := uuid.NewString()
	if emit == nil {
		emit = func(string, ...interface{}) {}
	}
	return &Session{
		id:        id,
		createdAt: time.Now(),
		bc:        bc,
		login:     login,
		logger:    logger.With("session_id", id),
		emit:      emit,
		state:     StateIdle,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info snapshots the session for status reporting.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := SessionInfo{
		ID:          s.id,
		State:       s.state,
		RetryCount:  s.retryCount,
		LastFailure: s.lastFailure,
		CreatedAt:   s.createdAt,
	}
	if !s.authenticatedAt.IsZero() {
		at := s.authenticatedAt
		info.AuthenticatedAt = &at
	}
	return info
}

// Invalidate marks the session failed, e.g. when a view page shows the login form again.
func (s *Session) Invalidate(reason string) {
	s.mu.Lock()
	if s.state == StateFailed {
		s.mu.Unlock()
		return
	}
	s.state = StateFailed
	s.lastFailure = reason
	s.mu.Unlock()

	s.logger.Warn("session invalidated", "reason", reason)
	s.emit("session_failed", s.id, reason, time.Now().UnixMilli())
}

func (s *Session) close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	if s.bc == nil || s.bc.Close == nil {
		return nil
	}
	return s.bc.Close()
}
