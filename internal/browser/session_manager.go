package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ontimecar-scraper/internal/apperr"
	"ontimecar-scraper/internal/config"
	"ontimecar-scraper/internal/mangle"
)

// EngineSink defines the minimal interface we need from the journal.
type EngineSink interface {
	AddFacts(ctx context.Context, facts []mangle.Fact) error
}

// Status is the manager's health snapshot.
type Status struct {
	BrowserInitialized bool         `json:"browserInitialized"`
	ActiveSessions     int          `json:"activeSessions"`
	ActiveLeases       int          `json:"activeLeases"`
	GateWaitMs         int64        `json:"gateWaitMs"`
	Session            *SessionInfo `json:"session,omitempty"`
}

// SessionManager owns the browser, the one shared Session and the busy gate.
type SessionManager struct {
	cfg     config.Config
	factory ContextFactory
	gate    *Gate
	engine  EngineSink
	logger  *slog.Logger

	mu         sync.Mutex
	session    *Session
	generation int
	leases     int
}

// NewSessionManager wires a manager. A nil factory means a Rod-backed one.
func NewSessionManager(cfg config.Config, factory ContextFactory, sink EngineSink, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	if factory == nil {
		factory = NewRodFactory(cfg.Browser, logger)
	}
	return &SessionManager{
		cfg:     cfg,
		factory: factory,
		gate:    NewGate(cfg.Gate),
		engine:  sink,
		logger:  logger,
	}
}

// Lease is exclusive use of the session for one extraction. Release it exactly
// once; extra calls are ignored.
type Lease struct {
	Page    Page
	Session *Session

	m    *SessionManager
	once sync.Once
}

// Release closes the page and frees the gate. A timeout, cancellation or auth
// failure also discards the session so the next lease starts clean.
func (l *Lease) Release(runErr error) {
	l.once.Do(func() {
		if l.Page != nil {
			if err := l.Page.Close(); err != nil {
				l.m.logger.Debug("close page", "error", err)
			}
		}
		if reason, discard := discardReason(runErr); discard {
			l.m.discard(l.Session, reason)
		}
		l.m.mu.Lock()
		l.m.leases--
		l.m.mu.Unlock()
		l.m.gate.Leave()
	})
}

func discardReason(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	if errors.Is(err, context.Canceled) {
		return "request canceled", true
	}
	switch apperr.KindOf(err) {
	case apperr.KindTimeout:
		return "request timed out", true
	case apperr.KindUpstreamAuth:
		return "authentication lost", true
	}
	return "", false
}

// Acquire passes the busy gate, makes sure an authenticated session exists and
// opens a fresh page in it.
func (m *SessionManager) Acquire(ctx context.Context) (*Lease, error) {
	if err := m.gate.Enter(ctx); err != nil {
		if apperr.KindOf(err) == apperr.KindBusy {
			m.emit(ctx, "gate_busy", m.gate.Window().Milliseconds(), time.Now().UnixMilli())
		}
		return nil, err
	}

	lease, err := m.acquire(ctx)
	if err != nil {
		m.gate.Leave()
		return nil, err
	}
	return lease, nil
}

func (m *SessionManager) acquire(ctx context.Context) (*Lease, error) {
	sess, err := m.currentSession(ctx)
	if err != nil {
		return nil, err
	}

	if err := sess.EnsureAuthenticated(ctx); err != nil {
		if apperr.KindOf(err) == apperr.KindTimeout {
			m.discard(sess, "request ended during login")
		}
		return nil, err
	}

	page, err := sess.bc.Open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			m.discard(sess, "request ended while opening page")
			return nil, apperr.Wrap(apperr.KindTimeout, "session.acquire", ctx.Err())
		}
		return nil, apperr.Wrap(apperr.KindNavigation, "session.acquire", fmt.Errorf("open page: %w", err))
	}

	m.mu.Lock()
	m.leases++
	m.mu.Unlock()
	return &Lease{Page: page, Session: sess, m: m}, nil
}

// currentSession returns the live session, replacing a missing or failed one.
func (m *SessionManager) currentSession(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	if m.session != nil && m.session.State() != StateFailed {
		sess := m.session
		m.mu.Unlock()
		return sess, nil
	}
	stale := m.session
	m.session = nil
	gen := m.generation
	m.mu.Unlock()

	if stale != nil {
		if err := stale.close(); err != nil {
			m.logger.Debug("close failed session", "session_id", stale.ID(), "error", err)
		}
	}

	bc, err := m.factory.NewContext(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperr.Wrap(apperr.KindTimeout, "session.create", ctx.Err())
		}
		return nil, apperr.Wrap(apperr.KindNavigation, "session.create", err)
	}

	sess := newSession(bc, m.loginSettings(), m.logger, func(predicate string, args ...interface{}) {
		m.emit(context.Background(), predicate, args...)
	})

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		_ = sess.close()
		return nil, apperr.New(apperr.KindNavigation, "session.create", "browser was reset while the session was being created")
	}
	m.session = sess
	m.mu.Unlock()

	m.logger.Info("session created", "session_id", sess.ID())
	m.emit(ctx, "session_created", sess.ID(), time.Now().UnixMilli())
	return sess, nil
}

func (m *SessionManager) loginSettings() loginSettings {
	return loginSettings{
		cfg:         m.cfg.Session,
		navTimeout:  m.cfg.Browser.NavigationDeadline(),
		formTimeout: m.cfg.Readiness.Widget(),
		poll:        m.cfg.Readiness.Poll(),
	}
}

// discard drops sess if it is still the current session and closes its context.
func (m *SessionManager) discard(sess *Session, reason string) {
	if sess == nil {
		return
	}
	sess.Invalidate(reason)

	m.mu.Lock()
	if m.session == sess {
		m.session = nil
	}
	m.mu.Unlock()

	if err := sess.close(); err != nil {
		m.logger.Debug("close session context", "session_id", sess.ID(), "error", err)
	}
	m.logger.Warn("session discarded", "session_id", sess.ID(), "reason", reason)
}

// Reset force-discards the session and closes the browser. Both are recreated
// lazily; a lookup in flight fails.
func (m *SessionManager) Reset(ctx context.Context) error {
	return m.teardown(ctx, "reset")
}

// Shutdown closes the session and the browser.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	return m.teardown(ctx, "shutdown")
}

func (m *SessionManager) teardown(ctx context.Context, reason string) error {
	m.mu.Lock()
	sess := m.session
	m.session = nil
	m.generation++
	m.mu.Unlock()

	if sess != nil {
		sess.Invalidate(reason)
		if err := sess.close(); err != nil {
			m.logger.Debug("close session context", "error", err)
		}
	}
	err := m.factory.Close()
	m.emit(ctx, "browser_reset", reason, time.Now().UnixMilli())
	m.logger.Info("browser closed", "reason", reason)
	return err
}

// Status reports browser and session state without touching the browser.
func (m *SessionManager) Status() Status {
	st := Status{
		BrowserInitialized: m.factory.Initialized(),
		GateWaitMs:         m.gate.Window().Milliseconds(),
	}
	m.mu.Lock()
	sess := m.session
	st.ActiveLeases = m.leases
	m.mu.Unlock()

	if sess != nil {
		info := sess.Info()
		st.Session = &info
		st.ActiveSessions = 1
	}
	return st
}

func (m *SessionManager) emit(ctx context.Context, predicate string, args ...interface{}) {
	if m.engine == nil {
		return
	}
	fact := mangle.Fact{Predicate: predicate, Args: args, Timestamp: time.Now()}
	if err := m.engine.AddFacts(context.WithoutCancel(ctx), []mangle.Fact{fact}); err != nil {
		m.logger.Debug("journal write failed", "predicate", predicate, "error", err)
	}
}
