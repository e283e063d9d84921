package browser

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"ontimecar-scraper/internal/apperr"
	"ontimecar-scraper/internal/mangle"
)

type mockEngineSink struct {
	mu    sync.Mutex
	facts []mangle.Fact
}

func (m *mockEngineSink) AddFacts(ctx context.Context, facts []mangle.Fact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.facts = append(m.facts, facts...)
	return nil
}

func (m *mockEngineSink) predicates() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int)
	for _, f := range m.facts {
		out[f.Predicate]++
	}
	return out
}

func okFactory() *fakeFactory {
	return &fakeFactory{newPage: func(int) *fakePage { return loginPage(true, true) }}
}

func TestAcquireRelease(t *testing.T) {
	f := okFactory()
	sink := &mockEngineSink{}
	m := NewSessionManager(testConfig(), f, sink, slog.Default())

	lease, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if lease.Session.State() != StateAuthenticated {
		t.Errorf("expected authenticated session, got %s", lease.Session.State())
	}

	st := m.Status()
	if !st.BrowserInitialized || st.ActiveSessions != 1 || st.ActiveLeases != 1 {
		t.Errorf("unexpected status while leased: %+v", st)
	}

	page := lease.Page.(*fakePage)
	lease.Release(nil)
	lease.Release(nil)
	if !page.isClosed() {
		t.Error("lease page must be closed on release")
	}
	if st := m.Status(); st.ActiveLeases != 0 {
		t.Errorf("expected no active leases, got %d", st.ActiveLeases)
	}

	// The session is reused: one context, one login page, two lease pages.
	second, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	second.Release(nil)
	contexts, _, pages := f.counts()
	if contexts != 1 || pages != 3 {
		t.Errorf("expected 1 context and 3 pages, got %d and %d", contexts, pages)
	}

	got := sink.predicates()
	if got["session_created"] != 1 || got["login_attempt"] != 1 {
		t.Errorf("unexpected journal facts %v", got)
	}
}

func TestReleaseAfterTimeoutDiscardsSession(t *testing.T) {
	f := okFactory()
	m := NewSessionManager(testConfig(), f, nil, slog.Default())

	lease, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	sess := lease.Session
	lease.Release(apperr.Wrap(apperr.KindNavigation, "extract", context.DeadlineExceeded))

	if sess.State() != StateFailed {
		t.Errorf("expected discarded session to be failed, got %s", sess.State())
	}
	if st := m.Status(); st.Session != nil {
		t.Errorf("expected no current session, got %+v", st.Session)
	}
	if _, closed, _ := f.counts(); closed != 1 {
		t.Errorf("expected the browsing context to be closed, got %d closes", closed)
	}

	next, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire after discard: %v", err)
	}
	defer next.Release(nil)
	if next.Session.ID() == sess.ID() {
		t.Error("expected a fresh session after a timeout")
	}
	if contexts, _, _ := f.counts(); contexts != 2 {
		t.Errorf("expected a second browsing context, got %d", contexts)
	}
}

func TestReleaseWithBusinessErrorKeepsSession(t *testing.T) {
	f := okFactory()
	m := NewSessionManager(testConfig(), f, nil, slog.Default())

	lease, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	lease.Release(apperr.New(apperr.KindWidgetNotReady, "extract", "table never rendered"))

	st := m.Status()
	if st.Session == nil || st.Session.State != StateAuthenticated {
		t.Errorf("expected the authenticated session to survive, got %+v", st.Session)
	}
}

func TestAcquireLoginFailureFreesGate(t *testing.T) {
	f := &fakeFactory{newPage: func(int) *fakePage { return loginPage(true, false) }}
	cfg := testConfig()
	cfg.Gate.WaitWindow = "10ms"
	m := NewSessionManager(cfg, f, nil, slog.Default())

	_, err := m.Acquire(context.Background())
	if apperr.KindOf(err) != apperr.KindUpstreamAuth {
		t.Fatalf("expected upstream_auth, got %v", err)
	}
	st := m.Status()
	if st.Session == nil || st.Session.State != StateFailed {
		t.Fatalf("expected failed session in status, got %+v", st.Session)
	}
	if st.Session.RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", st.Session.RetryCount)
	}

	// The gate was released, so a short-window caller is not told to wait. The failed
	// session is replaced by a fresh one.
	_, err = m.Acquire(context.Background())
	if apperr.KindOf(err) == apperr.KindBusy {
		t.Fatal("gate leaked after a failed acquire")
	}
	if contexts, closed, _ := f.counts(); contexts != 2 || closed != 1 {
		t.Errorf("expected failed session replaced, got contexts=%d closed=%d", contexts, closed)
	}
}

func TestAcquireBusyAfterWindow(t *testing.T) {
	cfg := testConfig()
	cfg.Gate.WaitWindow = "20ms"
	sink := &mockEngineSink{}
	m := NewSessionManager(cfg, okFactory(), sink, slog.Default())

	lease, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer lease.Release(nil)

	_, err = m.Acquire(context.Background())
	if apperr.KindOf(err) != apperr.KindBusy {
		t.Fatalf("expected service_busy, got %v", err)
	}
	if apperr.RetryAfterOf(err) != 7*time.Second {
		t.Errorf("expected configured retry hint, got %v", apperr.RetryAfterOf(err))
	}
	if sink.predicates()["gate_busy"] != 1 {
		t.Error("expected a gate_busy fact")
	}
}

func TestAcquireWaitsForRelease(t *testing.T) {
	cfg := testConfig()
	cfg.Gate.WaitWindow = "10s"
	m := NewSessionManager(cfg, okFactory(), nil, slog.Default())

	a, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("A acquire: %v", err)
	}

	done := make(chan *Lease, 1)
	go func() {
		b, err := m.Acquire(context.Background())
		if err != nil {
			t.Errorf("B acquire: %v", err)
			done <- nil
			return
		}
		done <- b
	}()

	select {
	case <-done:
		t.Fatal("B acquired while A held the lease")
	case <-time.After(100 * time.Millisecond):
	}
	a.Release(nil)

	select {
	case b := <-done:
		if b != nil {
			if m.Status().ActiveLeases != 1 {
				t.Errorf("expected exactly one active lease")
			}
			b.Release(nil)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("B never acquired after A released")
	}
}

func TestAcquireBrowserStartFailure(t *testing.T) {
	f := okFactory()
	f.err = errors.New("chrome not found")
	m := NewSessionManager(testConfig(), f, nil, slog.Default())

	_, err := m.Acquire(context.Background())
	if apperr.KindOf(err) != apperr.KindNavigation {
		t.Fatalf("expected upstream_navigation, got %v", err)
	}
	f.mu.Lock()
	f.err = nil
	f.mu.Unlock()
	lease, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("gate must be free after a start failure: %v", err)
	}
	lease.Release(nil)
}

func TestResetDiscardsSessionAndBrowser(t *testing.T) {
	f := okFactory()
	sink := &mockEngineSink{}
	m := NewSessionManager(testConfig(), f, sink, slog.Default())

	lease, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	sess := lease.Session
	lease.Release(nil)

	if err := m.Reset(context.Background()); err != nil {
		t.Fatalf("reset: %v", err)
	}
	st := m.Status()
	if st.BrowserInitialized || st.Session != nil {
		t.Errorf("expected nothing running after reset, got %+v", st)
	}
	if sess.State() != StateFailed {
		t.Errorf("expected reset session to be failed, got %s", sess.State())
	}
	if sink.predicates()["browser_reset"] != 1 {
		t.Error("expected a browser_reset fact")
	}

	lease, err = m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire after reset: %v", err)
	}
	defer lease.Release(nil)
	if lease.Session.ID() == sess.ID() {
		t.Error("expected a new session after reset")
	}
}

func TestShutdownWithoutBrowser(t *testing.T) {
	f := okFactory()
	m := NewSessionManager(testConfig(), f, nil, slog.Default())
	if err := m.Shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
	if f.closed != 1 {
		t.Errorf("expected factory close, got %d", f.closed)
	}
}

func TestSnapshotTable(t *testing.T) {
	html := `<table><tbody><tr><td>1</td></tr></tbody></table>`
	p := newFakePage().returns(SnapshotTableJS, html)
	got, err := SnapshotTable(context.Background(), p, []string{"tbody"})
	if err != nil || got != html {
		t.Errorf("SnapshotTable = %q, %v", got, err)
	}

	empty, err := SnapshotTable(context.Background(), newFakePage(), nil)
	if err != nil || empty != "" {
		t.Errorf("expected empty snapshot, got %q, %v", empty, err)
	}

	broken := newFakePage().on(SnapshotTableJS, func([]interface{}) (interface{}, error) {
		return nil, errors.New("target closed")
	})
	if _, err := SnapshotTable(context.Background(), broken, nil); err == nil {
		t.Error("expected error from a closed target")
	}
}

func TestLoginFormPresent(t *testing.T) {
	p := loginPage(true, true)
	present, err := LoginFormPresent(context.Background(), p, []string{`input[type="password"]`})
	if err != nil || !present {
		t.Errorf("expected login form, got %v, %v", present, err)
	}
	gone, err := LoginFormPresent(context.Background(), loginPage(false, true), nil)
	if err != nil || gone {
		t.Errorf("expected no login form, got %v, %v", gone, err)
	}
}
