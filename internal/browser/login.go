package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ontimecar-scraper/internal/apperr"

	"github.com/cenkalti/backoff/v4"
)

var errPasswordFieldMissing = errors.New("password field not found")

// EnsureAuthenticated logs the session in unless it already is. Attempts are bounded
// by max_login_attempts with a constant back-off; exhausting them fails the session.
func (s *Session) EnsureAuthenticated(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateAuthenticated:
		s.mu.Unlock()
		return nil
	case StateFailed:
		reason := s.lastFailure
		s.mu.Unlock()
		return apperr.New(apperr.KindUpstreamAuth, "session.login", "session failed: "+reason)
	}
	s.state = StateAuthenticating
	s.mu.Unlock()

	user, pass, err := s.login.cfg.Credentials()
	if err != nil {
		s.fail(err.Error())
		return apperr.Wrap(apperr.KindUpstreamAuth, "session.login", err)
	}

	attempts := s.login.cfg.MaxLoginAttempts
	if attempts < 1 {
		attempts = 1
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.login.cfg.BackoffDelay()), uint64(attempts-1)),
		ctx,
	)

	attempt := 0
	retries := 0
	op := func() error {
		attempt++
		err := s.attemptLogin(ctx, user, pass)
		outcome := "ok"
		if err != nil {
			outcome = err.Error()
		}
		s.emit("login_attempt", s.id, int64(attempt), outcome, time.Now().UnixMilli())
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		retries++
		s.logger.Warn("login attempt failed, retrying", "attempt", attempt, "error", err, "backoff", wait)
	}

	err = backoff.RetryNotify(op, policy, notify)

	s.mu.Lock()
	s.retryCount = retries
	s.mu.Unlock()

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			// Interrupted mid-login: the state is unknown, so the session is unusable.
			s.fail("login interrupted: " + ctxErr.Error())
			return apperr.Wrap(apperr.KindTimeout, "session.login", ctxErr)
		}
		s.fail(err.Error())
		s.logger.Error("login failed", "attempts", attempt, "error", err)
		return apperr.Wrap(apperr.KindUpstreamAuth, "session.login", fmt.Errorf("after %d attempts: %w", attempt, err))
	}

	s.mu.Lock()
	s.state = StateAuthenticated
	s.lastFailure = ""
	s.authenticatedAt = time.Now()
	s.mu.Unlock()
	s.logger.Info("login succeeded", "attempts", attempt, "retries", retries)
	return nil
}

func (s *Session) fail(reason string) {
	s.mu.Lock()
	s.state = StateFailed
	s.lastFailure = reason
	s.mu.Unlock()
	s.emit("session_failed", s.id, reason, time.Now().UnixMilli())
}

// attemptLogin runs one navigate/fill/submit/verify cycle in a throwaway tab. Success
// needs both: the password field is gone and no failure marker is on the page.
func (s *Session) attemptLogin(ctx context.Context, user, pass string) error {
	cfg := s.login.cfg
	page, err := s.bc.Open(ctx)
	if err != nil {
		return fmt.Errorf("open login page: %w", err)
	}
	defer page.Close()

	navCtx, cancel := context.WithTimeout(ctx, s.login.navTimeout)
	err = page.Navigate(navCtx, cfg.LoginURL)
	cancel()
	if err != nil {
		return fmt.Errorf("navigate to login: %w", err)
	}

	Await(ctx, func(ctx context.Context) (bool, error) {
		st, err := page.Eval(ctx, LoginStateJS, cfg.PasswordSelectors, cfg.FailureMarkers)
		if err != nil {
			return false, err
		}
		return jsonBool(st, "passwordForm"), nil
	}, s.login.formTimeout, s.login.poll)

	filled, err := page.Eval(ctx, LoginFillJS, cfg.UsernameSelectors, cfg.PasswordSelectors, user, pass)
	if err != nil {
		return fmt.Errorf("fill credentials: %w", err)
	}
	if !jsonBool(filled, "password") {
		return errPasswordFieldMissing
	}

	submitCtx, cancel := context.WithTimeout(ctx, cfg.SubmitDeadline())
	err = page.WaitNavigation(submitCtx, func() error {
		_, err := page.Eval(submitCtx, LoginSubmitJS, cfg.SubmitSelectors)
		return err
	})
	cancel()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	// Logins that complete over XHR never navigate; the verify step decides.
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("submit credentials: %w", err)
	}

	st, err := page.Eval(ctx, LoginStateJS, cfg.PasswordSelectors, cfg.FailureMarkers)
	if err != nil {
		return fmt.Errorf("verify login: %w", err)
	}
	if marker := jsonString(st.Get("failure")); marker != "" {
		return fmt.Errorf("login rejected: page shows %q", marker)
	}
	if jsonBool(st, "passwordForm") {
		return errors.New("login form still present after submit")
	}
	return nil
}
