package browser

import (
	"context"
	"time"

	"ontimecar-scraper/internal/apperr"
	"ontimecar-scraper/internal/config"

	"golang.org/x/sync/semaphore"
)

// Gate serializes access to the shared session. A caller blocks for at most the
// wait window, then gets service_busy with a retry hint.
// Arrival order is not service order.
type Gate struct {
	sem        *semaphore.Weighted
	wait       time.Duration
	retryAfter time.Duration
}

func NewGate(cfg config.GateConfig) *Gate {
	return &Gate{
		sem:        semaphore.NewWeighted(1),
		wait:       cfg.Wait(),
		retryAfter: cfg.RetryAfterHint(),
	}
}

// Window returns how long Enter waits before giving up.
func (g *Gate) Window() time.Duration { return g.wait }

// Enter takes the gate or returns a service_busy error carrying a retry hint.
// If ctx ends first its error is returned instead.
func (g *Gate) Enter(ctx context.Context) error {
	if g.sem.TryAcquire(1) {
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, g.wait)
	defer cancel()
	if err := g.sem.Acquire(waitCtx, 1); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return apperr.Wrap(apperr.KindTimeout, "gate.enter", ctxErr)
		}
		return apperr.Busy("gate.enter", g.retryAfter)
	}
	return nil
}

// Leave frees the gate. Call exactly once per successful Enter.
func (g *Gate) Leave() {
	g.sem.Release(1)
}
